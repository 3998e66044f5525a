package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"hashland/pkg/logger"
)

const DefaultBaseURL = "https://api.themoviedb.org/3"

var (
	ErrNotConfigured = errors.New("TMDB API key not configured")
	ErrNotFound      = errors.New("TMDB object not found")
	ErrNoIMDbID      = errors.New("TMDB object has no IMDb id")
	ErrBadPath       = errors.New("invalid TMDB path")
)

// Client for TheMovieDB API
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a new TMDB client
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// ExternalIDsResponse represents the response from /{type}/{id}/external_ids
type ExternalIDsResponse struct {
	ID     int    `json:"id"`
	IMDbID string `json:"imdb_id"`
	TVDBID int    `json:"tvdb_id"`
}

// MediaType maps a media kind to the TMDB path segment.
func MediaType(kind string) string {
	switch kind {
	case "series", "tv":
		return "tv"
	default:
		return "movie"
	}
}

// newRequest builds a GET request carrying the API key. v4 read tokens go in
// the Authorization header, v3 keys in the api_key parameter.
func (c *Client) newRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	if params == nil {
		params = url.Values{}
	}
	bearer := strings.Count(c.apiKey, ".") == 2
	if !bearer {
		params.Set("api_key", c.apiKey)
	}
	reqURL := c.baseURL + endpoint
	if q := params.Encode(); q != "" {
		reqURL += "?" + q
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if bearer {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// GetExternalIDs retrieves external IDs for a specific TMDB object
// kind: "movie", "series" or "tv"
func (c *Client) GetExternalIDs(ctx context.Context, tmdbID, kind string) (*ExternalIDsResponse, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	endpoint := fmt.Sprintf("/%s/%s/external_ids", MediaType(kind), url.PathEscape(tmdbID))
	req, err := c.newRequest(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("TMDB external_ids request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("TMDB returned status: %d", resp.StatusCode)
	}

	var result ExternalIDsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode TMDB response: %w", err)
	}

	return &result, nil
}

// IMDbID translates a TMDB id to the IMDb id stream indexes use.
func (c *Client) IMDbID(ctx context.Context, tmdbID, kind string) (string, error) {
	ids, err := c.GetExternalIDs(ctx, tmdbID, kind)
	if err != nil {
		return "", err
	}
	if ids.IMDbID == "" {
		return "", ErrNoIMDbID
	}
	logger.Debug("Resolved IMDb ID from TMDB", "tmdb", tmdbID, "kind", kind, "imdb", ids.IMDbID)
	return ids.IMDbID, nil
}

// Proxy forwards a GET for apiPath with the server-side key injected.
// The caller owns the response body.
func (c *Client) Proxy(ctx context.Context, apiPath string, query url.Values) (*http.Response, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	clean := path.Clean("/" + apiPath)
	if clean == "/" || strings.Contains(apiPath, "..") {
		return nil, ErrBadPath
	}

	params := url.Values{}
	for k, vs := range query {
		if k == "api_key" {
			continue
		}
		params[k] = vs
	}

	req, err := c.newRequest(ctx, clean, params)
	if err != nil {
		return nil, err
	}
	return c.client.Do(req)
}
