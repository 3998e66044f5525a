package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"hashland/pkg/logger"
	"hashland/pkg/search/parser"
	"hashland/pkg/stremio"
)

const (
	DefaultTimeout = 20 * time.Second

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	referer   = "https://web.stremio.com/"

	maxBodyBytes = 8 << 20
)

// Client queries one Stremio-compatible stream index over HTTP.
type Client struct {
	name    string
	baseURL string
	config  string
	client  *http.Client
}

// NewClient creates a client for the index at baseURL. config is the
// provider-specific filter string and may be empty.
func NewClient(name, baseURL, config string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	// Copy so the redirect policy does not leak into a shared client.
	hc := *httpClient
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		config:  strings.Trim(config, "/"),
		client:  &hc,
	}
}

// Name returns the configured provider name
func (c *Client) Name() string {
	return c.name
}

// StreamURL builds <base>[/<config>]/stream/<kind>/<id>[:<season>:<episode>].json
func (c *Client) StreamURL(q Query) string {
	id := q.ExternalID
	if q.Episodic() {
		id = fmt.Sprintf("%s:%d:%d", id, q.Season, q.Episode)
	}
	u := c.baseURL
	if c.config != "" {
		u += "/" + c.config
	}
	return u + "/stream/" + q.Kind + "/" + id + ".json"
}

// Search fetches and normalizes candidates for q.
func (c *Client) Search(ctx context.Context, q Query) ([]Candidate, error) {
	apiURL := c.StreamURL(q)
	logger.Debug("Provider request", "provider", c.name, "url", apiURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", c.name, ErrUpstreamError, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", referer)
	req.Header.Set("Origin", strings.TrimSuffix(referer, "/"))

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w: %v", c.name, ErrUpstreamError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return nil, &BlockedError{Provider: c.name, StatusCode: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	body, err := charset.NewReader(io.LimitReader(resp.Body, maxBodyBytes), contentType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: decode charset: %v", c.name, ErrUpstreamError, err)
	}
	br := bufio.NewReader(body)

	if strings.Contains(strings.ToLower(contentType), "text/html") || looksLikeMarkup(br) {
		return nil, &BlockedError{Provider: c.name, StatusCode: resp.StatusCode, PageTitle: pageTitle(br)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: %w: status %d", c.name, ErrUpstreamError, resp.StatusCode)
	}

	var payload stremio.StreamResponse
	if err := json.NewDecoder(br).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%s: %w: parse response: %v", c.name, ErrUpstreamError, err)
	}

	candidates := Normalize(c.name, payload.Streams)
	logger.Debug("Provider response", "provider", c.name, "streams", len(payload.Streams), "candidates", len(candidates))
	return candidates, nil
}

// Normalize converts wire streams into candidates, dropping entries without
// an info-hash or URL. When both are present the info-hash wins.
func Normalize(providerName string, streams []stremio.Stream) []Candidate {
	out := make([]Candidate, 0, len(streams))
	for _, s := range streams {
		hash := strings.ToLower(strings.TrimSpace(s.InfoHash))
		link := strings.TrimSpace(s.URL)
		if hash == "" && link == "" {
			continue
		}
		if hash != "" {
			link = ""
		}
		text := s.DisplayText()
		info := parser.ParseStream(s.Name, text)
		out = append(out, Candidate{
			Provider: providerName,
			Name:     s.Name,
			Title:    text,
			Quality:  info.Quality,
			Size:     info.Size,
			InfoHash: hash,
			URL:      link,
			FileIdx:  s.FileIdx,
			Filename: s.Filename(),
			Tags:     info.Tags,
		})
	}
	return out
}

// looksLikeMarkup reports whether the first non-space byte is '<'.
func looksLikeMarkup(br *bufio.Reader) bool {
	for i := 1; i <= 512; i++ {
		peek, err := br.Peek(i)
		if len(peek) < i {
			return false
		}
		b := peek[i-1]
		if b == ' ' || b == '\t' || b == '\r' || b == '\n' || b == 0xEF || b == 0xBB || b == 0xBF {
			if err != nil {
				return false
			}
			continue
		}
		return b == '<'
	}
	return false
}

// pageTitle returns the <title> text of an HTML document, if any.
func pageTitle(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 64<<10))
	z := html.NewTokenizer(bytes.NewReader(data))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			if string(name) != "title" {
				continue
			}
			if z.Next() == html.TextToken {
				return strings.TrimSpace(string(z.Text()))
			}
			return ""
		}
	}
}

// Describe is a short label for logs.
func Describe(c Candidate) string {
	ref := "url"
	if c.InfoHash != "" {
		ref = "hash"
	}
	return c.Provider + "/" + c.Quality + "/" + ref + "/" + strconv.Quote(parser.ReleaseLine(c.Title))
}
