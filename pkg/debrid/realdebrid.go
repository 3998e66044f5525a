package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"hashland/pkg/logger"
)

const DefaultRealDebridURL = "https://api.real-debrid.com/rest/1.0"

// RealDebrid is a Service backed by the Real-Debrid REST API.
type RealDebrid struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRealDebrid creates a client authenticated with token.
func NewRealDebrid(baseURL, token string, httpClient *http.Client) *RealDebrid {
	if baseURL == "" {
		baseURL = DefaultRealDebridURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &RealDebrid{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  httpClient,
	}
}

type rdAddResponse struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

type rdFile struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Selected int    `json:"selected"`
}

type rdInfo struct {
	ID       string   `json:"id"`
	Filename string   `json:"filename"`
	Status   string   `json:"status"`
	Progress float64  `json:"progress"`
	Files    []rdFile `json:"files"`
	Links    []string `json:"links"`
}

type rdUnrestrict struct {
	Download string `json:"download"`
	Filename string `json:"filename"`
}

// Submit adds a magnet to the account.
func (r *RealDebrid) Submit(ctx context.Context, magnet string) (*Task, error) {
	form := url.Values{"magnet": {magnet}}
	resp, err := r.do(ctx, http.MethodPost, "/torrents/addMagnet", form)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrSubmissionRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var added rdAddResponse
	if err := json.NewDecoder(resp.Body).Decode(&added); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrSubmissionRejected, err)
	}
	if added.ID == "" {
		return nil, fmt.Errorf("%w: empty task id", ErrSubmissionRejected)
	}
	return &Task{ID: added.ID}, nil
}

// Status fetches the task and selects all files when the service is waiting
// for a selection.
func (r *RealDebrid) Status(ctx context.Context, id string) (*Task, error) {
	resp, err := r.do(ctx, http.MethodGet, "/torrents/info/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("torrent info: status %d", resp.StatusCode)
	}

	var info rdInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("torrent info: %w", err)
	}

	if info.Status == "waiting_files_selection" {
		if err := r.selectAll(ctx, id); err != nil {
			logger.Warn("Real-Debrid file selection failed", "id", id, "err", err)
		}
	}

	task := &Task{ID: id, Progress: int(info.Progress)}
	if len(info.Links) == 0 {
		return task, nil
	}

	// Links are issued for selected files in file order.
	i := 0
	for _, f := range info.Files {
		if f.Selected != 1 {
			continue
		}
		file := File{Name: path.Base(f.Path), Size: f.Bytes}
		if i < len(info.Links) {
			file.Link = info.Links[i]
		}
		i++
		task.Files = append(task.Files, file)
	}
	return task, nil
}

func (r *RealDebrid) selectAll(ctx context.Context, id string) error {
	resp, err := r.do(ctx, http.MethodPost, "/torrents/selectFiles/"+url.PathEscape(id), url.Values{"files": {"all"}})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("select files: status %d", resp.StatusCode)
	}
	return nil
}

// Unrestrict exchanges a hoster link for a direct download address.
func (r *RealDebrid) Unrestrict(ctx context.Context, link string) (string, error) {
	resp, err := r.do(ctx, http.MethodPost, "/unrestrict/link", url.Values{"link": {link}})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unrestrict: status %d", resp.StatusCode)
	}
	var out rdUnrestrict
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("unrestrict: %w", err)
	}
	if out.Download == "" {
		return "", ErrNoPlayableFile
	}
	return out.Download, nil
}

func (r *RealDebrid) do(ctx context.Context, method, endpoint string, form url.Values) (*http.Response, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return r.client.Do(req)
}
