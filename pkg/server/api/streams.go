package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"hashland/pkg/logger"
	"hashland/pkg/resolver"
	"hashland/pkg/tmdb"
)

// ResolveRequest is the body of POST /streams/resolve. tmdbId and mediaType
// are accepted as aliases of titleId and mediaKind.
type ResolveRequest struct {
	TitleID           string      `json:"titleId"`
	TMDBID            interface{} `json:"tmdbId"`
	MediaKind         string      `json:"mediaKind"`
	MediaType         string      `json:"mediaType"`
	Title             string      `json:"title"`
	Season            *int        `json:"season"`
	Episode           *int        `json:"episode"`
	PreferredProvider string      `json:"preferredProvider"`
}

func (b ResolveRequest) toRequest() resolver.Request {
	req := resolver.Request{
		TitleID:           b.TitleID,
		MediaKind:         b.MediaKind,
		Title:             b.Title,
		Season:            b.Season,
		Episode:           b.Episode,
		PreferredProvider: b.PreferredProvider,
	}
	if req.TitleID == "" {
		switch v := b.TMDBID.(type) {
		case string:
			req.TitleID = v
		case json.Number:
			req.TitleID = v.String()
		}
	}
	if req.MediaKind == "" {
		req.MediaKind = b.MediaType
	}
	return req
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var body ResolveRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request")
		return
	}
	req := body.toRequest()
	u := currentUser(r)
	logger.Info("Stream resolve requested", "user", u.ID, "title", req.Title, "id", req.TitleID)

	ctx, cancel := context.WithTimeout(r.Context(), s.config.ResolveTimeout())
	defer cancel()

	res, err := s.resolver.Resolve(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, resolver.ErrInvalidRequest):
			writeFailure(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, resolver.ErrNotFound), errors.Is(err, resolver.ErrIdentifierNotFound):
			logger.Info("No stream resolved", "id", req.TitleID, "reason", err)
			writeFailure(w, http.StatusNotFound, "No streams found")
		case errors.Is(err, context.DeadlineExceeded):
			writeFailure(w, http.StatusGatewayTimeout, "Stream resolution timed out")
		case errors.Is(err, context.Canceled):
			logger.Debug("Client abandoned stream resolve", "id", req.TitleID)
		default:
			logger.Error("Stream resolve failed", "id", req.TitleID, "err", err)
			writeFailure(w, http.StatusBadGateway, "Stream resolution failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "stream": res})
}

// handleTMDB forwards /tmdb/<path> to the metadata catalog.
func (s *Server) handleTMDB(w http.ResponseWriter, r *http.Request) {
	apiPath := strings.TrimPrefix(r.URL.Path, "/tmdb")

	resp, err := s.tmdb.Proxy(r.Context(), apiPath, r.URL.Query())
	if err != nil {
		switch {
		case errors.Is(err, tmdb.ErrNotConfigured):
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Metadata service not configured"})
		case errors.Is(err, tmdb.ErrBadPath):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid path"})
		default:
			logger.Warn("TMDB proxy failed", "path", apiPath, "err", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "Metadata service unavailable"})
		}
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Debug("TMDB proxy copy failed", "path", apiPath, "err", err)
	}
}
