// Package resolver turns a catalog title into one playable stream by querying
// stream indexes in order and optionally unblocking the pick through debrid.
package resolver

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
	"golang.org/x/sync/singleflight"

	"hashland/pkg/logger"
	"hashland/pkg/provider"
	"hashland/pkg/search/parser"
)

var (
	ErrIdentifierNotFound = errors.New("no external identifier for title")
	ErrNotFound           = errors.New("no streams found")
	ErrInvalidRequest     = errors.New("invalid resolution request")
)

// Result kinds.
const (
	KindURL    = "url"    // direct address from the index
	KindDebrid = "debrid" // address produced by the unblocking service
	KindMagnet = "magnet" // content-hash reference left for the client to unblock
)

// Translator maps a catalog id to the id stream indexes expect.
type Translator interface {
	IMDbID(ctx context.Context, titleID, kind string) (string, error)
}

// Unblocker exchanges a magnet for a servable address.
type Unblocker interface {
	Unblock(ctx context.Context, magnet string) (string, error)
}

// Request is one resolution request.
type Request struct {
	TitleID           string `json:"titleId"`
	MediaKind         string `json:"mediaKind"`
	Title             string `json:"title,omitempty"`
	Season            *int   `json:"season,omitempty"`
	Episode           *int   `json:"episode,omitempty"`
	PreferredProvider string `json:"preferredProvider,omitempty"`
}

// Validate checks the request and normalizes the media kind ("tv" is accepted
// for series).
func (r *Request) Validate() error {
	r.TitleID = strings.TrimSpace(r.TitleID)
	if r.TitleID == "" {
		return fmt.Errorf("%w: titleId is required", ErrInvalidRequest)
	}
	switch strings.ToLower(strings.TrimSpace(r.MediaKind)) {
	case provider.KindMovie:
		r.MediaKind = provider.KindMovie
		if r.Season != nil || r.Episode != nil {
			return fmt.Errorf("%w: season and episode are only valid for series", ErrInvalidRequest)
		}
	case provider.KindSeries, "tv":
		r.MediaKind = provider.KindSeries
		if r.Season == nil || r.Episode == nil {
			return fmt.Errorf("%w: season and episode are required for series", ErrInvalidRequest)
		}
		if *r.Season < 0 || *r.Episode < 0 {
			return fmt.Errorf("%w: season and episode must not be negative", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: mediaKind must be movie or series", ErrInvalidRequest)
	}
	return nil
}

func (r Request) key() string {
	k := r.MediaKind + "|" + r.TitleID + "|" + strings.ToLower(r.PreferredProvider)
	if r.Season != nil && r.Episode != nil {
		k += fmt.Sprintf("|%d:%d", *r.Season, *r.Episode)
	}
	return k
}

// Result is a resolved stream.
type Result struct {
	Kind     string `json:"kind"`
	Type     string `json:"type"` // "url" or "magnet": how the client plays it
	URL      string `json:"url,omitempty"`
	Magnet   string `json:"magnet,omitempty"`
	Name     string `json:"name,omitempty"`
	Quality  string `json:"quality,omitempty"`
	Size     string `json:"size,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// Resolver owns the provider list and the optional unblocker.
type Resolver struct {
	translator Translator
	providers  []provider.Provider
	unblocker  Unblocker
	group      singleflight.Group
}

// New creates a Resolver. A nil unblocker disables debrid unblocking.
func New(translator Translator, providers []provider.Provider, unblocker Unblocker) *Resolver {
	return &Resolver{
		translator: translator,
		providers:  providers,
		unblocker:  unblocker,
	}
}

// Providers returns provider names in default order.
func (r *Resolver) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// Resolve returns the best stream for req. Identical concurrent requests
// share one resolution.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	key := req.key()

	for {
		ch := r.group.DoChan(key, func() (interface{}, error) {
			return r.resolve(ctx, req)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				// The flight belonged to a caller that gave up; try again on our own context.
				if isContextErr(res.Err) && ctx.Err() == nil {
					logger.Debug("Shared resolution was cancelled, retrying", "key", key)
					continue
				}
				return nil, res.Err
			}
			out := *res.Val.(*Result)
			return &out, nil
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (r *Resolver) resolve(ctx context.Context, req Request) (*Result, error) {
	logger.Info("Resolving stream", "title", req.Title, "id", req.TitleID, "kind", req.MediaKind)

	externalID, err := r.externalID(ctx, req)
	if err != nil {
		return nil, err
	}

	q := provider.Query{ExternalID: externalID, Kind: req.MediaKind}
	if req.Season != nil && req.Episode != nil {
		q.Season, q.Episode = *req.Season, *req.Episode
	}

	for _, p := range r.ordered(req.PreferredProvider) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candidates, err := p.Search(ctx, q)
		if err != nil {
			if isContextErr(err) && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("Provider failed, trying next", "provider", p.Name(), "err", err)
			continue
		}
		if len(candidates) == 0 {
			logger.Info("Provider returned no streams", "provider", p.Name(), "id", externalID)
			continue
		}

		best := pickBest(candidates)
		logger.Info("Selected stream", "provider", p.Name(), "stream", provider.Describe(best))
		res, err := r.finish(ctx, best)
		if err != nil {
			return nil, err
		}
		return res, nil
	}

	return nil, ErrNotFound
}

func (r *Resolver) externalID(ctx context.Context, req Request) (string, error) {
	if strings.HasPrefix(req.TitleID, "tt") {
		return req.TitleID, nil
	}
	if r.translator == nil {
		return "", ErrIdentifierNotFound
	}
	id, err := r.translator.IMDbID(ctx, req.TitleID, req.MediaKind)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.Warn("Identifier translation failed", "id", req.TitleID, "err", err)
		return "", fmt.Errorf("%w: %v", ErrIdentifierNotFound, err)
	}
	if id == "" {
		return "", ErrIdentifierNotFound
	}
	return id, nil
}

// ordered puts the preferred provider first, the rest in default order.
func (r *Resolver) ordered(preferred string) []provider.Provider {
	if preferred == "" {
		return r.providers
	}
	out := make([]provider.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if strings.EqualFold(p.Name(), preferred) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		logger.Debug("Preferred provider not configured", "provider", preferred)
	}
	for _, p := range r.providers {
		if !strings.EqualFold(p.Name(), preferred) {
			out = append(out, p)
		}
	}
	return out
}

// pickBest returns the first candidate with a 1080p, 2160p or 4K marker,
// else the first candidate.
func pickBest(candidates []provider.Candidate) provider.Candidate {
	for _, c := range candidates {
		if parser.IsPreferredQuality(c.Name) {
			return c
		}
	}
	return candidates[0]
}

func (r *Resolver) finish(ctx context.Context, c provider.Candidate) (*Result, error) {
	base := Result{Name: c.Name, Quality: c.Quality, Size: c.Size, Provider: c.Provider}

	if c.InfoHash != "" && r.unblocker != nil {
		link, err := r.unblocker.Unblock(ctx, Magnet(c.InfoHash, ""))
		switch {
		case err == nil:
			res := base
			res.Kind, res.Type, res.URL = KindDebrid, KindURL, link
			return &res, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			logger.Warn("Debrid unblock failed, falling back", "hash", c.InfoHash, "err", err)
		}
	}

	if c.URL != "" {
		res := base
		res.Kind, res.Type, res.URL = KindURL, KindURL, c.URL
		return &res, nil
	}

	name := c.Filename
	if name == "" {
		name = "video"
	}
	res := base
	res.Kind, res.Type, res.Magnet = KindMagnet, KindMagnet, Magnet(c.InfoHash, name)
	return &res, nil
}

// Magnet builds a magnet URI for a hex info-hash with an optional display name.
func Magnet(infoHash, displayName string) string {
	var h metainfo.Hash
	if len(infoHash) == 2*len(h) {
		if _, err := hex.DecodeString(infoHash); err == nil && h.FromHexString(infoHash) == nil {
			return metainfo.Magnet{InfoHash: h, DisplayName: displayName}.String()
		}
	}
	// Not a hex v1 hash (e.g. base32); pass it through unchanged.
	m := "magnet:?xt=urn:btih:" + infoHash
	if displayName != "" {
		m += "&dn=" + url.QueryEscape(displayName)
	}
	return m
}
