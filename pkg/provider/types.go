package provider

import (
	"context"

	"hashland/pkg/search/parser"
)

// Media kinds understood by stream indexes.
const (
	KindMovie  = "movie"
	KindSeries = "series"
)

// Query identifies the content to look up.
type Query struct {
	ExternalID string // provider-facing id, e.g. tt0133093
	Kind       string // KindMovie or KindSeries
	Season     int
	Episode    int
}

// Episodic reports whether the query carries a season/episode suffix.
func (q Query) Episodic() bool {
	return q.Kind == KindSeries
}

// Candidate is one normalized stream result. Exactly one of InfoHash and URL is set.
type Candidate struct {
	Provider string      `json:"provider"`
	Name     string      `json:"name"`
	Title    string      `json:"title"`
	Quality  string      `json:"quality"`
	Size     string      `json:"size"`
	InfoHash string      `json:"infoHash,omitempty"`
	URL      string      `json:"url,omitempty"`
	FileIdx  *int        `json:"fileIdx,omitempty"`
	Filename string      `json:"filename,omitempty"`
	Tags     parser.Tags `json:"tags"`
}

// Provider is an upstream stream index.
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]Candidate, error)
}
