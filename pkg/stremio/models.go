// Package stremio holds the wire types of the Stremio stream-index protocol
// spoken by upstream providers.
package stremio

// StreamResponse represents the response to a stream request
type StreamResponse struct {
	Streams []Stream `json:"streams"`
}

// Stream represents a single stream option
type Stream struct {
	// Display name, usually "<addon>\n<quality>"
	Name string `json:"name,omitempty"`

	// Release name plus seeders/size line
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	// Exactly one of these is expected
	InfoHash string `json:"infoHash,omitempty"`
	URL      string `json:"url,omitempty"`

	FileIdx       *int           `json:"fileIdx,omitempty"`
	Sources       []string       `json:"sources,omitempty"`
	BehaviorHints *BehaviorHints `json:"behaviorHints,omitempty"`
}

// BehaviorHints provides hints to Stremio about stream behavior
type BehaviorHints struct {
	NotWebReady bool   `json:"notWebReady,omitempty"`
	BingeGroup  string `json:"bingeGroup,omitempty"`
	VideoSize   int64  `json:"videoSize,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

// DisplayText returns the title, or the description some addons use instead.
func (s Stream) DisplayText() string {
	if s.Title != "" {
		return s.Title
	}
	return s.Description
}

// Filename returns the filename hint, if any.
func (s Stream) Filename() string {
	if s.BehaviorHints == nil {
		return ""
	}
	return s.BehaviorHints.Filename
}
