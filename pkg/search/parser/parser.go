// Package parser extracts display metadata from the free-text fields stream
// indexes attach to each result.
package parser

import (
	"regexp"
	"strings"

	"github.com/MunifTanjim/go-ptt"
)

const (
	DefaultQuality = "1080p"
	DefaultSize    = "Unknown"
)

var (
	qualityPattern = regexp.MustCompile(`\d{3,4}p`)
	sizePattern    = regexp.MustCompile(`💾\s*([\d.]+\s*GB)`)
)

// StreamInfo is the metadata derived from one index entry.
type StreamInfo struct {
	Quality string // resolution token found in the name, e.g. "1080p"
	Size    string // size token found in the title, e.g. "4.2 GB"
	Tags    Tags
}

// Tags are best-effort release attributes parsed from the release name line.
type Tags struct {
	Source string   `json:"source,omitempty"`
	Codec  string   `json:"codec,omitempty"`
	HDR    []string `json:"hdr,omitempty"`
	Group  string   `json:"group,omitempty"`
}

// ParseStream extracts quality and size from an index entry.
// Quality comes from name, size from title; both fall back to fixed defaults.
func ParseStream(name, title string) StreamInfo {
	info := StreamInfo{
		Quality: Quality(name),
		Size:    Size(title),
	}
	if release := ReleaseLine(title); release != "" {
		info.Tags = ParseReleaseTags(release)
	}
	return info
}

// Quality returns the first NNNp token in name, or DefaultQuality.
func Quality(name string) string {
	if m := qualityPattern.FindString(name); m != "" {
		return m
	}
	return DefaultQuality
}

// Size returns the GB figure following the disk marker in title, or DefaultSize.
func Size(title string) string {
	if m := sizePattern.FindStringSubmatch(title); len(m) > 1 {
		return m[1]
	}
	return DefaultSize
}

// IsPreferredQuality reports whether name carries a 1080p, 2160p or 4K marker.
func IsPreferredQuality(name string) bool {
	return strings.Contains(name, "1080p") ||
		strings.Contains(name, "2160p") ||
		strings.Contains(name, "4K")
}

// ReleaseLine returns the first non-empty line of a multi-line index title,
// which by convention is the release name.
func ReleaseLine(title string) string {
	for _, line := range strings.Split(title, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// ParseReleaseTags parses a release name using go-ptt
func ParseReleaseTags(release string) Tags {
	info := ptt.Parse(release)
	return Tags{
		Source: info.Quality,
		Codec:  info.Codec,
		HDR:    info.HDR,
		Group:  info.Group,
	}
}
