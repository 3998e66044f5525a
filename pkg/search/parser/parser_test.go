package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuality(t *testing.T) {
	cases := map[string]string{
		"Torrentio\n2160p":     "2160p",
		"Torrentio\n720p HDR":  "720p",
		"Torrentio\n4k":        DefaultQuality,
		"RD+ Torrentio 480p":   "480p",
		"no marker whatsoever": DefaultQuality,
	}
	for name, want := range cases {
		assert.Equal(t, want, Quality(name), name)
	}
}

func TestSize(t *testing.T) {
	assert.Equal(t, "4.2 GB", Size("Movie.2020.1080p.WEB\n👤 12 💾 4.2 GB ⚙️ ThePirateBay"))
	assert.Equal(t, "12GB", Size("💾12GB"))
	assert.Equal(t, DefaultSize, Size("💾 700 MB"))
	assert.Equal(t, DefaultSize, Size(""))
}

func TestIsPreferredQuality(t *testing.T) {
	assert.True(t, IsPreferredQuality("Torrentio 1080p"))
	assert.True(t, IsPreferredQuality("Torrentio 2160p"))
	assert.True(t, IsPreferredQuality("Torrentio 4K"))
	assert.False(t, IsPreferredQuality("Torrentio 4k"))
	assert.False(t, IsPreferredQuality("Torrentio 720p"))
}

func TestParseStreamTags(t *testing.T) {
	info := ParseStream("Torrentio\n1080p", "The.Movie.2021.1080p.BluRay.x264-GROUP\n👤 40 💾 9.1 GB")

	assert.Equal(t, "1080p", info.Quality)
	assert.Equal(t, "9.1 GB", info.Size)
	assert.Equal(t, "GROUP", info.Tags.Group)
	assert.NotEmpty(t, info.Tags.Codec)
}

func TestReleaseLine(t *testing.T) {
	assert.Equal(t, "first", ReleaseLine("\n  first \nsecond"))
	assert.Equal(t, "", ReleaseLine("  \n "))
}
