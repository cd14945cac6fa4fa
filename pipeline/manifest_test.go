package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ogxcoders/videopress/video"
)

func TestWriteMasterPlaylistAscendingOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.m3u8")

	// Handed over in compression order; written ascending.
	variants := []Variant{
		{Quality: video.Quality480p, Width: 854, Height: 480},
		{Quality: video.Quality360p, Width: 640, Height: 360},
		{Quality: video.Quality240p, Width: 426, Height: 240},
		{Quality: video.Quality144p, Width: 256, Height: 144},
	}
	require.NoError(t, WriteMasterPlaylist(path, variants))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(raw)

	require.True(t, strings.HasPrefix(content, "#EXTM3U\n#EXT-X-VERSION:3\n"))
	require.Contains(t, content,
		`#EXT-X-STREAM-INF:BANDWIDTH=325000,AVERAGE-BANDWIDTH=276250,RESOLUTION=256x144,CODECS="avc1.4d000d,mp4a.40.2",NAME="144p"`)
	require.Contains(t, content,
		`#EXT-X-STREAM-INF:BANDWIDTH=1300000,AVERAGE-BANDWIDTH=1105000,RESOLUTION=854x480,CODECS="avc1.4d001f,mp4a.40.2",NAME="480p"`)

	idx144 := strings.Index(content, "144p.m3u8")
	idx240 := strings.Index(content, "240p.m3u8")
	idx360 := strings.Index(content, "360p.m3u8")
	idx480 := strings.Index(content, "480p.m3u8")
	require.True(t, idx144 < idx240 && idx240 < idx360 && idx360 < idx480)
}

func TestWriteMasterPlaylistOmitsMissingVariants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.m3u8")

	variants := []Variant{
		{Quality: video.Quality480p, Width: 854, Height: 480},
		{Quality: video.Quality360p, Width: 640, Height: 360},
		{Quality: video.Quality144p, Width: 256, Height: 144},
	}
	require.NoError(t, WriteMasterPlaylist(path, variants))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "240p")
}

func TestMasterPlaylistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "master.m3u8")

	variants := []Variant{
		{Quality: video.Quality480p, Width: 854, Height: 480},
		{Quality: video.Quality240p, Width: 426, Height: 240},
		{Quality: video.Quality144p, Width: 256, Height: 144},
	}
	require.NoError(t, WriteMasterPlaylist(first, variants))

	parsed, err := ParseMasterPlaylist(first)
	require.NoError(t, err)
	require.Len(t, parsed, 3)
	require.Equal(t, video.Quality144p, parsed[0].Quality)
	require.EqualValues(t, 256, parsed[0].Width)

	// Re-serializing the parsed playlist yields byte-identical output.
	second := filepath.Join(dir, "master2.m3u8")
	require.NoError(t, WriteMasterPlaylist(second, parsed))

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestWriteMasterPlaylistRejectsEmpty(t *testing.T) {
	require.Error(t, WriteMasterPlaylist(filepath.Join(t.TempDir(), "master.m3u8"), nil))
}

func TestWriteMasterPlaylistRejectsUnknownQuality(t *testing.T) {
	err := WriteMasterPlaylist(filepath.Join(t.TempDir(), "master.m3u8"), []Variant{
		{Quality: video.Quality("720p"), Width: 1280, Height: 720},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "720p")
}
