package thumbnails

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func pngFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestResizeToWebPFitsInsideBounds(t *testing.T) {
	out := filepath.Join(t.TempDir(), "thumbnail.webp")
	data := pngFixture(t, 800, 600)

	res, err := ResizeToWebP("job_1_1", data, out, Options{Quality: 60, MaxWidth: 400, MaxHeight: 400})
	require.NoError(t, err)
	require.EqualValues(t, len(data), res.OriginalBytes)
	require.Equal(t, 400, res.Width)
	require.Equal(t, 300, res.Height)

	stat, err := os.Stat(out)
	require.NoError(t, err)
	require.EqualValues(t, res.OutputBytes, stat.Size())
	require.Greater(t, res.OutputBytes, int64(0))
}

func TestResizeToWebPNoEnlargement(t *testing.T) {
	out := filepath.Join(t.TempDir(), "thumbnail.webp")
	data := pngFixture(t, 100, 80)

	res, err := ResizeToWebP("job_1_1", data, out, Options{Quality: 60, MaxWidth: 400, MaxHeight: 400})
	require.NoError(t, err)
	require.Equal(t, 100, res.Width)
	require.Equal(t, 80, res.Height)
}

func TestResizeToWebPRejectsGarbage(t *testing.T) {
	out := filepath.Join(t.TempDir(), "thumbnail.webp")
	_, err := ResizeToWebP("job_1_1", []byte("not an image"), out, Options{})
	require.Error(t, err)
	_, statErr := os.Stat(out)
	require.True(t, os.IsNotExist(statErr))
}
