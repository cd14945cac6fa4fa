package thumbnails

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder for image.Decode
	_ "image/jpeg" // register JPEG decoder for image.Decode
	_ "image/png"  // register PNG decoder for image.Decode
	"os"
	"path/filepath"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/ogxcoders/videopress/log"
)

// Options control the resize-and-encode step.
type Options struct {
	Quality   int // WebP quality [1..100]; zero or less selects DefaultQuality
	MaxWidth  int
	MaxHeight int
}

const DefaultQuality = 60

// Result reports a finished thumbnail encode.
type Result struct {
	OriginalBytes int64
	OutputBytes   int64
	Width         int
	Height        int
}

// ResizeToWebP decodes a still image, fits it inside the configured bounds
// without enlargement, and writes a WebP encode to outPath.
func ResizeToWebP(jobID string, data []byte, outPath string, opts Options) (Result, error) {
	quality := opts.Quality
	if quality <= 0 {
		quality = DefaultQuality
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("failed to decode thumbnail image: %w", err)
	}

	bounds := src.Bounds()
	resized := src
	if opts.MaxWidth > 0 && opts.MaxHeight > 0 &&
		(bounds.Dx() > opts.MaxWidth || bounds.Dy() > opts.MaxHeight) {
		resized = imaging.Fit(src, opts.MaxWidth, opts.MaxHeight, imaging.Lanczos)
	}

	out := resized.Bounds()
	var buf bytes.Buffer
	if err := webp.Encode(&buf, resized, &webp.Options{Quality: float32(quality)}); err != nil {
		return Result{}, fmt.Errorf("failed to encode webp: %w", err)
	}
	encoded := buf.Bytes()

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return Result{}, fmt.Errorf("failed to create thumbnail directory: %w", err)
	}
	if err := os.WriteFile(outPath, encoded, 0644); err != nil {
		return Result{}, fmt.Errorf("failed to write thumbnail: %w", err)
	}

	log.Log(jobID, "thumbnail encoded",
		"format", format,
		"original_bytes", len(data),
		"output_bytes", len(encoded),
		"width", out.Dx(),
		"height", out.Dy())

	return Result{
		OriginalBytes: int64(len(data)),
		OutputBytes:   int64(len(encoded)),
		Width:         out.Dx(),
		Height:        out.Dy(),
	}, nil
}
