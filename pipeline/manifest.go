package pipeline

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/grafov/m3u8"

	"github.com/ogxcoders/videopress/video"
)

// Variant is one successfully segmented rung offered in the master playlist.
type Variant struct {
	Quality video.Quality
	// Actual dimensions of the encoded file, not the preset targets
	Width  int64
	Height int64
}

// WriteMasterPlaylist renders master.m3u8 listing the given variants in
// ascending-resolution order. Only variants that segmented successfully are
// offered, so a partial ladder still plays.
func WriteMasterPlaylist(path string, variants []Variant) error {
	if len(variants) == 0 {
		return fmt.Errorf("no variants to write")
	}
	byQuality := map[video.Quality]Variant{}
	for _, v := range variants {
		byQuality[v.Quality] = v
	}

	buf := &bytes.Buffer{}
	buf.WriteString("#EXTM3U\n")
	buf.WriteString("#EXT-X-VERSION:3\n")
	written := 0
	for _, preset := range video.AscendingPresets() {
		v, ok := byQuality[preset.Quality]
		if !ok {
			continue
		}
		fmt.Fprintf(buf, "#EXT-X-STREAM-INF:BANDWIDTH=%d,AVERAGE-BANDWIDTH=%d,RESOLUTION=%dx%d,CODECS=\"%s\",NAME=\"%s\"\n",
			preset.Bandwidth, preset.AverageBandwidth(), v.Width, v.Height, preset.Codecs, v.Quality)
		fmt.Fprintf(buf, "%s.m3u8\n", v.Quality)
		written++
	}
	if written != len(variants) {
		return fmt.Errorf("variants outside the encoding ladder: %v", variantQualities(variants))
	}

	return os.WriteFile(path, buf.Bytes(), 0644)
}

func variantQualities(variants []Variant) []video.Quality {
	out := make([]video.Quality, 0, len(variants))
	for _, v := range variants {
		out = append(out, v.Quality)
	}
	return out
}

// ParseMasterPlaylist reads master.m3u8 back into the variant list, in file
// order. Used for verifying written manifests.
func ParseMasterPlaylist(path string) ([]Variant, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open master playlist: %w", err)
	}
	defer f.Close()

	playlist, listType, err := m3u8.DecodeFrom(f, true)
	if err != nil {
		return nil, fmt.Errorf("failed to decode master playlist: %w", err)
	}
	if listType != m3u8.MASTER {
		return nil, fmt.Errorf("expected a master playlist, got a media playlist")
	}
	master, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok || master == nil {
		return nil, fmt.Errorf("failed to parse playlist as MasterPlaylist")
	}

	var variants []Variant
	for _, v := range master.Variants {
		if v == nil {
			continue
		}
		// The variant URI is "<quality>.m3u8"
		variant := Variant{Quality: video.Quality(strings.TrimSuffix(v.URI, ".m3u8"))}
		if _, err := video.PresetFor(variant.Quality); err != nil {
			return nil, fmt.Errorf("master playlist references %w", err)
		}
		// RESOLUTION is "WxH"
		if _, err := fmt.Sscanf(v.Resolution, "%dx%d", &variant.Width, &variant.Height); err != nil {
			return nil, fmt.Errorf("bad resolution %q in master playlist: %w", v.Resolution, err)
		}
		variants = append(variants, variant)
	}
	return variants, nil
}
