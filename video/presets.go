package video

import "fmt"

// Quality tags the rungs of the encoding ladder.
type Quality string

const (
	Quality480p Quality = "480p"
	Quality360p Quality = "360p"
	Quality240p Quality = "240p"
	Quality144p Quality = "144p"
)

// Preset is one rung of the fixed encoding ladder.
type Preset struct {
	Quality      Quality
	Height       int64
	VideoBitrate string // target bitrate passed to the encoder
	MaxBitrate   string
	CRF          int
	// Bandwidth advertised for this variant in the master playlist
	Bandwidth uint32
	Codecs    string
}

// Presets is the ladder in compression order (highest quality first).
var Presets = []Preset{
	{Quality: Quality480p, Height: 480, VideoBitrate: "800k", MaxBitrate: "1200k", CRF: 23, Bandwidth: 1_300_000, Codecs: "avc1.4d001f,mp4a.40.2"},
	{Quality: Quality360p, Height: 360, VideoBitrate: "500k", MaxBitrate: "750k", CRF: 23, Bandwidth: 850_000, Codecs: "avc1.4d001f,mp4a.40.2"},
	{Quality: Quality240p, Height: 240, VideoBitrate: "300k", MaxBitrate: "450k", CRF: 22, Bandwidth: 550_000, Codecs: "avc1.4d0015,mp4a.40.2"},
	{Quality: Quality144p, Height: 144, VideoBitrate: "150k", MaxBitrate: "225k", CRF: 21, Bandwidth: 325_000, Codecs: "avc1.4d000d,mp4a.40.2"},
}

// PresetFor looks up the ladder rung for a quality tag.
func PresetFor(q Quality) (Preset, error) {
	for _, p := range Presets {
		if p.Quality == q {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("unknown quality %q", q)
}

// AscendingPresets returns the ladder in ascending-resolution order, the order
// variants are listed in the master playlist.
func AscendingPresets() []Preset {
	out := make([]Preset, len(Presets))
	for i, p := range Presets {
		out[len(Presets)-1-i] = p
	}
	return out
}

// AverageBandwidth is the AVERAGE-BANDWIDTH advertised alongside Bandwidth.
// The ladder's target bitrates sit well below the peaks, so advertise ~85%.
func (p Preset) AverageBandwidth() uint32 {
	return uint32(float64(p.Bandwidth) * 0.85)
}

// ScaledWidth picks the output width for a source, preserving aspect ratio and
// rounding to the nearest even integer as libx264 requires.
func ScaledWidth(srcWidth, srcHeight, targetHeight int64) int64 {
	if srcHeight == 0 {
		return 0
	}
	w := float64(srcWidth) * float64(targetHeight) / float64(srcHeight)
	return nearestEven(int64(w + 0.5))
}

func nearestEven(input int64) int64 {
	return input + (input & 1)
}
