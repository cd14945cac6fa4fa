package video

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPresetLadder(t *testing.T) {
	require.Len(t, Presets, 4)
	require.Equal(t, Quality480p, Presets[0].Quality)
	require.Equal(t, Quality144p, Presets[3].Quality)

	p, err := PresetFor(Quality240p)
	require.NoError(t, err)
	require.EqualValues(t, 240, p.Height)
	require.Equal(t, 22, p.CRF)
	require.EqualValues(t, 550_000, p.Bandwidth)
	require.Equal(t, "avc1.4d0015,mp4a.40.2", p.Codecs)

	_, err = PresetFor(Quality("720p"))
	require.Error(t, err)
}

func TestAscendingPresets(t *testing.T) {
	asc := AscendingPresets()
	require.Equal(t, Quality144p, asc[0].Quality)
	require.Equal(t, Quality240p, asc[1].Quality)
	require.Equal(t, Quality360p, asc[2].Quality)
	require.Equal(t, Quality480p, asc[3].Quality)
	// The package-level ladder must keep its compression order.
	require.Equal(t, Quality480p, Presets[0].Quality)
}

func TestScaledWidth(t *testing.T) {
	// 16:9 source
	require.EqualValues(t, 854, ScaledWidth(1920, 1080, 480))
	require.EqualValues(t, 640, ScaledWidth(1920, 1080, 360))
	require.EqualValues(t, 256, ScaledWidth(1920, 1080, 144))
	// portrait source stays portrait
	require.EqualValues(t, 270, ScaledWidth(1080, 1920, 480))
	// zero height guards against division by zero
	require.EqualValues(t, 0, ScaledWidth(1920, 0, 480))
}
