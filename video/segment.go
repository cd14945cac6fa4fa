package video

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/ogxcoders/videopress/errors"
)

// Segment splits an already-encoded MP4 into an HLS rendition without
// re-encoding. It relies on the keyframe spacing forced during the transcode
// pass, so segment boundaries land exactly on segmentSecs multiples.
func (f FFmpeg) Segment(ctx context.Context, jobID, inMp4, outDir string, quality Quality, segmentSecs int) (SegmentResult, error) {
	playlist := filepath.Join(outDir, fmt.Sprintf("%s.m3u8", quality))
	segmentPattern := filepath.Join(outDir, fmt.Sprintf("%s_%%03d.ts", quality))

	ffmpegErr := bytes.Buffer{}
	err := ffmpeg.Input(inMp4).
		Output(
			playlist,
			ffmpeg.KwArgs{
				"c":                    "copy",
				"f":                    "hls",
				"hls_time":             segmentSecs,
				"hls_playlist_type":    "vod",
				"hls_flags":            "independent_segments+append_list",
				"hls_segment_type":     "mpegts",
				"hls_list_size":        "0",
				"start_number":         "0",
				"hls_segment_filename": segmentPattern,
			},
		).OverWriteOutput().WithErrorOutput(&ffmpegErr).Run()
	if err != nil {
		return SegmentResult{}, errors.Ef(errors.KindTranscodeFailed,
			"failed to segment %s [%s]: %s", inMp4, tail(ffmpegErr.String()), err)
	}

	segments, err := filepath.Glob(filepath.Join(outDir, fmt.Sprintf("%s_*.ts", quality)))
	if err != nil || len(segments) == 0 {
		return SegmentResult{}, errors.Ef(errors.KindTranscodeFailed, "segmenting %s produced no segments", quality)
	}

	return SegmentResult{
		PlaylistPath: playlist,
		SegmentCount: len(segments),
	}, nil
}
