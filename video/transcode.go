package video

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/ogxcoders/videopress/errors"
	"github.com/ogxcoders/videopress/log"
)

// Transcoder produces the per-quality MP4s and their HLS renditions.
type Transcoder interface {
	Transcode(ctx context.Context, jobID, in, out string, preset Preset, segmentSecs int) (TranscodeResult, error)
	Segment(ctx context.Context, jobID, inMp4, outDir string, quality Quality, segmentSecs int) (SegmentResult, error)
}

// FFmpeg shells out to the ffmpeg binary on the host.
type FFmpeg struct {
	// Bin overrides the binary name; empty means "ffmpeg".
	Bin string
}

func (f FFmpeg) bin() string {
	if f.Bin != "" {
		return f.Bin
	}
	return "ffmpeg"
}

// CheckBinary verifies the transcoder binary is present on the host.
func (f FFmpeg) CheckBinary() error {
	if _, err := exec.LookPath(f.bin()); err != nil {
		return fmt.Errorf("transcoder binary not found: %w", err)
	}
	return nil
}

// Transcode produces a single quality. Keyframes are forced every segmentSecs
// seconds with scene-cut keyframes disabled so the later segmenting pass can
// stream-copy on exact boundaries.
func (f FFmpeg) Transcode(ctx context.Context, jobID, in, out string, preset Preset, segmentSecs int) (TranscodeResult, error) {
	start := time.Now()
	args := []string{
		"-hide_banner", "-y",
		"-i", in,
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-vf", fmt.Sprintf("scale=-2:%d", preset.Height),
		"-c:v", "libx264",
		"-preset", "slow",
		"-crf", strconv.Itoa(preset.CRF),
		"-profile:v", "main",
		"-level", "3.1",
		"-pix_fmt", "yuv420p",
		"-b:v", preset.VideoBitrate,
		"-maxrate", preset.MaxBitrate,
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", segmentSecs),
		"-sc_threshold", "0",
		"-c:a", "aac",
		"-b:a", "64k",
		"-ar", "44100",
		"-ac", "2",
		"-movflags", "+faststart",
		out,
	}

	cmd := exec.CommandContext(ctx, f.bin(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		log.LogError(jobID, "transcode failed", err, "quality", string(preset.Quality), "stderr", tail(stderr.String()))
		return TranscodeResult{}, errors.Ef(errors.KindTranscodeFailed, "transcode %s failed: %s", preset.Quality, err)
	}

	stat, err := os.Stat(out)
	if err != nil {
		return TranscodeResult{}, errors.Ef(errors.KindTranscodeFailed, "transcode %s produced no output: %s", preset.Quality, err)
	}

	return TranscodeResult{
		OutputPath:  out,
		SizeBytes:   stat.Size(),
		ElapsedSecs: time.Since(start).Seconds(),
	}, nil
}

// tail keeps error logs readable; ffmpeg writes its whole progress stream to stderr.
func tail(s string) string {
	const max = 1024
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
