package video

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/vansante/go-ffprobe.v2"

	"github.com/ogxcoders/videopress/errors"
)

type Prober interface {
	ProbeFile(ctx context.Context, path string) (VideoInfo, error)
}

type Probe struct{}

func (p Probe) ProbeFile(ctx context.Context, path string) (VideoInfo, error) {
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, probeCancel := context.WithTimeout(ctx, 60*time.Second)
		defer probeCancel()
		var err error
		data, err = ffprobe.ProbeURL(probeCtx, path, "-loglevel", "error")
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0 // don't impose a timeout as part of the retries
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backOff, 3)); err != nil {
		return VideoInfo{}, errors.Ef(errors.KindVideoCorrupted, "error probing %s: %s", path, err)
	}
	return parseProbeOutput(data)
}

func parseProbeOutput(probeData *ffprobe.ProbeData) (VideoInfo, error) {
	videoStream := probeData.FirstVideoStream()
	if videoStream == nil {
		return VideoInfo{}, errors.Ef(errors.KindVideoCorrupted, "no video stream found")
	}
	if probeData.Format == nil {
		return VideoInfo{}, errors.Ef(errors.KindVideoCorrupted, "format information missing")
	}

	duration, err := strconv.ParseFloat(videoStream.Duration, 64)
	if err != nil {
		duration = probeData.Format.DurationSeconds
	}
	if duration == 0 {
		return VideoInfo{}, errors.Ef(errors.KindVideoCorrupted, "zero duration")
	}
	if videoStream.Width == 0 || videoStream.Height == 0 {
		return VideoInfo{}, errors.Ef(errors.KindVideoCorrupted, "zero dimensions")
	}

	// parse bitrate, falling back to the container-level value
	bitRateValue := videoStream.BitRate
	if bitRateValue == "" {
		bitRateValue = probeData.Format.BitRate
	}
	bitrate, _ := strconv.ParseInt(bitRateValue, 10, 64)

	size, err := strconv.ParseInt(probeData.Format.Size, 10, 64)
	if err != nil {
		return VideoInfo{}, errors.Ef(errors.KindVideoCorrupted, "error parsing filesize from probed data: %s", err)
	}

	fps, err := parseFps(videoStream.AvgFrameRate)
	if err != nil {
		return VideoInfo{}, errors.Ef(errors.KindVideoCorrupted, "error parsing avg fps from probed data: %s", err)
	}
	if fps == 0 {
		if fps, err = parseFps(videoStream.RFrameRate); err != nil {
			return VideoInfo{}, errors.Ef(errors.KindVideoCorrupted, "error parsing real fps from probed data: %s", err)
		}
	}

	info := VideoInfo{
		DurationSecs: duration,
		VideoCodec:   strings.ToLower(videoStream.CodecName),
		Container:    strings.ToLower(probeData.Format.FormatName),
		Width:        int64(videoStream.Width),
		Height:       int64(videoStream.Height),
		Bitrate:      bitrate,
		FPS:          fps,
		SizeBytes:    size,
	}
	if audioStream := probeData.FirstAudioStream(); audioStream != nil {
		info.AudioCodec = strings.ToLower(audioStream.CodecName)
	}
	return info, nil
}

func parseFps(framerate string) (float64, error) {
	if framerate == "" {
		return 0, nil
	}
	parts := strings.SplitN(framerate, "/", 2)
	if len(parts) < 2 {
		fps, err := strconv.ParseFloat(framerate, 64)
		if err != nil {
			return 0, fmt.Errorf("error parsing framerate: %w", err)
		}
		return fps, nil
	}
	num, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("error parsing framerate numerator: %w", err)
	}
	den, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("error parsing framerate denominator: %w", err)
	}

	if den == 0 {
		// 0/0 can be valid for a video track i.e. mjpeg
		if num == 0 {
			return 0, nil
		}
		return 0, fmt.Errorf("invalid framerate denominator 0")
	}

	return float64(num) / float64(den), nil
}
