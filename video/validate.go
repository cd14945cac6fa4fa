package video

import (
	"fmt"
	"strings"

	"github.com/ogxcoders/videopress/config"
	"github.com/ogxcoders/videopress/errors"
)

var allowedCodecs = map[string]bool{
	"h264":   true,
	"hevc":   true,
	"vp8":    true,
	"vp9":    true,
	"prores": true,
	"mpeg4":  true,
	"av1":    true,
}

var allowedContainers = []string{"mp4", "mov", "webm", "mkv", "matroska"}

// ValidationResult reports whether a probed source may enter the compression
// loop, with every violation listed and a single machine-readable kind.
type ValidationResult struct {
	Valid  bool
	Errors []string
	Kind   errors.Kind
}

// Err converts a failed validation into the error the pipeline reports.
func (v ValidationResult) Err() error {
	if v.Valid {
		return nil
	}
	return errors.Ef(v.Kind, "%s", strings.Join(v.Errors, "; "))
}

// Validate enforces the input limits on a probe result. The first violation
// found determines the result kind; all violations are reported as messages.
func Validate(info VideoInfo) ValidationResult {
	res := ValidationResult{Valid: true}

	fail := func(kind errors.Kind, msg string) {
		if res.Valid {
			res.Valid = false
			res.Kind = kind
		}
		res.Errors = append(res.Errors, msg)
	}

	if info.SizeBytes > config.MaxInputFileSizeBytes {
		fail(errors.KindFileTooLarge, fmt.Sprintf("file size %d exceeds the %d byte limit", info.SizeBytes, config.MaxInputFileSizeBytes))
	}
	if info.DurationSecs > config.MaxInputDurationSecs {
		fail(errors.KindDurationTooLong, fmt.Sprintf("duration %.2fs exceeds the %ds limit", info.DurationSecs, config.MaxInputDurationSecs))
	}
	if !allowedCodecs[info.VideoCodec] {
		fail(errors.KindInvalidCodec, fmt.Sprintf("video codec %q is not supported", info.VideoCodec))
	}
	if !containerAllowed(info.Container) {
		fail(errors.KindInvalidContainer, fmt.Sprintf("container %q is not supported", info.Container))
	}
	return res
}

// ffprobe reports compound format names like "mov,mp4,m4a,3gp,3g2,mj2", so a
// container passes when any token matches the allowlist.
func containerAllowed(format string) bool {
	for _, token := range strings.Split(format, ",") {
		token = strings.TrimSpace(token)
		for _, allowed := range allowedContainers {
			if token == allowed {
				return true
			}
		}
	}
	return false
}
