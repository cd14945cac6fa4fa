package config

import (
	"time"
)

var Version string

// Used so that we can generate fixed timestamps in tests
var Clock TimestampGenerator = RealTimestampGenerator{}

// Default segment size to produce for HLS streaming
const DefaultSegmentSizeSecs = 3

// Segments are cut on forced keyframe boundaries, so anything outside this
// window produces playlists that drift from the advertised target duration
const MinSegmentSizeSecs = 2
const MaxSegmentSizeSecs = 3

// The maximum allowed input file size
const MaxInputFileSizeBytes = 100 * 1024 * 1024 // 100 MiB

// The maximum allowed input duration
const MaxInputDurationSecs = 300

// Maximum size we'll accept for a remote thumbnail image
const MaxThumbnailSizeBytes = 50 * 1024 * 1024 // 50 MiB

// Downloads smaller than these are treated as error pages rather than media
const MinVideoDownloadBytes = 1024
const MinImageDownloadBytes = 100

// Per-fetch timeouts for remote source downloads
const VideoDownloadTimeout = 300 * time.Second
const ImageDownloadTimeout = 60 * time.Second

// Broker retry policy: attempts per job and the exponential backoff base
const MaxJobAttempts = 3
const RetryBackoffBase = 5 * time.Second

// How long the enqueue path may take end-to-end before we report the broker down
const EnqueueTimeout = 15 * time.Second

// How long a claimed job may go without a progress heartbeat before it is
// considered stalled and returned to pending
const StallWindow = 90 * time.Second

// Grace period for in-flight jobs when a shutdown signal arrives
const ShutdownDrainTimeout = 30 * time.Second

// ClampSegmentSize bounds an HLS_TIME override to the supported window.
func ClampSegmentSize(secs int) int {
	if secs < MinSegmentSizeSecs {
		return MinSegmentSizeSecs
	}
	if secs > MaxSegmentSizeSecs {
		return MaxSegmentSizeSecs
	}
	return secs
}
