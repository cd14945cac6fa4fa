package queue

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a job in the broker.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateDelayed    State = "delayed"
)

// IsTerminal returns whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Submission is the payload accepted from the content-management service.
type Submission struct {
	PostID        int64  `json:"postId"`
	MediaPath     string `json:"wpMediaPath"`
	VideoURL      string `json:"wpVideoUrl,omitempty"`
	ThumbnailPath string `json:"wpThumbnailPath,omitempty"`
	ThumbnailURL  string `json:"wpThumbnailUrl,omitempty"`
	PostURL       string `json:"wpPostUrl,omitempty"`
	Year          int    `json:"year"`
	Month         int    `json:"month"`
}

// JobID derives the deterministic broker identity for a submission.
func JobID(postID int64, t time.Time) string {
	return fmt.Sprintf("job_%d_%d", postID, t.UnixMilli())
}

// Job is the unit of work tracked by the broker.
type Job struct {
	ID         string     `json:"id"`
	Submission Submission `json:"submission"`
	State      State      `json:"state"`
	Progress   int        `json:"progress"`
	Stage      string     `json:"stage,omitempty"`
	Attempts   int        `json:"attempts"`
	CreatedAt  int64      `json:"createdAt"`
	UpdatedAt  int64      `json:"updatedAt"`
	Error      string     `json:"error,omitempty"`
	Result     *Result    `json:"result,omitempty"`
}

// QualityResult captures the per-quality output of a finished job.
type QualityResult struct {
	URL            string  `json:"url"`
	HLSPlaylistURL string  `json:"hlsPlaylistUrl,omitempty"`
	SizeBytes      int64   `json:"sizeBytes"`
	Width          int64   `json:"width"`
	Height         int64   `json:"height"`
	TranscodeSecs  float64 `json:"transcodeSecs"`
	SegmentCount   int     `json:"segmentCount,omitempty"`
}

// Result is the terminal record written on success.
type Result struct {
	Qualities        map[string]QualityResult `json:"qualities"`
	HLSMasterURL     string                   `json:"hlsMasterUrl,omitempty"`
	ThumbnailURL     string                   `json:"thumbnailUrl,omitempty"`
	OriginalBytes    int64                    `json:"originalBytes"`
	CompressedBytes  int64                    `json:"compressedBytes"`
	CompressionRatio float64                  `json:"compressionRatio"`
	DurationSecs     float64                  `json:"durationSecs"`
	ProcessingSecs   float64                  `json:"processingSecs"`
}

// Stats are the queue counters reported by the broker.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// EventType identifies a lifecycle transition published by the broker.
type EventType string

const (
	EventWaiting   EventType = "waiting"
	EventActive    EventType = "active"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventDelayed   EventType = "delayed"
	EventStalled   EventType = "stalled"
)

// Event is emitted on the broker's subscription channel for logging.
type Event struct {
	Type  EventType `json:"type"`
	JobID string    `json:"jobId"`
	Error string    `json:"error,omitempty"`
}
