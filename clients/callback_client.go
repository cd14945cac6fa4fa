package clients

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/ogxcoders/videopress/config"
	"github.com/ogxcoders/videopress/log"
	"github.com/ogxcoders/videopress/metrics"
	"github.com/ogxcoders/videopress/queue"
)

// StatusMessage is the JSON body POSTed to the configured webhook endpoint.
// Progress messages carry only the status fields; completion messages add the
// per-quality URLs and aggregate stats; failure messages add the error string.
type StatusMessage struct {
	JobID     string `json:"jobId"`
	PostID    int64  `json:"postId"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Stage     string `json:"stage"`
	Timestamp int64  `json:"timestamp"`

	// Only used for the failure message
	Error string `json:"error,omitempty"`

	// Only used for the completion message
	Compressed480pURL string  `json:"compressed480pUrl,omitempty"`
	Compressed360pURL string  `json:"compressed360pUrl,omitempty"`
	Compressed240pURL string  `json:"compressed240pUrl,omitempty"`
	Compressed144pURL string  `json:"compressed144pUrl,omitempty"`
	ThumbnailWebpURL  string  `json:"compressedThumbnailWebp,omitempty"`
	HLSMasterURL      string  `json:"hlsMasterUrl,omitempty"`
	HLS480pURL        string  `json:"hls_480p,omitempty"`
	HLS360pURL        string  `json:"hls_360p,omitempty"`
	HLS240pURL        string  `json:"hls_240p,omitempty"`
	HLS144pURL        string  `json:"hls_144p,omitempty"`
	OriginalSize      int64   `json:"original_size,omitempty"`
	CompressedSize    int64   `json:"compressed_size,omitempty"`
	CompressionRatio  float64 `json:"compression_ratio,omitempty"`
	Duration          float64 `json:"duration,omitempty"`
	ProcessingTime    float64 `json:"processing_time,omitempty"`
}

// IsTerminal returns whether no further messages follow for this job.
func (m StatusMessage) IsTerminal() bool {
	return m.Status == "completed" || m.Status == "failed"
}

func NewProgressMessage(jobID string, postID int64, progress int, stage string) StatusMessage {
	return StatusMessage{
		JobID:     jobID,
		PostID:    postID,
		Status:    "processing",
		Progress:  progress,
		Stage:     stage,
		Timestamp: config.TimestampUTC(),
	}
}

func NewFailureMessage(jobID string, postID int64, errMsg string) StatusMessage {
	return StatusMessage{
		JobID:     jobID,
		PostID:    postID,
		Status:    "failed",
		Stage:     "failed",
		Timestamp: config.TimestampUTC(),
		Error:     errMsg,
	}
}

// NewCompletionMessage flattens the terminal result record into the webhook shape.
func NewCompletionMessage(jobID string, postID int64, result *queue.Result) StatusMessage {
	m := StatusMessage{
		JobID:            jobID,
		PostID:           postID,
		Status:           "completed",
		Progress:         100,
		Stage:            "complete",
		Timestamp:        config.TimestampUTC(),
		HLSMasterURL:     result.HLSMasterURL,
		ThumbnailWebpURL: result.ThumbnailURL,
		OriginalSize:     result.OriginalBytes,
		CompressedSize:   result.CompressedBytes,
		CompressionRatio: result.CompressionRatio,
		Duration:         result.DurationSecs,
		ProcessingTime:   result.ProcessingSecs,
	}
	if q, ok := result.Qualities["480p"]; ok {
		m.Compressed480pURL, m.HLS480pURL = q.URL, q.HLSPlaylistURL
	}
	if q, ok := result.Qualities["360p"]; ok {
		m.Compressed360pURL, m.HLS360pURL = q.URL, q.HLSPlaylistURL
	}
	if q, ok := result.Qualities["240p"]; ok {
		m.Compressed240pURL, m.HLS240pURL = q.URL, q.HLSPlaylistURL
	}
	if q, ok := result.Qualities["144p"]; ok {
		m.Compressed144pURL, m.HLS144pURL = q.URL, q.HLSPlaylistURL
	}
	return m
}

// CallbackClient delivers status messages to a single configured endpoint,
// collapsing bursty progress updates through a per-job throttler.
type CallbackClient struct {
	url        string
	apiKey     string
	httpClient *http.Client

	mu       sync.Mutex
	throttle map[string]throttleEntry
	now      func() time.Time
}

type throttleEntry struct {
	lastPercent int
	lastSentAt  time.Time
}

// An event is sent when the percent moved by at least this much
const minPercentDelta = 5

// or when this much time passed since the previous send
const minSendInterval = 3 * time.Second

func NewCallbackClient(url, apiKey string) *CallbackClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2 // attempt a maximum of this+1 times
	client.RetryWaitMin = 2 * time.Second
	client.RetryWaitMax = 2 * time.Second
	// attempt × 2s between tries
	client.Backoff = retryablehttp.LinearJitterBackoff
	client.Logger = log.NewRetryableHTTPLogger()
	client.HTTPClient = &http.Client{
		Timeout: 30 * time.Second,
	}

	return &CallbackClient{
		url:        url,
		apiKey:     apiKey,
		httpClient: client.StandardClient(),
		throttle:   map[string]throttleEntry{},
		now:        time.Now,
	}
}

// Send delivers a status message. Progress messages may be suppressed by the
// throttler; terminal messages always go out and clear the job's throttle
// state. With no endpoint configured, Send is a no-op success.
func (c *CallbackClient) Send(msg StatusMessage) error {
	if c.url == "" {
		return nil
	}

	if msg.IsTerminal() {
		c.evict(msg.JobID)
	} else if !c.shouldSend(msg.JobID, msg.Progress) {
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal status message: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.Metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to send webhook to %q: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.Metrics.WebhookDeliveries.WithLabelValues("rejected").Inc()
		return fmt.Errorf("webhook to %q rejected with HTTP %d", c.url, resp.StatusCode)
	}
	metrics.Metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()

	log.Log(msg.JobID, "webhook delivered", "status", msg.Status, "progress", msg.Progress, "stage", msg.Stage)
	return nil
}

// shouldSend applies the suppression rules and, when the event passes,
// records it as the new baseline.
func (c *CallbackClient) shouldSend(jobID string, percent int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, seen := c.throttle[jobID]

	send := !seen ||
		percent-entry.lastPercent >= minPercentDelta ||
		now.Sub(entry.lastSentAt) >= minSendInterval ||
		percent == 100 ||
		(percent == 0 && entry.lastPercent == 0)

	if send {
		c.throttle[jobID] = throttleEntry{lastPercent: percent, lastSentAt: now}
	}
	return send
}

func (c *CallbackClient) evict(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.throttle, jobID)
}
