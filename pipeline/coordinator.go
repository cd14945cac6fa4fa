package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ogxcoders/videopress/clients"
	"github.com/ogxcoders/videopress/config"
	"github.com/ogxcoders/videopress/errors"
	"github.com/ogxcoders/videopress/log"
	"github.com/ogxcoders/videopress/metrics"
	"github.com/ogxcoders/videopress/queue"
	"github.com/ogxcoders/videopress/thumbnails"
	"github.com/ogxcoders/videopress/video"
)

// Stage tags, with the milestone percent each one advertises.
const (
	StageQueued      = "queued"                // 0
	StageDownloading = "downloading"           // 0
	StageValidating  = "validating"            // 25
	StageHLS         = "hls_conversion"        // 75
	StageThumbnail   = "thumbnail_compression" // 80
	StageComplete    = "complete"              // 100
)

// Milestones reached as each rung of the ladder finishes. Intra-stage
// percentages from the encoder are folded into these buckets.
var compressionMilestones = map[video.Quality]int{
	video.Quality480p: 37,
	video.Quality360p: 49,
	video.Quality240p: 61,
	video.Quality144p: 73,
}

func compressionStage(q video.Quality) string {
	return "compressing_" + string(q)
}

// StatusSink receives best-effort progress updates, normally the broker.
type StatusSink interface {
	UpdateProgress(ctx context.Context, id string, percent int, stage string)
}

// StatusSender delivers webhook status messages, normally the callback client.
type StatusSender interface {
	Send(msg clients.StatusMessage) error
}

// Fetcher downloads remote source media, normally the SSRF-guarded downloader.
type Fetcher interface {
	DownloadFile(ctx context.Context, jobID, rawURL, destPath string) (int64, error)
	DownloadBytes(ctx context.Context, jobID, rawURL string) ([]byte, error)
}

// Engine drives the per-job pipeline: download, validate, compress each rung,
// segment to HLS, compress the thumbnail, and assemble the terminal record.
type Engine struct {
	cfg        config.Cli
	probe      video.Prober
	transcoder video.Transcoder
	fetcher    Fetcher
	broker     StatusSink
	callback   StatusSender
}

func NewEngine(cfg config.Cli, broker StatusSink, callback StatusSender) *Engine {
	return &Engine{
		cfg:        cfg,
		probe:      video.Probe{},
		transcoder: video.FFmpeg{},
		fetcher: clients.Downloader{
			AllowedDomains: cfg.AllowedDownloadDomains,
			VerifySSL:      cfg.VerifySSLDownloads,
		},
		broker:   broker,
		callback: callback,
	}
}

// NewStubEngine wires an engine with caller-supplied collaborators, used by tests.
func NewStubEngine(cfg config.Cli, probe video.Prober, transcoder video.Transcoder, fetcher Fetcher, broker StatusSink, callback StatusSender) *Engine {
	return &Engine{cfg: cfg, probe: probe, transcoder: transcoder, fetcher: fetcher, broker: broker, callback: callback}
}

func (e *Engine) reportProgress(ctx context.Context, job *queue.Job, percent int, stage string) {
	e.broker.UpdateProgress(ctx, job.ID, percent, stage)
	// Ignore delivery errors, the next milestone will carry the news
	_ = e.callback.Send(clients.NewProgressMessage(job.ID, job.Submission.PostID, percent, stage))
}

// Process runs one attempt. The returned error is tagged with its kind; fatal
// kinds are unretriable and fail the job immediately.
func (e *Engine) Process(ctx context.Context, job *queue.Job) (*queue.Result, error) {
	started := time.Now()
	layout := NewLayout(e.cfg.ContentDir, job.Submission.Year, job.Submission.Month, job.Submission.PostID)
	log.AddContext(job.ID, "post_id", job.Submission.PostID, "layout", layout.Dir())
	ctx = log.WithLogValues(ctx, "job_id", job.ID,
		"post_id", strconv.FormatInt(job.Submission.PostID, 10),
		"attempt", strconv.Itoa(job.Attempts))

	e.reportProgress(ctx, job, 0, StageQueued)

	// Cleanup is serialized before any new write so reprocessing is idempotent.
	if err := layout.Clean(); err != nil {
		return nil, errors.E(errors.KindInternalError, err)
	}

	e.reportProgress(ctx, job, 0, StageDownloading)
	downloadStart := time.Now()
	sourcePath, originalBytes, err := e.stageDownload(ctx, job, layout)
	if err != nil {
		return nil, err
	}
	metrics.Metrics.StageDurationSec.WithLabelValues(StageDownloading).Observe(time.Since(downloadStart).Seconds())

	e.reportProgress(ctx, job, 25, StageValidating)
	info, err := e.stageValidate(ctx, sourcePath)
	if err != nil {
		return nil, err
	}

	result := &queue.Result{
		Qualities:     map[string]queue.QualityResult{},
		OriginalBytes: originalBytes,
		DurationSecs:  info.DurationSecs,
	}

	compressStart := time.Now()
	successes, err := e.stageCompress(ctx, job, layout, sourcePath, result)
	if err != nil {
		return nil, err
	}
	metrics.Metrics.StageDurationSec.WithLabelValues("compressing").Observe(time.Since(compressStart).Seconds())

	e.reportProgress(ctx, job, 75, StageHLS)
	if err := e.stageHLS(ctx, job, layout, successes, result); err != nil {
		// Non-fatal: playback falls back to the plain MP4s.
		log.LogError(job.ID, "hls conversion failed, continuing without playlists", err)
	}

	e.reportProgress(ctx, job, 80, StageThumbnail)
	if err := e.stageThumbnail(ctx, job, layout, result); err != nil {
		log.LogError(job.ID, "thumbnail compression failed, continuing without thumbnail", err)
	}

	e.finishResult(result, layout)
	result.ProcessingSecs = time.Since(started).Seconds()

	// The terminal webhook is the completion message with the full record,
	// sent by the worker once the broker has the result; only the broker's
	// progress field is advanced here.
	e.broker.UpdateProgress(ctx, job.ID, 100, StageComplete)
	return result, nil
}

// stageDownload places the source at the layout's original path, preferring a
// local copy when the upload already lives on this host.
func (e *Engine) stageDownload(ctx context.Context, job *queue.Job, layout Layout) (string, int64, error) {
	sub := job.Submission
	ext := path.Ext(sub.MediaPath)
	if ext == "" && sub.VideoURL != "" {
		ext = path.Ext(sub.VideoURL)
	}
	dest := layout.OriginalPath(ext)

	if local := e.localSourcePath(sub.MediaPath); local != "" {
		if stat, err := os.Stat(local); err == nil && stat.Size() > 0 {
			if err := copyFile(local, dest); err != nil {
				return "", 0, errors.E(errors.KindInternalError, err)
			}
			log.LogCtx(ctx, "using local source copy", "path", local, "bytes", stat.Size())
			return dest, stat.Size(), nil
		}
	}

	if sub.VideoURL == "" {
		return "", 0, errors.Ef(errors.KindFileNotFound, "no local copy of %s and no remote URL provided", sub.MediaPath)
	}

	size, err := e.fetcher.DownloadFile(ctx, job.ID, sub.VideoURL, dest)
	if err != nil {
		return "", 0, err
	}
	return dest, size, nil
}

// localSourcePath maps the CMS-relative media path onto the uploads root.
func (e *Engine) localSourcePath(mediaPath string) string {
	if e.cfg.UploadsDir == "" || mediaPath == "" {
		return ""
	}
	rel := mediaPath
	if idx := strings.Index(rel, "/uploads/"); idx >= 0 {
		rel = rel[idx+len("/uploads/"):]
	}
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || strings.Contains(rel, "..") {
		return ""
	}
	return filepath.Join(e.cfg.UploadsDir, filepath.FromSlash(rel))
}

func (e *Engine) stageValidate(ctx context.Context, sourcePath string) (video.VideoInfo, error) {
	info, err := e.probe.ProbeFile(ctx, sourcePath)
	if err != nil {
		return video.VideoInfo{}, err
	}
	log.LogCtx(ctx, "probed source",
		"duration", info.DurationSecs,
		"codec", info.VideoCodec,
		"container", info.Container,
		"width", info.Width,
		"height", info.Height,
		"bytes", info.SizeBytes)

	if res := video.Validate(info); !res.Valid {
		return video.VideoInfo{}, res.Err()
	}
	return info, nil
}

// stageCompress walks the ladder in fixed order. One successful rung is
// enough to keep the attempt alive; a completely failed ladder fails it.
func (e *Engine) stageCompress(ctx context.Context, job *queue.Job, layout Layout, sourcePath string, result *queue.Result) ([]video.Quality, error) {
	segmentSecs := config.ClampSegmentSize(e.cfg.SegmentSizeSecs)
	var successes []video.Quality
	var lastErr error

	for _, preset := range video.Presets {
		stage := compressionStage(preset.Quality)
		out := layout.CompressedPath(preset.Quality)

		tr, err := e.transcoder.Transcode(ctx, job.ID, sourcePath, out, preset, segmentSecs)
		if err != nil {
			lastErr = err
			log.LogError(job.ID, "quality failed, continuing with remaining ladder", err, "quality", string(preset.Quality))
			continue
		}

		width, height := tr.Width, tr.Height
		if width == 0 || height == 0 {
			if info, err := e.probe.ProbeFile(ctx, out); err == nil {
				width, height = info.Width, info.Height
			}
		}

		result.Qualities[string(preset.Quality)] = queue.QualityResult{
			URL:           layout.PublicURL(e.cfg.BaseURL, fmt.Sprintf("compressed_%s.mp4", preset.Quality)),
			SizeBytes:     tr.SizeBytes,
			Width:         width,
			Height:        height,
			TranscodeSecs: tr.ElapsedSecs,
		}
		successes = append(successes, preset.Quality)
		log.V(6).LogCtx(ctx, "quality finished",
			"quality", string(preset.Quality),
			"bytes", tr.SizeBytes,
			"elapsed", tr.ElapsedSecs)
		e.reportProgress(ctx, job, compressionMilestones[preset.Quality], stage)
	}

	if len(successes) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, errors.Ef(errors.KindTranscodeFailed, "no qualities produced")
	}
	return successes, nil
}

// stageHLS segments every produced MP4 and writes the master playlist over
// the variants that made it.
func (e *Engine) stageHLS(ctx context.Context, job *queue.Job, layout Layout, successes []video.Quality, result *queue.Result) error {
	if err := os.MkdirAll(layout.HLSDir(), 0755); err != nil {
		return fmt.Errorf("failed to create hls directory: %w", err)
	}
	segmentSecs := config.ClampSegmentSize(e.cfg.SegmentSizeSecs)

	var variants []Variant
	for _, q := range successes {
		seg, err := e.transcoder.Segment(ctx, job.ID, layout.CompressedPath(q), layout.HLSDir(), q, segmentSecs)
		if err != nil {
			log.LogError(job.ID, "variant segmenting failed, omitting from master playlist", err, "quality", string(q))
			continue
		}
		qr := result.Qualities[string(q)]
		qr.HLSPlaylistURL = layout.PublicURL(e.cfg.BaseURL, "hls", fmt.Sprintf("%s.m3u8", q))
		qr.SegmentCount = seg.SegmentCount
		result.Qualities[string(q)] = qr

		variants = append(variants, Variant{Quality: q, Width: qr.Width, Height: qr.Height})
	}

	if len(variants) == 0 {
		return fmt.Errorf("no variants segmented")
	}
	if err := WriteMasterPlaylist(layout.MasterPlaylistPath(), variants); err != nil {
		return err
	}
	result.HLSMasterURL = layout.PublicURL(e.cfg.BaseURL, "hls", "master.m3u8")
	log.LogCtx(ctx, "hls conversion finished", "variants", len(variants))
	return nil
}

func (e *Engine) stageThumbnail(ctx context.Context, job *queue.Job, layout Layout, result *queue.Result) error {
	if job.Submission.ThumbnailURL == "" {
		return nil
	}
	data, err := e.fetcher.DownloadBytes(ctx, job.ID, job.Submission.ThumbnailURL)
	if err != nil {
		return err
	}
	_, err = thumbnails.ResizeToWebP(job.ID, data, layout.ThumbnailPath(), thumbnails.Options{
		Quality:   e.cfg.ThumbnailQuality,
		MaxWidth:  e.cfg.ThumbnailMaxWidth,
		MaxHeight: e.cfg.ThumbnailMaxHeight,
	})
	if err != nil {
		return err
	}
	result.ThumbnailURL = layout.PublicURL(e.cfg.BaseURL, "thumbnail.webp")
	return nil
}

// finishResult fills the aggregate stats from the primary (highest) quality.
func (e *Engine) finishResult(result *queue.Result, layout Layout) {
	if _, err := os.Stat(layout.ThumbnailPath()); err != nil && result.ThumbnailURL != "" {
		result.ThumbnailURL = ""
	}

	// Presets is ordered highest-first, so the first success is primary.
	for _, preset := range video.Presets {
		if qr, ok := result.Qualities[string(preset.Quality)]; ok {
			result.CompressedBytes = qr.SizeBytes
			break
		}
	}
	if result.OriginalBytes > 0 && result.CompressedBytes > 0 {
		ratio := (1 - float64(result.CompressedBytes)/float64(result.OriginalBytes)) * 100
		result.CompressionRatio = math.Round(ratio*100) / 100
	}
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
