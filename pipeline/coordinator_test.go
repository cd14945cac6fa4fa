package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ogxcoders/videopress/clients"
	"github.com/ogxcoders/videopress/config"
	"github.com/ogxcoders/videopress/errors"
	"github.com/ogxcoders/videopress/queue"
	"github.com/ogxcoders/videopress/video"
)

type stubProbe struct {
	info video.VideoInfo
	err  error
}

func (s stubProbe) ProbeFile(ctx context.Context, path string) (video.VideoInfo, error) {
	if s.err != nil {
		return video.VideoInfo{}, s.err
	}
	return s.info, nil
}

type stubTranscoder struct {
	failQualities map[video.Quality]bool
	failSegment   map[video.Quality]bool
	srcInfo       video.VideoInfo
}

func (s stubTranscoder) Transcode(ctx context.Context, jobID, in, out string, preset video.Preset, segmentSecs int) (video.TranscodeResult, error) {
	if s.failQualities[preset.Quality] {
		return video.TranscodeResult{}, errors.Ef(errors.KindTranscodeFailed, "injected failure for %s", preset.Quality)
	}
	payload := bytes.Repeat([]byte("v"), 100*int(preset.Height))
	if err := os.WriteFile(out, payload, 0644); err != nil {
		return video.TranscodeResult{}, err
	}
	return video.TranscodeResult{
		OutputPath:  out,
		SizeBytes:   int64(len(payload)),
		Width:       video.ScaledWidth(s.srcInfo.Width, s.srcInfo.Height, preset.Height),
		Height:      preset.Height,
		ElapsedSecs: 0.5,
	}, nil
}

func (s stubTranscoder) Segment(ctx context.Context, jobID, inMp4, outDir string, quality video.Quality, segmentSecs int) (video.SegmentResult, error) {
	if s.failSegment[quality] {
		return video.SegmentResult{}, errors.Ef(errors.KindTranscodeFailed, "injected segment failure for %s", quality)
	}
	playlist := filepath.Join(outDir, fmt.Sprintf("%s.m3u8", quality))
	if err := os.WriteFile(playlist, []byte("#EXTM3U\n#EXT-X-ENDLIST\n"), 0644); err != nil {
		return video.SegmentResult{}, err
	}
	for i := 0; i < 3; i++ {
		seg := filepath.Join(outDir, fmt.Sprintf("%s_%03d.ts", quality, i))
		if err := os.WriteFile(seg, []byte("ts"), 0644); err != nil {
			return video.SegmentResult{}, err
		}
	}
	return video.SegmentResult{PlaylistPath: playlist, SegmentCount: 3}, nil
}

type stubFetcher struct {
	videoData []byte
	imageData []byte
	videoErr  error
	imageErr  error
	fetches   int
}

func (s *stubFetcher) DownloadFile(ctx context.Context, jobID, rawURL, destPath string) (int64, error) {
	if s.videoErr != nil {
		return 0, s.videoErr
	}
	s.fetches++
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(destPath, s.videoData, 0644); err != nil {
		return 0, err
	}
	return int64(len(s.videoData)), nil
}

func (s *stubFetcher) DownloadBytes(ctx context.Context, jobID, rawURL string) ([]byte, error) {
	if s.imageErr != nil {
		return nil, s.imageErr
	}
	return s.imageData, nil
}

type progressEvent struct {
	percent int
	stage   string
}

type recordingSink struct {
	mu     sync.Mutex
	events []progressEvent
}

func (r *recordingSink) UpdateProgress(ctx context.Context, id string, percent int, stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, progressEvent{percent, stage})
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []clients.StatusMessage
}

func (r *recordingSender) Send(msg clients.StatusMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for x := 0; x < 32; x++ {
		for y := 0; y < 32; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testJob() *queue.Job {
	return &queue.Job{
		ID: "job_42_1700000000000",
		Submission: queue.Submission{
			PostID:       42,
			MediaPath:    "/wp-content/uploads/2025/01/clip.mp4",
			VideoURL:     "https://allowed.example.com/clip.mp4",
			ThumbnailURL: "https://allowed.example.com/thumb.png",
			Year:         2025,
			Month:        1,
		},
		State:    queue.StateProcessing,
		Attempts: 1,
	}
}

func testEngine(t *testing.T, transcoder video.Transcoder, fetcher Fetcher) (*Engine, config.Cli, *recordingSink, *recordingSender) {
	t.Helper()
	cfg := config.Cli{
		BaseURL:            "https://cdn.example.com",
		ContentDir:         t.TempDir(),
		UploadsDir:         t.TempDir(),
		SegmentSizeSecs:    3,
		ThumbnailQuality:   60,
		ThumbnailMaxWidth:  1280,
		ThumbnailMaxHeight: 720,
	}
	probe := stubProbe{info: video.VideoInfo{
		DurationSecs: 10,
		VideoCodec:   "h264",
		AudioCodec:   "aac",
		Container:    "mov,mp4,m4a,3gp,3g2,mj2",
		Width:        1920,
		Height:       1080,
		SizeBytes:    5 * 1024 * 1024,
	}}
	sink := &recordingSink{}
	sender := &recordingSender{}
	return NewStubEngine(cfg, probe, transcoder, fetcher, sink, sender), cfg, sink, sender
}

func TestProcessHappyPath(t *testing.T) {
	srcInfo := video.VideoInfo{Width: 1920, Height: 1080}
	fetcher := &stubFetcher{videoData: bytes.Repeat([]byte("v"), 5*1024*1024), imageData: testPNG(t)}
	engine, cfg, sink, _ := testEngine(t, stubTranscoder{srcInfo: srcInfo}, fetcher)

	job := testJob()
	result, err := engine.Process(context.Background(), job)
	require.NoError(t, err)

	layout := NewLayout(cfg.ContentDir, 2025, 1, 42)
	for _, q := range []video.Quality{video.Quality480p, video.Quality360p, video.Quality240p, video.Quality144p} {
		require.FileExists(t, layout.CompressedPath(q))
		qr, ok := result.Qualities[string(q)]
		require.True(t, ok, q)
		require.Equal(t, fmt.Sprintf("https://cdn.example.com/content/2025/01/42/compressed_%s.mp4", q), qr.URL)
		require.Equal(t, fmt.Sprintf("https://cdn.example.com/content/2025/01/42/hls/%s.m3u8", q), qr.HLSPlaylistURL)
		require.Equal(t, 3, qr.SegmentCount)
	}

	require.Equal(t, "https://cdn.example.com/content/2025/01/42/hls/master.m3u8", result.HLSMasterURL)
	variants, err := ParseMasterPlaylist(layout.MasterPlaylistPath())
	require.NoError(t, err)
	require.Len(t, variants, 4)
	require.Equal(t, video.Quality144p, variants[0].Quality)
	require.Equal(t, video.Quality480p, variants[3].Quality)

	require.FileExists(t, layout.ThumbnailPath())
	require.Equal(t, "https://cdn.example.com/content/2025/01/42/thumbnail.webp", result.ThumbnailURL)

	require.EqualValues(t, 5*1024*1024, result.OriginalBytes)
	require.EqualValues(t, 48000, result.CompressedBytes) // 480p is primary
	require.Greater(t, result.CompressionRatio, float64(0))
	require.Equal(t, float64(10), result.DurationSecs)

	// Progress only ever advances, ending at 100/complete.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	last := -1
	for _, ev := range sink.events {
		require.GreaterOrEqual(t, ev.percent, last, "progress went backwards at %v", ev)
		last = ev.percent
	}
	require.Equal(t, progressEvent{100, StageComplete}, sink.events[len(sink.events)-1])
}

func TestProcessPrefersLocalSource(t *testing.T) {
	fetcher := &stubFetcher{videoData: bytes.Repeat([]byte("v"), 2048), imageData: testPNG(t)}
	engine, cfg, _, _ := testEngine(t, stubTranscoder{srcInfo: video.VideoInfo{Width: 1920, Height: 1080}}, fetcher)

	local := filepath.Join(cfg.UploadsDir, "2025", "01", "clip.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(local), 0755))
	require.NoError(t, os.WriteFile(local, bytes.Repeat([]byte("L"), 4096), 0644))

	result, err := engine.Process(context.Background(), testJob())
	require.NoError(t, err)
	require.Zero(t, fetcher.fetches)
	require.EqualValues(t, 4096, result.OriginalBytes)
}

func TestProcessRejectedDownloadFailsFast(t *testing.T) {
	fetcher := &stubFetcher{videoErr: errors.Ef(errors.KindDownloadRejected, "host \"169.254.169.254\" is blocked")}
	engine, cfg, _, _ := testEngine(t, stubTranscoder{}, fetcher)

	job := testJob()
	job.Submission.MediaPath = "/wp-content/uploads/2025/01/missing.mp4"
	job.Submission.VideoURL = "http://169.254.169.254/latest/meta-data/"

	_, err := engine.Process(context.Background(), job)
	require.Error(t, err)
	require.Equal(t, errors.KindDownloadRejected, errors.KindOf(err))
	require.True(t, errors.IsUnretriable(err))

	// Nothing was written under the layout.
	layout := NewLayout(cfg.ContentDir, 2025, 1, 42)
	entries, readErr := os.ReadDir(layout.Dir())
	require.NoError(t, readErr)
	require.Empty(t, entries)
}

func TestProcessValidationFailure(t *testing.T) {
	fetcher := &stubFetcher{videoData: bytes.Repeat([]byte("v"), 2048)}
	engine, cfg, _, _ := testEngine(t, stubTranscoder{}, fetcher)
	engine.probe = stubProbe{info: video.VideoInfo{
		DurationSecs: 301,
		VideoCodec:   "h264",
		Container:    "mp4",
		Width:        1920,
		Height:       1080,
		SizeBytes:    1024,
	}}

	_, err := engine.Process(context.Background(), testJob())
	require.Error(t, err)
	require.Equal(t, errors.KindDurationTooLong, errors.KindOf(err))

	layout := NewLayout(cfg.ContentDir, 2025, 1, 42)
	matches, globErr := filepath.Glob(filepath.Join(layout.Dir(), "compressed_*.mp4"))
	require.NoError(t, globErr)
	require.Empty(t, matches)
}

func TestProcessPartialQualityFailure(t *testing.T) {
	srcInfo := video.VideoInfo{Width: 1920, Height: 1080}
	transcoder := stubTranscoder{
		srcInfo:       srcInfo,
		failQualities: map[video.Quality]bool{video.Quality240p: true},
	}
	fetcher := &stubFetcher{videoData: bytes.Repeat([]byte("v"), 2048), imageData: testPNG(t)}
	engine, cfg, _, _ := testEngine(t, transcoder, fetcher)

	result, err := engine.Process(context.Background(), testJob())
	require.NoError(t, err)

	require.Contains(t, result.Qualities, "480p")
	require.Contains(t, result.Qualities, "360p")
	require.Contains(t, result.Qualities, "144p")
	require.NotContains(t, result.Qualities, "240p")

	layout := NewLayout(cfg.ContentDir, 2025, 1, 42)
	variants, err := ParseMasterPlaylist(layout.MasterPlaylistPath())
	require.NoError(t, err)
	require.Len(t, variants, 3)
	for _, v := range variants {
		require.NotEqual(t, video.Quality240p, v.Quality)
	}
}

func TestProcessAllQualitiesFailing(t *testing.T) {
	transcoder := stubTranscoder{failQualities: map[video.Quality]bool{
		video.Quality480p: true, video.Quality360p: true, video.Quality240p: true, video.Quality144p: true,
	}}
	fetcher := &stubFetcher{videoData: bytes.Repeat([]byte("v"), 2048)}
	engine, _, _, _ := testEngine(t, transcoder, fetcher)

	_, err := engine.Process(context.Background(), testJob())
	require.Error(t, err)
	require.Equal(t, errors.KindTranscodeFailed, errors.KindOf(err))
}

func TestProcessHLSFailureIsNonFatal(t *testing.T) {
	srcInfo := video.VideoInfo{Width: 1920, Height: 1080}
	transcoder := stubTranscoder{
		srcInfo: srcInfo,
		failSegment: map[video.Quality]bool{
			video.Quality480p: true, video.Quality360p: true, video.Quality240p: true, video.Quality144p: true,
		},
	}
	fetcher := &stubFetcher{videoData: bytes.Repeat([]byte("v"), 2048), imageData: testPNG(t)}
	engine, _, _, _ := testEngine(t, transcoder, fetcher)

	result, err := engine.Process(context.Background(), testJob())
	require.NoError(t, err)
	require.Empty(t, result.HLSMasterURL)
	require.Len(t, result.Qualities, 4)
	for _, qr := range result.Qualities {
		require.Empty(t, qr.HLSPlaylistURL)
	}
}

func TestProcessThumbnailFailureIsNonFatal(t *testing.T) {
	srcInfo := video.VideoInfo{Width: 1920, Height: 1080}
	fetcher := &stubFetcher{
		videoData: bytes.Repeat([]byte("v"), 2048),
		imageErr:  errors.Ef(errors.KindDownloadFailed, "image host down"),
	}
	engine, _, _, _ := testEngine(t, stubTranscoder{srcInfo: srcInfo}, fetcher)

	result, err := engine.Process(context.Background(), testJob())
	require.NoError(t, err)
	require.Empty(t, result.ThumbnailURL)
	require.NotEmpty(t, result.HLSMasterURL)
}

func TestProcessReprocessingCleansPreviousOutputs(t *testing.T) {
	srcInfo := video.VideoInfo{Width: 1920, Height: 1080}
	fetcher := &stubFetcher{videoData: bytes.Repeat([]byte("v"), 2048), imageData: testPNG(t)}
	engine, cfg, _, _ := testEngine(t, stubTranscoder{srcInfo: srcInfo}, fetcher)

	layout := NewLayout(cfg.ContentDir, 2025, 1, 42)
	require.NoError(t, os.MkdirAll(layout.HLSDir(), 0755))
	stalePlaylist := filepath.Join(layout.HLSDir(), "720p.m3u8")
	require.NoError(t, os.WriteFile(stalePlaylist, []byte("stale"), 0644))
	require.NoError(t, os.WriteFile(layout.OriginalPath("avi"), []byte("stale"), 0644))

	_, err := engine.Process(context.Background(), testJob())
	require.NoError(t, err)

	_, statErr := os.Stat(stalePlaylist)
	require.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(layout.OriginalPath("avi"))
	require.True(t, os.IsNotExist(statErr))
	require.FileExists(t, layout.CompressedPath(video.Quality480p))
}
