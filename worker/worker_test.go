package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ogxcoders/videopress/clients"
	"github.com/ogxcoders/videopress/config"
	"github.com/ogxcoders/videopress/errors"
	"github.com/ogxcoders/videopress/queue"
)

func TestRestartDelayBackoff(t *testing.T) {
	require.Equal(t, 5*time.Second, restartDelay(0))
	require.Equal(t, 10*time.Second, restartDelay(1))
	require.Equal(t, 20*time.Second, restartDelay(2))
	require.Equal(t, 40*time.Second, restartDelay(3))
	require.Equal(t, 60*time.Second, restartDelay(4))
	require.Equal(t, 60*time.Second, restartDelay(10))
}

type stubPipeline struct {
	result *queue.Result
	err    error
	panics bool
}

func (s stubPipeline) Process(ctx context.Context, job *queue.Job) (*queue.Result, error) {
	if s.panics {
		panic("stage blew up")
	}
	return s.result, s.err
}

func testSupervisor(t *testing.T, p Pipeline) (*Supervisor, *queue.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	broker := queue.NewClientFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = broker.Close() })
	cfg := config.Cli{ParallelLimit: 1}
	return New(cfg, broker, p, clients.NewCallbackClient("", "secret")), broker
}

func enqueueAndClaim(t *testing.T, broker *queue.Client) *queue.Job {
	t.Helper()
	sub := queue.Submission{PostID: 42, MediaPath: "/wp-content/uploads/2025/01/clip.mp4", Year: 2025, Month: 1}
	_, _, err := broker.Enqueue(context.Background(), sub)
	require.NoError(t, err)
	job, err := broker.ClaimNext(context.Background(), "w1")
	require.NoError(t, err)
	return job
}

func TestProcessJobSuccessWritesTerminalRecord(t *testing.T) {
	result := &queue.Result{OriginalBytes: 100, CompressedBytes: 40, CompressionRatio: 60}
	s, broker := testSupervisor(t, stubPipeline{result: result})

	job := enqueueAndClaim(t, broker)
	s.processJob(context.Background(), job)

	got, err := broker.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StateCompleted, got.State)
	require.Equal(t, result, got.Result)
}

func TestProcessJobRetriableFailureIsDelayed(t *testing.T) {
	s, broker := testSupervisor(t, stubPipeline{err: errors.Ef(errors.KindDownloadFailed, "origin flaked")})

	job := enqueueAndClaim(t, broker)
	s.processJob(context.Background(), job)

	got, err := broker.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StateDelayed, got.State)
}

func TestProcessJobFatalFailureIsTerminal(t *testing.T) {
	s, broker := testSupervisor(t, stubPipeline{err: errors.Ef(errors.KindInvalidCodec, "codec wmv2 is not supported")})

	job := enqueueAndClaim(t, broker)
	s.processJob(context.Background(), job)

	got, err := broker.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StateFailed, got.State)
	require.Contains(t, got.Error, "InvalidCodec")
	require.Equal(t, 1, got.Attempts)
}

func TestProcessJobPanicBecomesTerminalFailure(t *testing.T) {
	s, broker := testSupervisor(t, stubPipeline{panics: true})

	job := enqueueAndClaim(t, broker)
	require.NotPanics(t, func() { s.processJob(context.Background(), job) })

	got, err := broker.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StateFailed, got.State)
	require.Contains(t, got.Error, "panic in job handler")
}

func TestProcessJobRemovedMidAttemptDiscardsResult(t *testing.T) {
	result := &queue.Result{OriginalBytes: 100}
	s, broker := testSupervisor(t, stubPipeline{result: result})

	job := enqueueAndClaim(t, broker)
	ok, err := broker.Remove(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	s.processJob(context.Background(), job)

	_, err = broker.Get(context.Background(), job.ID)
	require.ErrorIs(t, err, queue.ErrNotFound)
}

func TestRunSessionStopsOnShutdown(t *testing.T) {
	s, _ := testSupervisor(t, stubPipeline{result: &queue.Result{}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.runSession(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("session did not stop after shutdown signal")
	}
}
