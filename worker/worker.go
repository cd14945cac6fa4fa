package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ogxcoders/videopress/clients"
	"github.com/ogxcoders/videopress/config"
	"github.com/ogxcoders/videopress/errors"
	"github.com/ogxcoders/videopress/log"
	"github.com/ogxcoders/videopress/metrics"
	"github.com/ogxcoders/videopress/queue"
	"github.com/ogxcoders/videopress/video"
)

// Pipeline runs one attempt of a claimed job.
type Pipeline interface {
	Process(ctx context.Context, job *queue.Job) (*queue.Result, error)
}

// Supervisor owns the claim loop: it enforces the concurrency cap and claim
// rate, survives broker outages with backed-off restarts, and drains in-flight
// jobs on shutdown.
type Supervisor struct {
	cfg      config.Cli
	broker   *queue.Client
	pipeline Pipeline
	callback *clients.CallbackClient
	workerID string

	// consecutive failed sessions, drives the restart backoff
	failures int
}

func New(cfg config.Cli, broker *queue.Client, pipeline Pipeline, callback *clients.CallbackClient) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		broker:   broker,
		pipeline: pipeline,
		callback: callback,
		workerID: "worker-" + uuid.NewString()[:8],
	}
}

// initial start: linear backoff between connection attempts
const startAttempts = 10
const startBackoffStep = 2 * time.Second

// supervisory restarts: min(5s × 2^k, 60s)
const restartBackoffBase = 5 * time.Second
const restartBackoffCap = 60 * time.Second

func restartDelay(consecutiveFailures int) time.Duration {
	delay := restartBackoffBase
	for i := 0; i < consecutiveFailures; i++ {
		delay *= 2
		if delay >= restartBackoffCap {
			return restartBackoffCap
		}
	}
	return delay
}

// CheckEnvironment verifies the media directories are writable and the
// transcoder binary is present. A failure here is fatal at startup.
func (s *Supervisor) CheckEnvironment() error {
	for _, dir := range []string{s.cfg.UploadsDir, s.cfg.ContentDir} {
		if dir == "" {
			return fmt.Errorf("media directory not configured")
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create media directory %s: %w", dir, err)
		}
		probe := filepath.Join(dir, ".write-check")
		if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
			return fmt.Errorf("media directory %s is not writable: %w", dir, err)
		}
		os.Remove(probe)
	}
	if err := (video.FFmpeg{}).CheckBinary(); err != nil {
		return err
	}
	return nil
}

// Run blocks until ctx is cancelled. Broker connection failures never
// propagate out; they only reschedule the claim session.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.waitForBroker(ctx); err != nil {
		return err
	}

	go s.logEvents(ctx)

	for {
		sessionStart := time.Now()
		err := s.runSession(ctx)
		if ctx.Err() != nil {
			log.LogNoJobID("worker shut down", "worker_id", s.workerID)
			return nil
		}
		if err != nil {
			// A session that held up for a while resets the failure streak.
			if time.Since(sessionStart) > time.Minute {
				s.failures = 0
			}
			delay := restartDelay(s.failures)
			s.failures++
			log.LogNoJobID("worker session ended, scheduling restart",
				"worker_id", s.workerID, "err", err.Error(), "restart_in", delay.String())
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// waitForBroker performs the bounded initial connection attempts before the
// supervisor enters its unbounded restart mode.
func (s *Supervisor) waitForBroker(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= startAttempts; attempt++ {
		if err = s.broker.Ping(ctx); err == nil {
			log.LogNoJobID("worker connected to broker", "worker_id", s.workerID, "attempt", attempt)
			return nil
		}
		log.LogNoJobID("broker not reachable yet", "attempt", attempt, "err", err.Error())
		select {
		case <-time.After(time.Duration(attempt) * startBackoffStep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	// Give up on the bounded phase but keep supervising; the session loop
	// applies its own backoff from here on.
	log.LogNoJobID("broker still unreachable after initial attempts, entering supervisory mode", "err", err.Error())
	return nil
}

// runSession claims and processes jobs until the broker errors or ctx is
// cancelled. In-flight jobs get the drain window before the session returns.
func (s *Supervisor) runSession(ctx context.Context) error {
	concurrency := s.cfg.ParallelLimit
	if concurrency < 1 {
		concurrency = 1
	}

	// Claims are rate limited to the concurrency cap per second so a retry
	// storm can't hammer the broker.
	claimInterval := time.Second / time.Duration(concurrency)
	limiter := time.NewTicker(claimInterval)
	defer limiter.Stop()

	sem := make(chan struct{}, concurrency)
	var inflight sync.WaitGroup
	defer s.drain(&inflight)

	// Jobs outlive the session context by the drain window so a shutdown
	// signal doesn't abandon work mid-stage.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	go func() {
		<-ctx.Done()
		time.Sleep(config.ShutdownDrainTimeout)
		cancelJobs()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-limiter.C:
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		job, err := s.broker.ClaimNext(ctx, s.workerID)
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		inflight.Add(1)
		go func(job *queue.Job) {
			defer inflight.Done()
			defer func() { <-sem }()
			s.processJob(jobCtx, job)
		}(job)
	}
}

func (s *Supervisor) drain(inflight *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(config.ShutdownDrainTimeout):
		// Whatever didn't finish returns to pending via stall detection.
		log.LogNoJobID("drain window elapsed with jobs still in flight")
	}
}

// processJob runs one attempt and writes the outcome back to the broker. A
// panic in job handling becomes a terminal failure rather than killing the
// worker.
func (s *Supervisor) processJob(ctx context.Context, job *queue.Job) {
	ctx = log.WithLogValues(ctx, "job_id", job.ID, "worker_id", s.workerID)
	log.Log(job.ID, "processing job", "worker_id", s.workerID, "attempt", job.Attempts)
	started := time.Now()
	metrics.Metrics.JobsInFlight.Inc()
	defer func() {
		metrics.Metrics.JobsInFlight.Dec()
		metrics.Metrics.JobDurationSec.Observe(time.Since(started).Seconds())
	}()

	var result *queue.Result
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.LogNoJobID("panic in job handler", "job_id", job.ID, "panic", fmt.Sprint(r), "trace", string(debug.Stack()))
				err = errors.Ef(errors.KindInternalError, "panic in job handler: %v", r)
				err = errors.Unretriable(err)
			}
		}()
		result, err = s.pipeline.Process(ctx, job)
	}()

	if err == nil {
		if cErr := s.broker.Complete(ctx, job.ID, result); cErr != nil {
			if cErr == queue.ErrNotFound {
				// Cancelled mid-attempt: the result record is discarded.
				log.Log(job.ID, "job was removed during processing, discarding result")
				return
			}
			log.LogError(job.ID, "failed to write terminal record", cErr)
			return
		}
		if sendErr := s.callback.Send(clients.NewCompletionMessage(job.ID, job.Submission.PostID, result)); sendErr != nil {
			log.LogError(job.ID, "completion webhook undelivered", sendErr)
		}
		metrics.Metrics.JobsCompleted.Inc()
		log.Log(job.ID, "job completed")
		return
	}

	retriable := !errors.IsUnretriable(err)
	log.LogError(job.ID, "attempt failed", err, "retriable", retriable, "attempt", job.Attempts)
	if fErr := s.broker.Fail(ctx, job.ID, err.Error(), retriable); fErr != nil {
		if fErr != queue.ErrNotFound {
			log.LogError(job.ID, "failed to record attempt failure", fErr)
		}
		return
	}

	// Only exhausted (or fatal) failures notify the caller; a scheduled
	// retry stays internal.
	final, gErr := s.broker.Get(ctx, job.ID)
	if gErr == nil && final.State == queue.StateFailed {
		metrics.Metrics.JobsFailed.Inc()
		if sendErr := s.callback.Send(clients.NewFailureMessage(job.ID, job.Submission.PostID, err.Error())); sendErr != nil {
			log.LogError(job.ID, "failure webhook undelivered", sendErr)
		}
	}
}

// logEvents mirrors broker lifecycle events into the log.
func (s *Supervisor) logEvents(ctx context.Context) {
	for ev := range s.broker.Subscribe(ctx) {
		log.Log(ev.JobID, "queue event", "type", string(ev.Type), "error", ev.Error)
	}
}
