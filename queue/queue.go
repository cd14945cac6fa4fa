package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ogxcoders/videopress/config"
	"github.com/ogxcoders/videopress/errors"
	"github.com/ogxcoders/videopress/log"
)

// Redis key layout. Everything is namespaced so the broker can share a Redis
// with other tenants of the same instance.
const (
	jobKeyPrefix       = "vc:job:"
	heartbeatKeyPrefix = "vc:heartbeat:"
	pendingKey         = "vc:queue:pending"
	activeKey          = "vc:queue:active"
	delayedKey         = "vc:queue:delayed"
	recentKey          = "vc:recent"
	statsKey           = "vc:stats"
	eventsChannel      = "vc:events"
)

const recentListCap = 100

// claimBlockTimeout bounds each BLMOVE so the claim loop can notice
// context cancellation and promote due delayed jobs.
const claimBlockTimeout = 2 * time.Second

var ErrAlreadyExists = fmt.Errorf("a job with this identity is already queued")
var ErrNotFound = fmt.Errorf("job not found")

// progressScript only advances progress while the job is still held in
// processing, keeping updates monotonic within an attempt.
var progressScript = redis.NewScript(`
local state = redis.call("HGET", KEYS[1], "state")
if state ~= "processing" then return 0 end
local cur = tonumber(redis.call("HGET", KEYS[1], "progress")) or 0
local new = tonumber(ARGV[1])
if new < cur then return 0 end
redis.call("HSET", KEYS[1], "progress", new, "stage", ARGV[2], "updated_at", ARGV[3])
return 1
`)

// Client is the durable queue over a shared Redis instance. All mutations are
// keyed by job ID and serialized through Redis itself.
type Client struct {
	rdb *redis.Client
}

func NewClient(addr, password string, db int) *Client {
	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// NewClientFromRedis wraps an existing connection, used by tests.
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return errors.E(errors.KindBrokerUnavailable, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

// Enqueue wraps the submission in a Job and persists it. It rejects a
// submission whose identity is already tracked in a non-terminal state.
func (c *Client) Enqueue(ctx context.Context, sub Submission) (*Job, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, config.EnqueueTimeout)
	defer cancel()

	now := config.Clock.GetTime()
	job := &Job{
		ID:         JobID(sub.PostID, now),
		Submission: sub,
		State:      StatePending,
		CreatedAt:  now.UnixMilli(),
		UpdatedAt:  now.UnixMilli(),
	}

	existing, err := c.Get(ctx, job.ID)
	if err != nil && err != ErrNotFound {
		return nil, 0, err
	}
	if existing != nil && !existing.State.IsTerminal() {
		return nil, 0, ErrAlreadyExists
	}

	data, err := json.Marshal(job.Submission)
	if err != nil {
		return nil, 0, errors.E(errors.KindInternalError, err)
	}

	pipe := c.rdb.TxPipeline()
	// Drop any stale terminal record for this identity before reusing it.
	pipe.Del(ctx, jobKey(job.ID))
	pipe.HSet(ctx, jobKey(job.ID), map[string]interface{}{
		"data":       string(data),
		"state":      string(StatePending),
		"progress":   0,
		"stage":      "",
		"attempts":   0,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	})
	pipe.LPush(ctx, pendingKey, job.ID)
	pipe.LPush(ctx, recentKey, job.ID)
	pipe.LTrim(ctx, recentKey, 0, recentListCap-1)
	queueLen := pipe.LLen(ctx, pendingKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, 0, errors.E(errors.KindBrokerUnavailable, err)
	}
	c.publish(ctx, Event{Type: EventWaiting, JobID: job.ID})

	return job, queueLen.Val(), nil
}

// ClaimNext blocks until a pending job is available or ctx is done. The
// BLMOVE-to-active move guarantees at most one worker observes a given job.
// Transient broker errors are retried transparently and never surfaced as
// job failures.
func (c *Client) ClaimNext(ctx context.Context, workerID string) (*Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.promoteDelayed(ctx)
		c.reapStalled(ctx)

		id, err := c.rdb.BLMove(ctx, pendingKey, activeKey, "right", "left", claimBlockTimeout).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.E(errors.KindBrokerUnavailable, err)
		}

		job, err := c.markClaimed(ctx, id, workerID)
		if err != nil {
			// The job hash is gone (cancelled between push and claim); drop it.
			log.Log(id, "dropping claimed job with no record", "err", err.Error())
			c.rdb.LRem(ctx, activeKey, 1, id)
			continue
		}
		c.publish(ctx, Event{Type: EventActive, JobID: job.ID})
		return job, nil
	}
}

func (c *Client) markClaimed(ctx context.Context, id, workerID string) (*Job, error) {
	job, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := config.TimestampUTC()
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(id), map[string]interface{}{
		"state":      string(StateProcessing),
		"worker":     workerID,
		"progress":   0,
		"updated_at": now,
	})
	pipe.HIncrBy(ctx, jobKey(id), "attempts", 1)
	pipe.Set(ctx, heartbeatKeyPrefix+id, workerID, config.StallWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.E(errors.KindBrokerUnavailable, err)
	}
	job.State = StateProcessing
	job.Progress = 0
	job.Attempts++
	job.UpdatedAt = now
	return job, nil
}

// UpdateProgress is best-effort: it no-ops when the job is no longer held and
// never regresses the percent within an attempt. It doubles as the stall
// heartbeat.
func (c *Client) UpdateProgress(ctx context.Context, id string, percent int, stage string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	_, err := progressScript.Run(ctx, c.rdb, []string{jobKey(id)},
		percent, stage, config.TimestampUTC()).Result()
	if err != nil {
		log.Log(id, "progress update dropped", "err", err.Error())
		return
	}
	c.rdb.Expire(ctx, heartbeatKeyPrefix+id, config.StallWindow)
}

// Complete writes the successful terminal record. Idempotent: a job already
// in a terminal state is left untouched.
func (c *Client) Complete(ctx context.Context, id string, result *Result) error {
	job, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.State.IsTerminal() {
		return nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return errors.E(errors.KindInternalError, err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(id), map[string]interface{}{
		"state":      string(StateCompleted),
		"progress":   100,
		"stage":      "complete",
		"result":     string(encoded),
		"updated_at": config.TimestampUTC(),
	})
	pipe.LRem(ctx, activeKey, 1, id)
	pipe.Del(ctx, heartbeatKeyPrefix+id)
	pipe.HIncrBy(ctx, statsKey, "completed", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.E(errors.KindBrokerUnavailable, err)
	}
	c.publish(ctx, Event{Type: EventCompleted, JobID: id})
	return nil
}

// Fail records a failed attempt. While retriable attempts remain the job is
// parked in delayed with exponential backoff; otherwise it becomes a terminal
// failure. Idempotent for terminal jobs.
func (c *Client) Fail(ctx context.Context, id string, errMsg string, retriable bool) error {
	job, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.State.IsTerminal() {
		return nil
	}

	now := config.TimestampUTC()
	if retriable && job.Attempts < config.MaxJobAttempts {
		backoff := time.Duration(float64(config.RetryBackoffBase) * math.Pow(2, float64(job.Attempts-1)))
		retryAt := config.Clock.GetTime().Add(backoff)
		pipe := c.rdb.TxPipeline()
		pipe.HSet(ctx, jobKey(id), map[string]interface{}{
			"state":      string(StateDelayed),
			"error":      errMsg,
			"updated_at": now,
		})
		pipe.LRem(ctx, activeKey, 1, id)
		pipe.Del(ctx, heartbeatKeyPrefix+id)
		pipe.ZAdd(ctx, delayedKey, redis.Z{Score: float64(retryAt.UnixMilli()), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return errors.E(errors.KindBrokerUnavailable, err)
		}
		c.publish(ctx, Event{Type: EventDelayed, JobID: id, Error: errMsg})
		return nil
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(id), map[string]interface{}{
		"state":      string(StateFailed),
		"error":      errMsg,
		"updated_at": now,
	})
	pipe.LRem(ctx, activeKey, 1, id)
	pipe.Del(ctx, heartbeatKeyPrefix+id)
	pipe.HIncrBy(ctx, statsKey, "failed", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.E(errors.KindBrokerUnavailable, err)
	}
	c.publish(ctx, Event{Type: EventFailed, JobID: id, Error: errMsg})
	return nil
}

// Retry re-queues a terminally failed job with a fresh attempt budget.
func (c *Client) Retry(ctx context.Context, id string) (bool, error) {
	job, err := c.Get(ctx, id)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if job.State != StateFailed {
		return false, nil
	}
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(id), map[string]interface{}{
		"state":      string(StatePending),
		"progress":   0,
		"stage":      "",
		"attempts":   0,
		"error":      "",
		"updated_at": config.TimestampUTC(),
	})
	pipe.HIncrBy(ctx, statsKey, "failed", -1)
	pipe.LPush(ctx, pendingKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, errors.E(errors.KindBrokerUnavailable, err)
	}
	c.publish(ctx, Event{Type: EventWaiting, JobID: id})
	return true, nil
}

// Remove cancels any non-terminal job. A job currently processing is simply
// forgotten; the worker finishes its attempt but the terminal record is
// discarded because the hash is gone.
func (c *Client) Remove(ctx context.Context, id string) (bool, error) {
	job, err := c.Get(ctx, id)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if job.State.IsTerminal() {
		return false, nil
	}
	pipe := c.rdb.TxPipeline()
	pipe.LRem(ctx, pendingKey, 0, id)
	pipe.LRem(ctx, activeKey, 0, id)
	pipe.ZRem(ctx, delayedKey, id)
	pipe.LRem(ctx, recentKey, 0, id)
	pipe.Del(ctx, jobKey(id))
	pipe.Del(ctx, heartbeatKeyPrefix+id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, errors.E(errors.KindBrokerUnavailable, err)
	}
	return true, nil
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	pipe := c.rdb.TxPipeline()
	pending := pipe.LLen(ctx, pendingKey)
	active := pipe.LLen(ctx, activeKey)
	delayed := pipe.ZCard(ctx, delayedKey)
	counters := pipe.HGetAll(ctx, statsKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, errors.E(errors.KindBrokerUnavailable, err)
	}
	completed, _ := strconv.ParseInt(counters.Val()["completed"], 10, 64)
	failed, _ := strconv.ParseInt(counters.Val()["failed"], 10, 64)
	return Stats{
		Pending:    pending.Val() + delayed.Val(),
		Processing: active.Val(),
		Completed:  completed,
		Failed:     failed,
	}, nil
}

// ListRecent returns up to limit of the most recently enqueued jobs.
func (c *Client) ListRecent(ctx context.Context, limit int64) ([]*Job, error) {
	if limit <= 0 || limit > recentListCap {
		limit = recentListCap
	}
	ids, err := c.rdb.LRange(ctx, recentKey, 0, limit-1).Result()
	if err != nil {
		return nil, errors.E(errors.KindBrokerUnavailable, err)
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := c.Get(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Get loads a job record by ID.
func (c *Client) Get(ctx context.Context, id string) (*Job, error) {
	fields, err := c.rdb.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, errors.E(errors.KindBrokerUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	job := &Job{ID: id, State: State(fields["state"]), Stage: fields["stage"], Error: fields["error"]}
	if err := json.Unmarshal([]byte(fields["data"]), &job.Submission); err != nil {
		return nil, errors.E(errors.KindInternalError, fmt.Errorf("corrupt job record %s: %w", id, err))
	}
	job.Progress, _ = strconv.Atoi(fields["progress"])
	job.Attempts, _ = strconv.Atoi(fields["attempts"])
	job.CreatedAt, _ = strconv.ParseInt(fields["created_at"], 10, 64)
	job.UpdatedAt, _ = strconv.ParseInt(fields["updated_at"], 10, 64)
	if raw := fields["result"]; raw != "" {
		job.Result = &Result{}
		if err := json.Unmarshal([]byte(raw), job.Result); err != nil {
			return nil, errors.E(errors.KindInternalError, fmt.Errorf("corrupt result record %s: %w", id, err))
		}
	}
	return job, nil
}

// FindByPostID returns the most recent job for a post, scanning the recent list.
func (c *Client) FindByPostID(ctx context.Context, postID int64) (*Job, error) {
	jobs, err := c.ListRecent(ctx, recentListCap)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if job.Submission.PostID == postID {
			return job, nil
		}
	}
	return nil, ErrNotFound
}

// promoteDelayed moves due retries back onto the pending list.
func (c *Client) promoteDelayed(ctx context.Context) {
	now := config.TimestampUTC()
	ids, err := c.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		removed, err := c.rdb.ZRem(ctx, delayedKey, id).Result()
		if err != nil || removed == 0 {
			// Another worker already promoted it.
			continue
		}
		pipe := c.rdb.TxPipeline()
		pipe.HSet(ctx, jobKey(id), "state", string(StatePending), "updated_at", now)
		pipe.LPush(ctx, pendingKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Log(id, "failed to promote delayed job", "err", err.Error())
			continue
		}
		c.publish(ctx, Event{Type: EventWaiting, JobID: id})
	}
}

// reapStalled returns claimed jobs whose heartbeat expired to pending.
func (c *Client) reapStalled(ctx context.Context) {
	ids, err := c.rdb.LRange(ctx, activeKey, 0, -1).Result()
	if err != nil {
		return
	}
	for _, id := range ids {
		alive, err := c.rdb.Exists(ctx, heartbeatKeyPrefix+id).Result()
		if err != nil || alive > 0 {
			continue
		}
		removed, err := c.rdb.LRem(ctx, activeKey, 1, id).Result()
		if err != nil || removed == 0 {
			continue
		}
		pipe := c.rdb.TxPipeline()
		pipe.HSet(ctx, jobKey(id), "state", string(StatePending), "updated_at", config.TimestampUTC())
		pipe.LPush(ctx, pendingKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Log(id, "failed to requeue stalled job", "err", err.Error())
			continue
		}
		log.Log(id, "requeued stalled job")
		c.publish(ctx, Event{Type: EventStalled, JobID: id})
	}
}

func (c *Client) publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := c.rdb.Publish(ctx, eventsChannel, payload).Err(); err != nil {
		log.Log(ev.JobID, "failed to publish queue event", "type", string(ev.Type), "err", err.Error())
	}
}

// Subscribe streams lifecycle events until ctx is done. Intended for logging;
// delivery is not guaranteed across broker restarts.
func (c *Client) Subscribe(ctx context.Context) <-chan Event {
	out := make(chan Event, 16)
	sub := c.rdb.Subscribe(ctx, eventsChannel)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
