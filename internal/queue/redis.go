package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const failedHistory = 1000

// RedisQueue stores jobs in Redis: a ready list, a delayed sorted set scored
// by due time, and one key per job body.
type RedisQueue struct {
	client       redis.UniversalClient
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewRedisQueue creates a Redis backed queue
func NewRedisQueue(client redis.UniversalClient, logger *slog.Logger) *RedisQueue {
	return &RedisQueue{
		client:       client,
		pollInterval: time.Second,
		logger:       logger,
	}
}

func readyKey(q Name) string           { return fmt.Sprintf("queue:%s:ready", q) }
func delayedKey(q Name) string         { return fmt.Sprintf("queue:%s:delayed", q) }
func failedKey(q Name) string          { return fmt.Sprintf("queue:%s:failed", q) }
func jobKey(q Name, id string) string { return fmt.Sprintf("queue:%s:job:%s", q, id) }

// Enqueue stores the job and schedules it
func (r *RedisQueue) Enqueue(ctx context.Context, q Name, name JobName, payload interface{}, opts JobOptions) (string, error) {
	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	job, err := newJob(q, name, payload, opts, id)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}

	created, err := r.client.SetNX(ctx, jobKey(q, id), body, 0).Result()
	if err != nil {
		return "", fmt.Errorf("store job: %w", err)
	}
	if !created {
		r.logger.Debug("job already pending", "queue", q, "job_id", id)
		return id, nil
	}

	if err := r.schedule(ctx, q, id, opts.Delay); err != nil {
		return "", err
	}
	return id, nil
}

func (r *RedisQueue) schedule(ctx context.Context, q Name, id string, delay time.Duration) error {
	if delay > 0 {
		due := float64(time.Now().Add(delay).UnixMilli())
		if err := r.client.ZAdd(ctx, delayedKey(q), redis.Z{Score: due, Member: id}).Err(); err != nil {
			return fmt.Errorf("schedule job: %w", err)
		}
		return nil
	}
	if err := r.client.LPush(ctx, readyKey(q), id).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// promoteDue moves delayed jobs whose time has come onto the ready list.
// ZRem arbitrates between consumers racing for the same job.
func (r *RedisQueue) promoteDue(ctx context.Context, q Name) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := r.client.ZRangeByScore(ctx, delayedKey(q), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return fmt.Errorf("list due jobs: %w", err)
	}
	for _, id := range ids {
		removed, err := r.client.ZRem(ctx, delayedKey(q), id).Result()
		if err != nil {
			return fmt.Errorf("claim due job: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := r.client.LPush(ctx, readyKey(q), id).Err(); err != nil {
			return fmt.Errorf("push due job: %w", err)
		}
	}
	return nil
}

// StartConsumer processes jobs until ctx is cancelled
func (r *RedisQueue) StartConsumer(ctx context.Context, q Name, handler Handler) error {
	logger := r.logger.With("queue", q)
	logger.Info("queue consumer started")

	for {
		if ctx.Err() != nil {
			logger.Info("queue consumer stopped")
			return nil
		}

		if err := r.promoteDue(ctx, q); err != nil {
			logger.Warn("failed to promote delayed jobs", "error", err)
		}

		res, err := r.client.BRPop(ctx, r.pollInterval, readyKey(q)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			logger.Error("failed to pop job", "error", err)
			time.Sleep(r.pollInterval)
			continue
		}

		r.process(ctx, q, res[1], handler, logger)
	}
}

func (r *RedisQueue) process(ctx context.Context, q Name, id string, handler Handler, logger *slog.Logger) {
	body, err := r.client.Get(ctx, jobKey(q, id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Error("failed to load job", "job_id", id, "error", err)
		}
		// removed while pending
		return
	}

	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		logger.Error("dropping undecodable job", "job_id", id, "error", err)
		r.client.Del(ctx, jobKey(q, id))
		return
	}

	job.Attempt++
	err = handler(ctx, &job)
	if err == nil {
		if job.Options.Repeat > 0 {
			r.repeat(ctx, q, &job, logger)
			return
		}
		r.client.Del(ctx, jobKey(q, id))
		return
	}

	if job.Attempt < job.Options.Attempts {
		delay := RetryDelay(job.Options.Backoff, job.Attempt)
		logger.Warn("job failed, retrying",
			"job_id", id,
			"name", job.Name,
			"attempt", job.Attempt,
			"retry_in", delay,
			"error", err,
		)
		if body, mErr := json.Marshal(job); mErr == nil {
			r.client.Set(ctx, jobKey(q, id), body, 0)
		}
		if sErr := r.schedule(ctx, q, id, delay); sErr != nil {
			logger.Error("failed to reschedule job", "job_id", id, "error", sErr)
		}
		return
	}

	logger.Error("job failed permanently",
		"job_id", id,
		"name", job.Name,
		"attempts", job.Attempt,
		"error", err,
	)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, failedKey(q), body)
	pipe.LTrim(ctx, failedKey(q), 0, failedHistory-1)
	pipe.Del(ctx, jobKey(q, id))
	if _, pErr := pipe.Exec(ctx); pErr != nil {
		logger.Error("failed to archive job", "job_id", id, "error", pErr)
	}
}

// repeat stores the job back with a fresh attempt count and schedules its
// next run
func (r *RedisQueue) repeat(ctx context.Context, q Name, job *Job, logger *slog.Logger) {
	job.Attempt = 0
	body, err := json.Marshal(job)
	if err != nil {
		logger.Error("failed to encode repeating job", "job_id", job.ID, "error", err)
		return
	}
	if err := r.client.Set(ctx, jobKey(q, job.ID), body, 0).Err(); err != nil {
		logger.Error("failed to store repeating job", "job_id", job.ID, "error", err)
		return
	}
	if err := r.schedule(ctx, q, job.ID, job.Options.Repeat); err != nil {
		logger.Error("failed to reschedule repeating job", "job_id", job.ID, "error", err)
	}
}

// RemoveJob drops a pending job
func (r *RedisQueue) RemoveJob(ctx context.Context, q Name, jobID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, jobKey(q, jobID))
	pipe.ZRem(ctx, delayedKey(q), jobID)
	pipe.LRem(ctx, readyKey(q), 0, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove job %s: %w", jobID, err)
	}
	return nil
}
