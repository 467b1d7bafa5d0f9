// Package queue is a small durable job queue with retries, delays and job-ID
// deduplication. RedisQueue backs production; MemoryQueue serves tests and
// single-process development.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Name identifies a queue.
type Name string

const (
	SecretReplication Name = "secret-replication"
	SecretSync        Name = "secret-sync"
	SecretReminder    Name = "secret-reminder"
)

// JobName identifies the kind of job within a queue.
type JobName string

const (
	JobSecretReplication JobName = "secret-replication"
	JobSecretSync        JobName = "secret-sync"
	JobSecretReminder    JobName = "secret-reminder"
)

// maxRetryInterval caps the exponential retry delay
const maxRetryInterval = 5 * time.Minute

// JobOptions control delivery of a job.
type JobOptions struct {
	// JobID makes enqueueing idempotent: a job with the same ID still pending
	// is kept and the new one dropped. Empty means a random ID.
	JobID string `json:"job_id,omitempty"`
	// Attempts is the total number of tries, including the first.
	Attempts int `json:"attempts"`
	// Backoff is the first retry delay; it doubles on each retry.
	Backoff time.Duration `json:"backoff"`
	// Delay postpones the first try.
	Delay time.Duration `json:"delay,omitempty"`
	// Repeat re-runs a succeeded job after this interval instead of
	// discarding it.
	Repeat time.Duration `json:"repeat,omitempty"`
}

// Job is a unit of work as stored in a queue.
type Job struct {
	ID         string          `json:"id"`
	Queue      Name            `json:"queue"`
	Name       JobName         `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	Options    JobOptions      `json:"options"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Decode unmarshals the job payload into v
func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Name, err)
	}
	return nil
}

// Handler processes one job. A returned error schedules a retry while
// attempts remain.
type Handler func(ctx context.Context, job *Job) error

// Queue is a durable job queue.
type Queue interface {
	// Enqueue adds a job and returns its ID
	Enqueue(ctx context.Context, queue Name, name JobName, payload interface{}, opts JobOptions) (string, error)

	// StartConsumer processes jobs from queue until ctx is cancelled
	StartConsumer(ctx context.Context, queue Name, handler Handler) error

	// RemoveJob drops a pending job. Removing an unknown job is not an error.
	RemoveJob(ctx context.Context, queue Name, jobID string) error
}

// RetryDelay returns the wait before retry number attempt (1-based) of a
// job whose first retry waits initial.
func RetryDelay(initial time.Duration, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = maxRetryInterval
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func newJob(queue Name, name JobName, payload interface{}, opts JobOptions, id string) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", name, err)
	}
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	return &Job{
		ID:         id,
		Queue:      queue,
		Name:       name,
		Payload:    raw,
		Options:    opts,
		EnqueuedAt: time.Now(),
	}, nil
}
