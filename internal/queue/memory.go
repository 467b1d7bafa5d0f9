package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type pendingJob struct {
	job     *Job
	readyAt time.Time
}

// MemoryQueue is an in-process Queue. Jobs are lost on restart.
type MemoryQueue struct {
	mu      sync.Mutex
	pending map[Name][]*pendingJob
	wake    chan struct{}
	logger  *slog.Logger
}

// NewMemoryQueue creates an in-process queue
func NewMemoryQueue(logger *slog.Logger) *MemoryQueue {
	return &MemoryQueue{
		pending: make(map[Name][]*pendingJob),
		wake:    make(chan struct{}, 1),
		logger:  logger,
	}
}

// Enqueue adds a job unless one with the same ID is pending
func (m *MemoryQueue) Enqueue(ctx context.Context, q Name, name JobName, payload interface{}, opts JobOptions) (string, error) {
	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	job, err := newJob(q, name, payload, opts, id)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	for _, p := range m.pending[q] {
		if p.job.ID == id {
			m.mu.Unlock()
			return id, nil
		}
	}
	m.pending[q] = append(m.pending[q], &pendingJob{job: job, readyAt: time.Now().Add(opts.Delay)})
	m.mu.Unlock()

	m.signal()
	return id, nil
}

func (m *MemoryQueue) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Pending returns a copy of the jobs waiting in q, in enqueue order
func (m *MemoryQueue) Pending(q Name) []Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs := make([]Job, 0, len(m.pending[q]))
	for _, p := range m.pending[q] {
		jobs = append(jobs, *p.job)
	}
	return jobs
}

// next pops the first job of q that is due, ignoring delays when force is set
func (m *MemoryQueue) next(q Name, force bool) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for i, p := range m.pending[q] {
		if force || !p.readyAt.After(now) {
			m.pending[q] = append(m.pending[q][:i:i], m.pending[q][i+1:]...)
			return p.job
		}
	}
	return nil
}

func (m *MemoryQueue) run(ctx context.Context, q Name, job *Job, handler Handler) {
	job.Attempt++
	err := handler(ctx, job)
	if err == nil {
		if job.Options.Repeat > 0 {
			job.Attempt = 0
			m.mu.Lock()
			m.pending[q] = append(m.pending[q], &pendingJob{job: job, readyAt: time.Now().Add(job.Options.Repeat)})
			m.mu.Unlock()
		}
		return
	}
	if job.Attempt >= job.Options.Attempts {
		m.logger.Error("job failed permanently", "queue", q, "job_id", job.ID, "attempts", job.Attempt, "error", err)
		return
	}

	delay := RetryDelay(job.Options.Backoff, job.Attempt)
	m.logger.Warn("job failed, retrying", "queue", q, "job_id", job.ID, "attempt", job.Attempt, "retry_in", delay, "error", err)

	m.mu.Lock()
	m.pending[q] = append(m.pending[q], &pendingJob{job: job, readyAt: time.Now().Add(delay)})
	m.mu.Unlock()
}

// StartConsumer processes jobs until ctx is cancelled
func (m *MemoryQueue) StartConsumer(ctx context.Context, q Name, handler Handler) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		for job := m.next(q, false); job != nil; job = m.next(q, false) {
			m.run(ctx, q, job, handler)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-m.wake:
		case <-ticker.C:
		}
	}
}

// Drain runs every job of q synchronously, delays and retry waits included,
// until the queue is empty or maxRuns handler calls were made. It returns
// the number of handler calls.
func (m *MemoryQueue) Drain(ctx context.Context, q Name, handler Handler, maxRuns int) int {
	runs := 0
	for runs < maxRuns {
		job := m.next(q, true)
		if job == nil {
			break
		}
		m.run(ctx, q, job, handler)
		runs++
	}
	return runs
}

// RemoveJob drops a pending job
func (m *MemoryQueue) RemoveJob(ctx context.Context, q Name, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.pending[q][:0]
	for _, p := range m.pending[q] {
		if p.job.ID != jobID {
			kept = append(kept, p)
		}
	}
	m.pending[q] = kept
	return nil
}
