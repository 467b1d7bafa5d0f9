// Package worker runs the background consumers of the secret pipeline
// queues and routes their jobs to the vault services.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	models "keyhaven/internal/domain/models/vault"
	vaultSvc "keyhaven/internal/domain/services/vault"
	"keyhaven/internal/queue"
)

// Worker consumes the replication, sync and reminder queues.
type Worker struct {
	queue       queue.Queue
	replication vaultSvc.ReplicationCoordinator
	sync        vaultSvc.SyncService
	reminders   vaultSvc.ReminderService
	concurrency int
	logger      *slog.Logger
}

// New creates a worker running concurrency consumers per queue
func New(
	q queue.Queue,
	replication vaultSvc.ReplicationCoordinator,
	sync vaultSvc.SyncService,
	reminders vaultSvc.ReminderService,
	concurrency int,
	logger *slog.Logger,
) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		queue:       q,
		replication: replication,
		sync:        sync,
		reminders:   reminders,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run blocks until ctx is cancelled or a consumer fails
func (w *Worker) Run(ctx context.Context) error {
	handlers := map[queue.Name]queue.Handler{
		queue.SecretReplication: w.handleReplication,
		queue.SecretSync:        w.handleSync,
		queue.SecretReminder:    w.handleReminder,
	}

	g, ctx := errgroup.WithContext(ctx)
	for name, handler := range handlers {
		for i := 0; i < w.concurrency; i++ {
			g.Go(func() error {
				if err := w.queue.StartConsumer(ctx, name, handler); err != nil {
					return fmt.Errorf("consumer %s: %w", name, err)
				}
				return nil
			})
		}
	}

	w.logger.Info("workers started", "queues", len(handlers), "concurrency", w.concurrency)
	err := g.Wait()
	w.logger.Info("workers stopped")
	return err
}

func (w *Worker) handleReplication(ctx context.Context, job *queue.Job) error {
	var payload models.ReplicationJob
	if err := job.Decode(&payload); err != nil {
		return err
	}
	return w.replication.HandleReplicationJob(ctx, job.ID, payload)
}

func (w *Worker) handleSync(ctx context.Context, job *queue.Job) error {
	var payload models.SyncJob
	if err := job.Decode(&payload); err != nil {
		return err
	}
	return w.sync.HandleSyncJob(ctx, job.ID, payload)
}

func (w *Worker) handleReminder(ctx context.Context, job *queue.Job) error {
	var payload models.ReminderJob
	if err := job.Decode(&payload); err != nil {
		return err
	}
	return w.reminders.HandleReminderJob(ctx, payload)
}
