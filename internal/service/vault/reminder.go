package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	models "keyhaven/internal/domain/models/vault"
	vaultSvc "keyhaven/internal/domain/services/vault"
	"keyhaven/internal/queue"
)

const reminderDay = 24 * time.Hour

// ReminderJobID returns the queue job ID of a secret's rotation reminder
func ReminderJobID(secretID string) string {
	return "secret-reminder-" + secretID
}

type reminderService struct {
	queue    queue.Queue
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// NewReminderService creates a reminder service on the secret-reminder queue
func NewReminderService(q queue.Queue, attempts int, backoff time.Duration, logger *slog.Logger) vaultSvc.ReminderService {
	return &reminderService{
		queue:    q,
		attempts: attempts,
		backoff:  backoff,
		logger:   logger,
	}
}

// Schedule replaces the secret's pending reminder. Secrets without a repeat
// interval are ignored.
func (s *reminderService) Schedule(ctx context.Context, secret models.Secret) error {
	if secret.ReminderRepeatDays == nil || *secret.ReminderRepeatDays <= 0 {
		return nil
	}

	jobID := ReminderJobID(secret.ID)
	if err := s.queue.RemoveJob(ctx, queue.SecretReminder, jobID); err != nil {
		return fmt.Errorf("replace reminder: %w", err)
	}

	interval := time.Duration(*secret.ReminderRepeatDays) * reminderDay
	job := models.ReminderJob{
		SecretID:   secret.ID,
		FolderID:   secret.FolderID,
		RepeatDays: *secret.ReminderRepeatDays,
	}
	if secret.ReminderNote != nil {
		job.Note = *secret.ReminderNote
	}

	_, err := s.queue.Enqueue(ctx, queue.SecretReminder, queue.JobSecretReminder, job, queue.JobOptions{
		JobID:    jobID,
		Attempts: s.attempts,
		Backoff:  s.backoff,
		Delay:    interval,
		Repeat:   interval,
	})
	if err != nil {
		return fmt.Errorf("schedule reminder: %w", err)
	}
	return nil
}

func (s *reminderService) Cancel(ctx context.Context, secretID string) error {
	if err := s.queue.RemoveJob(ctx, queue.SecretReminder, ReminderJobID(secretID)); err != nil {
		return fmt.Errorf("cancel reminder: %w", err)
	}
	return nil
}

func (s *reminderService) HandleReminderJob(ctx context.Context, job models.ReminderJob) error {
	s.logger.Info("secret rotation reminder due",
		"secret_id", job.SecretID,
		"folder_id", job.FolderID,
		"repeat_days", job.RepeatDays,
		"note", job.Note,
	)
	return nil
}
