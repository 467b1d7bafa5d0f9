package vault

import (
	"context"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/samber/lo"

	"keyhaven/internal/config"
	"keyhaven/internal/domain"
	models "keyhaven/internal/domain/models/vault"
	vaultRepo "keyhaven/internal/domain/repositories/vault"
	vaultSvc "keyhaven/internal/domain/services/vault"
	"keyhaven/internal/queue"
)

type syncService struct {
	folders    vaultSvc.FolderStore
	importRepo vaultRepo.SecretImportRepository
	queue      queue.Queue
	tunables   config.Tunables
	logger     *slog.Logger
}

// NewSyncService creates the service that fans folder changes out over the
// import graph
func NewSyncService(
	folders vaultSvc.FolderStore,
	importRepo vaultRepo.SecretImportRepository,
	q queue.Queue,
	tunables config.Tunables,
	logger *slog.Logger,
) vaultSvc.SyncService {
	return &syncService{
		folders:    folders,
		importRepo: importRepo,
		queue:      q,
		tunables:   tunables,
		logger:     logger,
	}
}

func (s *syncService) jobOptions() queue.JobOptions {
	return queue.JobOptions{
		Attempts: s.tunables.QueueAttempts,
		Backoff:  s.tunables.QueueBackoff,
	}
}

func (s *syncService) EnqueueFolderChange(ctx context.Context, change *models.FolderChange) error {
	err := validation.ValidateStruct(change,
		validation.Field(&change.ProjectID, validation.Required),
		validation.Field(&change.EnvironmentSlug, validation.Required),
		validation.Field(&change.SecretPath, validation.Required),
	)
	if err != nil {
		return &domain.ValidationError{Message: err.Error()}
	}

	secretPath, err := NormalizeSecretPath(change.SecretPath)
	if err != nil {
		return err
	}
	if _, err := s.folders.ResolveFolder(ctx, change.ProjectID, change.EnvironmentSlug, secretPath); err != nil {
		return err
	}

	return s.EnqueueSync(ctx, models.SyncJob{
		ProjectID:       change.ProjectID,
		OrgID:           change.Actor.OrgID,
		EnvironmentSlug: change.EnvironmentSlug,
		SecretPath:      secretPath,
		ActorID:         change.Actor.ID,
		Actor:           change.Actor.Type,
		Secrets:         change.Secrets,
	})
}

// EnqueueSync schedules a sync job. Propagation-only passes for the same
// folder collapse into one pending job.
func (s *syncService) EnqueueSync(ctx context.Context, job models.SyncJob) error {
	opts := s.jobOptions()
	if job.ExcludeReplication {
		opts.JobID = fmt.Sprintf("sync-%s-%s-%s", job.ProjectID, job.EnvironmentSlug, job.SecretPath)
		opts.Delay = s.tunables.SyncDebounce
	}

	id, err := s.queue.Enqueue(ctx, queue.SecretSync, queue.JobSecretSync, job, opts)
	if err != nil {
		return fmt.Errorf("enqueue sync: %w", err)
	}

	s.logger.Debug("sync job enqueued",
		"job_id", id,
		"environment", job.EnvironmentSlug,
		"secret_path", job.SecretPath,
		"depth", job.Depth,
	)
	return nil
}

func (s *syncService) EnqueueReplication(ctx context.Context, job models.ReplicationJob) error {
	if len(job.Secrets) == 0 {
		return nil
	}

	id, err := s.queue.Enqueue(ctx, queue.SecretReplication, queue.JobSecretReplication, job, s.jobOptions())
	if err != nil {
		return fmt.Errorf("enqueue replication: %w", err)
	}

	s.logger.Debug("replication job enqueued",
		"job_id", id,
		"folder_id", job.FolderID,
		"secret_path", job.SecretPath,
		"secrets", len(job.Secrets),
		"depth", job.Depth,
	)
	return nil
}

// HandleSyncJob notifies every folder importing the changed one, then hands
// the changed secrets to replication
func (s *syncService) HandleSyncJob(ctx context.Context, jobID string, job models.SyncJob) error {
	logger := s.logger.With("job_id", jobID, "environment", job.EnvironmentSlug, "secret_path", job.SecretPath)

	if job.Depth > s.tunables.SyncImportDepth {
		logger.Warn("sync depth exceeded, stopping propagation", "depth", job.Depth)
		return nil
	}

	folder, err := s.folders.FindBySecretPath(ctx, job.ProjectID, job.EnvironmentSlug, job.SecretPath)
	if err != nil {
		return err
	}
	if folder == nil {
		logger.Info("sync target no longer exists")
		return nil
	}

	visited := lo.SliceToMap(job.Visited, func(k string) (string, struct{}) { return k, struct{}{} })
	visited[importKey(job.EnvironmentSlug, job.SecretPath)] = struct{}{}

	importers, err := s.importRepo.FindByTarget(ctx, folder.EnvID, job.SecretPath, false)
	if err != nil {
		return fmt.Errorf("load importers: %w", err)
	}
	importerIDs := lo.Map(importers, func(imp models.SecretImport, _ int) string { return imp.FolderID })
	// A reserved folder is read through its parent's replication import
	if folder.IsReserved && folder.ParentID != nil {
		importerIDs = append(importerIDs, *folder.ParentID)
	}
	importerIDs = lo.Uniq(importerIDs)

	paths, err := s.folders.FindSecretPathByFolderIDs(ctx, job.ProjectID, importerIDs)
	if err != nil {
		return err
	}

	var targets []*models.FolderPath
	for _, fp := range paths {
		if fp == nil {
			continue
		}
		key := importKey(fp.EnvironmentSlug, fp.Path)
		if _, seen := visited[key]; seen {
			continue
		}
		visited[key] = struct{}{}
		targets = append(targets, fp)
	}

	visitedKeys := lo.Keys(visited)
	for _, fp := range targets {
		err := s.EnqueueSync(ctx, models.SyncJob{
			ProjectID:          job.ProjectID,
			OrgID:              job.OrgID,
			EnvironmentSlug:    fp.EnvironmentSlug,
			SecretPath:         fp.Path,
			ActorID:            job.ActorID,
			Actor:              job.Actor,
			ExcludeReplication: true,
			Depth:              job.Depth + 1,
			Visited:            visitedKeys,
		})
		if err != nil {
			return err
		}
	}

	if !job.ExcludeReplication {
		err := s.EnqueueReplication(ctx, models.ReplicationJob{
			FolderID:        folder.ID,
			SecretPath:      job.SecretPath,
			EnvironmentID:   folder.EnvID,
			EnvironmentSlug: job.EnvironmentSlug,
			ProjectID:       job.ProjectID,
			OrgID:           job.OrgID,
			Secrets:         job.Secrets,
			ActorID:         job.ActorID,
			Actor:           job.Actor,
		})
		if err != nil {
			return err
		}
	}

	logger.Info("folder synced",
		"folder_id", folder.ID,
		"importers", len(targets),
		"depth", job.Depth,
	)
	return nil
}
