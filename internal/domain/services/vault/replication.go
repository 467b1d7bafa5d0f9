package vault

import (
	"context"

	models "keyhaven/internal/domain/models/vault"
)

// ReplicationCoordinator copies changed secrets into replica folders.
type ReplicationCoordinator interface {
	HandleReplicationJob(ctx context.Context, jobID string, job models.ReplicationJob) error
}

// SyncService fans folder changes out to importers and replicas.
type SyncService interface {
	// EnqueueFolderChange records a committed write for propagation
	EnqueueFolderChange(ctx context.Context, change *models.FolderChange) error

	// EnqueueReplication schedules a replication job
	EnqueueReplication(ctx context.Context, job models.ReplicationJob) error

	// EnqueueSync schedules a sync job
	EnqueueSync(ctx context.Context, job models.SyncJob) error

	// HandleSyncJob processes one sync job
	HandleSyncJob(ctx context.Context, jobID string, job models.SyncJob) error
}

// ApprovalService decides whether writes need review and files requests.
type ApprovalService interface {
	// GetPolicy returns the policy covering (environment, path), or nil
	GetPolicy(ctx context.Context, projectID, envSlug, secretPath string) (*models.ApprovalPolicy, error)

	// CreateReplicationRequest files an open request for replicated changes
	CreateReplicationRequest(ctx context.Context, req *models.ApprovalRequest) (*models.ApprovalRequest, error)
}

// SnapshotService pins folder states.
type SnapshotService interface {
	CreateFolderSnapshot(ctx context.Context, folder *models.Folder) (*models.FolderSnapshot, error)
}

// ReminderService schedules and cancels secret rotation reminders.
type ReminderService interface {
	Schedule(ctx context.Context, secret models.Secret) error
	Cancel(ctx context.Context, secretID string) error
	HandleReminderJob(ctx context.Context, job models.ReminderJob) error
}
