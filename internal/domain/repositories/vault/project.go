package vault

import (
	"context"

	models "keyhaven/internal/domain/models/vault"
)

// ProjectRepository defines data access operations for projects
type ProjectRepository interface {
	GetByID(ctx context.Context, id string) (*models.Project, error)

	// GetKeys returns the wrapped key material of a project
	GetKeys(ctx context.Context, projectID string) (*models.ProjectKeys, error)
}

// MembershipRepository resolves project roles
type MembershipRepository interface {
	// GetRole returns the actor's role in the project or a NotFoundError
	GetRole(ctx context.Context, projectID, actorID string) (models.MemberRole, error)
}

// ApprovalPolicyRepository defines data access operations for approval policies
type ApprovalPolicyRepository interface {
	// ListByEnv returns the policies of an environment
	ListByEnv(ctx context.Context, projectID, envID string) ([]models.ApprovalPolicy, error)
}

// ApprovalRequestRepository defines data access operations for approval requests
type ApprovalRequestRepository interface {
	// Create inserts the request and its commits
	Create(ctx context.Context, req *models.ApprovalRequest) error
}

// SnapshotRepository defines data access operations for folder snapshots
type SnapshotRepository interface {
	Create(ctx context.Context, snapshot *models.FolderSnapshot) error
}
