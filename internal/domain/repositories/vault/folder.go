package vault

import (
	"context"

	models "keyhaven/internal/domain/models/vault"
)

// EnvironmentRepository defines data access operations for environments
type EnvironmentRepository interface {
	// GetBySlug returns the environment or a NotFoundError
	GetBySlug(ctx context.Context, projectID, slug string) (*models.Environment, error)

	// ListByIDs returns the environments with the given IDs, in any order
	ListByIDs(ctx context.Context, ids []string) ([]models.Environment, error)
}

// FolderRepository defines data access operations for folders
type FolderRepository interface {
	// ListByEnvIDs loads every folder of the given environments
	ListByEnvIDs(ctx context.Context, envIDs []string) ([]models.Folder, error)

	// GetByIDs returns the folders with the given IDs, in any order
	GetByIDs(ctx context.Context, ids []string) ([]models.Folder, error)

	// FindChild returns the child of parentID named name, or nil
	FindChild(ctx context.Context, parentID, name string) (*models.Folder, error)

	// Create inserts folder and fills in its ID and timestamps
	Create(ctx context.Context, folder *models.Folder) error
}
