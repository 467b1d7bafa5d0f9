package vault

import (
	"context"

	models "keyhaven/internal/domain/models/vault"
)

// FolderStore resolves folders by path and paths by folder.
type FolderStore interface {
	// FindBySecretPath returns the folder at secretPath, or nil when any
	// segment is missing
	FindBySecretPath(ctx context.Context, projectID, envSlug, secretPath string) (*models.Folder, error)

	// ResolveFolder is FindBySecretPath that reports a missing folder as NotFoundError
	ResolveFolder(ctx context.Context, projectID, envSlug, secretPath string) (*models.Folder, error)

	// FindByManySecretPath resolves several (environment, path) pairs. The
	// result is index-aligned with queries; unresolved entries are nil.
	FindByManySecretPath(ctx context.Context, queries []models.EnvPath) ([]*models.Folder, error)

	// FindSecretPathByFolderIDs returns the absolute path of each folder of
	// the project, index-aligned with folderIDs; unknown IDs yield nil.
	FindSecretPathByFolderIDs(ctx context.Context, projectID string, folderIDs []string) ([]*models.FolderPath, error)

	// FindOrCreateReservedFolder returns the hidden child of parent named name,
	// creating it on first use
	FindOrCreateReservedFolder(ctx context.Context, parent *models.Folder, name string) (*models.Folder, error)
}
