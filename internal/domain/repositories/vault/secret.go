package vault

import (
	"context"

	models "keyhaven/internal/domain/models/vault"
)

// SecretRepository defines data access operations for secrets
type SecretRepository interface {
	// FindSharedByFolderIDs returns the shared secrets of the given folders
	FindSharedByFolderIDs(ctx context.Context, folderIDs []string) ([]models.Secret, error)

	// FindByFolderID returns the shared secrets of a folder plus the personal
	// secrets of userID. An empty userID returns shared secrets only.
	FindByFolderID(ctx context.Context, folderID, userID string) ([]models.Secret, error)

	// InsertMany inserts the secrets at version 1 and returns them in input order.
	// Blind index collisions surface as ConflictError.
	InsertMany(ctx context.Context, folderID string, specs []models.SecretSpec) ([]models.Secret, error)

	// UpdateOne applies data to the secret matched by filter, bumping its
	// version. Returns nil when nothing matched.
	UpdateOne(ctx context.Context, folderID string, filter models.SecretFilter, data models.SecretUpdateData) (*models.Secret, error)

	// DeleteMany removes every secret matched by models.MatchesDelete and
	// returns the removed rows.
	DeleteMany(ctx context.Context, folderID string, specs []models.SecretDeleteSpec, actorID string) ([]models.Secret, error)

	// ReplaceReferences sets the recorded references of each secret
	ReplaceReferences(ctx context.Context, refs map[string][]models.SecretReference) error
}

// SecretVersionRepository defines data access operations for secret versions
type SecretVersionRepository interface {
	// InsertMany appends versions and returns them with IDs, in input order
	InsertMany(ctx context.Context, versions []models.SecretVersion) ([]models.SecretVersion, error)

	// FindByKeys returns the versions addressed by keys, in any order
	FindByKeys(ctx context.Context, keys []models.SecretVersionKey) ([]models.SecretVersion, error)

	// FindLatestReplicated returns, per secret, the highest version already
	// marked replicated. Secrets with none are absent from the map.
	FindLatestReplicated(ctx context.Context, secretIDs []string) (map[string]int, error)

	// FindLatest returns the newest version of each secret of folderID
	FindLatest(ctx context.Context, folderID string, secretIDs []string) (map[string]models.SecretVersion, error)

	// MarkReplicated flags the given versions as replicated
	MarkReplicated(ctx context.Context, versionIDs []string) error
}

// SecretTagRepository defines data access operations for tags
type SecretTagRepository interface {
	// FindByIDs returns the tags with the given IDs
	FindByIDs(ctx context.Context, ids []string) ([]models.SecretTag, error)

	// LinkSecrets attaches tags to secrets
	LinkSecrets(ctx context.Context, links []models.TagLink) error

	// LinkVersions attaches tags to secret versions
	LinkVersions(ctx context.Context, links []models.TagLink) error

	// UnlinkSecrets removes every tag from the given secrets
	UnlinkSecrets(ctx context.Context, secretIDs []string) error
}

// SecretImportRepository defines data access operations for imports
type SecretImportRepository interface {
	// FindByFolderIDs returns the imports declared by the given folders ordered
	// by folder and position. Replication imports are skipped unless
	// includeReplication is set.
	FindByFolderIDs(ctx context.Context, folderIDs []string, includeReplication bool) ([]models.SecretImport, error)

	// FindByTarget returns imports of (importEnvID, importPath) ordered by ID
	FindByTarget(ctx context.Context, importEnvID, importPath string, replication bool) ([]models.SecretImport, error)

	// UpdateReplicationStatus records the result of replicating an import
	UpdateReplicationStatus(ctx context.Context, id string, update models.ReplicationStatusUpdate) error
}
