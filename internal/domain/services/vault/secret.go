package vault

import (
	"context"

	models "keyhaven/internal/domain/models/vault"
)

// ImportResolver expands import graphs into the secrets they expose.
type ImportResolver interface {
	// ResolveImports follows imports transitively up to depthLimit levels,
	// visiting each (environment, path) at most once
	ResolveImports(ctx context.Context, imports []models.SecretImport, depthLimit int) ([]models.ImportedSecrets, error)

	// EffectiveSecrets returns the folder's own secrets (with userID's
	// personal overrides) merged with the allowed imports
	EffectiveSecrets(ctx context.Context, folderID, userID string, allowedImports []models.SecretImport) ([]models.Secret, error)
}

// MutationEngine performs versioned batch writes of secrets. Each call runs
// in one transaction, joining the caller's when ctx carries one.
type MutationEngine interface {
	BulkInsert(ctx context.Context, folderID string, specs []models.SecretSpec) ([]models.Secret, error)
	BulkUpdate(ctx context.Context, folderID string, updates []models.SecretUpdate) ([]models.Secret, error)
	BulkDelete(ctx context.Context, folderID string, specs []models.SecretDeleteSpec, actorID string) ([]models.Secret, error)
}

// SecretService is the read surface over a folder's effective secrets.
type SecretService interface {
	GetEffectiveSecrets(ctx context.Context, req *EffectiveSecretsRequest) ([]models.DecryptedSecret, error)
}

// EffectiveSecretsRequest selects a folder and how to render its secrets.
type EffectiveSecretsRequest struct {
	ProjectID      string       `json:"project_id"`
	Environment    string       `json:"environment"`
	SecretPath     string       `json:"secret_path"`
	IncludeImports bool         `json:"include_imports"`
	Expand         bool         `json:"expand"`
	Actor          models.Actor `json:"-"`
}

// SecretExpander interpolates ${KEY} and ${env.path.KEY} references. Every
// referenced (environment, path) must be readable under permission.
type SecretExpander interface {
	Expand(ctx context.Context, projectID, environment, secretPath string, permission ProjectPermission, secrets []models.DecryptedSecret) ([]models.DecryptedSecret, error)
}
