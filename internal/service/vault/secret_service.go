package vault

import (
	"context"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"keyhaven/internal/domain"
	models "keyhaven/internal/domain/models/vault"
	vaultRepo "keyhaven/internal/domain/repositories/vault"
	vaultSvc "keyhaven/internal/domain/services/vault"
)

type secretService struct {
	folders     vaultSvc.FolderStore
	resolver    vaultSvc.ImportResolver
	expander    vaultSvc.SecretExpander
	importRepo  vaultRepo.SecretImportRepository
	permissions vaultSvc.PermissionService
	keys        KeyProvider
	logger      *slog.Logger
}

// NewSecretService creates the effective secret read service
func NewSecretService(
	folders vaultSvc.FolderStore,
	resolver vaultSvc.ImportResolver,
	expander vaultSvc.SecretExpander,
	importRepo vaultRepo.SecretImportRepository,
	permissions vaultSvc.PermissionService,
	keys KeyProvider,
	logger *slog.Logger,
) vaultSvc.SecretService {
	return &secretService{
		folders:     folders,
		resolver:    resolver,
		expander:    expander,
		importRepo:  importRepo,
		permissions: permissions,
		keys:        keys,
		logger:      logger,
	}
}

func validateEffectiveRequest(req *vaultSvc.EffectiveSecretsRequest) error {
	err := validation.ValidateStruct(req,
		validation.Field(&req.ProjectID, validation.Required),
		validation.Field(&req.Environment, validation.Required),
		validation.Field(&req.SecretPath, validation.Required),
	)
	if err != nil {
		return &domain.ValidationError{Message: err.Error()}
	}
	return nil
}

// GetEffectiveSecrets returns the decrypted secrets visible in a folder: its
// own, the caller's personal overrides, and, when asked, the secrets of
// every import the caller may read.
func (s *secretService) GetEffectiveSecrets(ctx context.Context, req *vaultSvc.EffectiveSecretsRequest) ([]models.DecryptedSecret, error) {
	if err := validateEffectiveRequest(req); err != nil {
		return nil, err
	}
	secretPath, err := NormalizeSecretPath(req.SecretPath)
	if err != nil {
		return nil, err
	}

	permission, err := s.permissions.GetProjectPermission(ctx, req.Actor, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if !permission.Can(vaultSvc.ActionRead, vaultSvc.SecretScope{Environment: req.Environment, SecretPath: secretPath}) {
		return nil, &domain.ForbiddenError{Message: "not allowed to read secrets at this path"}
	}

	folder, err := s.folders.ResolveFolder(ctx, req.ProjectID, req.Environment, secretPath)
	if err != nil {
		return nil, err
	}

	var allowed []models.SecretImport
	if req.IncludeImports {
		allowed, err = s.readableImports(ctx, folder, req.Environment, secretPath, permission)
		if err != nil {
			return nil, err
		}
	}

	userID := ""
	if req.Actor.Type == models.ActorTypeUser {
		userID = req.Actor.ID
	}
	secrets, err := s.resolver.EffectiveSecrets(ctx, folder.ID, userID, allowed)
	if err != nil {
		return nil, err
	}

	projectKey, err := s.keys.ProjectKey(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project key: %w", err)
	}
	decrypted := make([]models.DecryptedSecret, 0, len(secrets))
	for _, sec := range secrets {
		plain, err := decryptSecret(sec, projectKey)
		if err != nil {
			return nil, err
		}
		decrypted = append(decrypted, plain)
	}

	if req.Expand {
		decrypted, err = s.expander.Expand(ctx, req.ProjectID, req.Environment, secretPath, permission, decrypted)
		if err != nil {
			return nil, err
		}
	}

	s.logger.Debug("effective secrets read",
		"project_id", req.ProjectID,
		"environment", req.Environment,
		"secret_path", secretPath,
		"count", len(decrypted),
	)
	return decrypted, nil
}

// readableImports lists the folder's imports the caller may read, in
// position order. A replication import is read from its reserved folder
// under the importing folder, where the replicated copies live.
func (s *secretService) readableImports(
	ctx context.Context,
	folder *models.Folder,
	environment, secretPath string,
	permission vaultSvc.ProjectPermission,
) ([]models.SecretImport, error) {
	imports, err := s.importRepo.FindByFolderIDs(ctx, []string{folder.ID}, true)
	if err != nil {
		return nil, fmt.Errorf("load imports: %w", err)
	}

	allowed := make([]models.SecretImport, 0, len(imports))
	for _, imp := range imports {
		if imp.IsReplication {
			imp = replicaImport(imp, folder.EnvID, environment, secretPath)
		}
		if !permission.Can(vaultSvc.ActionRead, vaultSvc.SecretScope{Environment: imp.ImportEnvSlug, SecretPath: imp.ImportPath}) {
			continue
		}
		allowed = append(allowed, imp)
	}
	return allowed, nil
}

func joinChildPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}
