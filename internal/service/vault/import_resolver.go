package vault

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	models "keyhaven/internal/domain/models/vault"
	vaultRepo "keyhaven/internal/domain/repositories/vault"
	vaultSvc "keyhaven/internal/domain/services/vault"
)

type importResolver struct {
	folders    vaultSvc.FolderStore
	secretRepo vaultRepo.SecretRepository
	importRepo vaultRepo.SecretImportRepository
	readDepth  int
	logger     *slog.Logger
}

// NewImportResolver creates an import resolver. readDepth bounds the graph
// walk of EffectiveSecrets.
func NewImportResolver(
	folders vaultSvc.FolderStore,
	secretRepo vaultRepo.SecretRepository,
	importRepo vaultRepo.SecretImportRepository,
	readDepth int,
	logger *slog.Logger,
) vaultSvc.ImportResolver {
	return &importResolver{
		folders:    folders,
		secretRepo: secretRepo,
		importRepo: importRepo,
		readDepth:  readDepth,
		logger:     logger,
	}
}

func (r *importResolver) ResolveImports(ctx context.Context, imports []models.SecretImport, depthLimit int) ([]models.ImportedSecrets, error) {
	visited := make(map[string]struct{})
	return r.resolve(ctx, imports, 0, depthLimit, visited)
}

type resolvedImport struct {
	imp    models.SecretImport
	path   string
	folder *models.Folder
}

func (r *importResolver) resolve(
	ctx context.Context,
	imports []models.SecretImport,
	depth, depthLimit int,
	visited map[string]struct{},
) ([]models.ImportedSecrets, error) {
	if depth >= depthLimit || len(imports) == 0 {
		return nil, nil
	}

	pending := make([]resolvedImport, 0, len(imports))
	for _, imp := range imports {
		path, err := NormalizeSecretPath(imp.ImportPath)
		if err != nil {
			r.logger.Warn("skipping import with invalid path",
				"import_id", imp.ID,
				"import_path", imp.ImportPath,
				"error", err,
			)
			continue
		}
		if _, seen := visited[importKey(imp.ImportEnvSlug, path)]; seen {
			continue
		}
		pending = append(pending, resolvedImport{imp: imp, path: path})
	}
	if len(pending) == 0 {
		return nil, nil
	}

	queries := lo.Map(pending, func(p resolvedImport, _ int) models.EnvPath {
		return models.EnvPath{EnvID: p.imp.ImportEnvID, Path: p.path}
	})
	folders, err := r.folders.FindByManySecretPath(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("resolve import folders: %w", err)
	}

	resolved := make([]resolvedImport, 0, len(pending))
	for i, p := range pending {
		if folders[i] == nil {
			continue
		}
		p.folder = folders[i]
		resolved = append(resolved, p)
	}
	if len(resolved) == 0 {
		return nil, nil
	}

	folderIDs := lo.Uniq(lo.Map(resolved, func(p resolvedImport, _ int) string { return p.folder.ID }))
	secrets, err := r.secretRepo.FindSharedByFolderIDs(ctx, folderIDs)
	if err != nil {
		return nil, fmt.Errorf("load imported secrets: %w", err)
	}
	secretsByFolder := lo.GroupBy(secrets, func(s models.Secret) string { return s.FolderID })

	for _, p := range resolved {
		visited[importKey(p.imp.ImportEnvSlug, p.path)] = struct{}{}
	}

	declared, err := r.importRepo.FindByFolderIDs(ctx, folderIDs, true)
	if err != nil {
		return nil, fmt.Errorf("load nested imports: %w", err)
	}
	byFolderID := make(map[string]resolvedImport, len(resolved))
	for _, p := range resolved {
		byFolderID[p.folder.ID] = p
	}
	nested := make([]models.SecretImport, 0, len(declared))
	for _, imp := range declared {
		if imp.IsReplication {
			owner := byFolderID[imp.FolderID]
			imp = replicaImport(imp, owner.folder.EnvID, owner.imp.ImportEnvSlug, owner.path)
		}
		nested = append(nested, imp)
	}
	deeper, err := r.resolve(ctx, nested, depth+1, depthLimit, visited)
	if err != nil {
		return nil, err
	}
	deeperByImporter := lo.GroupBy(deeper, func(d models.ImportedSecrets) string { return d.ImporterFolderID })

	result := make([]models.ImportedSecrets, 0, len(resolved))
	for _, p := range resolved {
		own := secretsByFolder[p.folder.ID]
		combined := make([]models.Secret, 0, len(own))
		combined = append(combined, own...)

		// Nested imports follow in position order; the first occurrence wins
		for _, d := range deeperByImporter[p.folder.ID] {
			combined = append(combined, d.Secrets...)
		}

		result = append(result, models.ImportedSecrets{
			ImportID:         p.imp.ID,
			ImporterFolderID: p.imp.FolderID,
			FolderID:         p.folder.ID,
			EnvironmentID:    p.folder.EnvID,
			Environment:      p.imp.ImportEnvSlug,
			SecretPath:       p.path,
			Secrets:          lo.UniqBy(combined, func(s models.Secret) string { return s.Identity() }),
		})
	}
	return result, nil
}

// replicaImport rewrites a replication import into an ordinary import of
// its reserved folder under the importing folder, which holds the copies.
func replicaImport(imp models.SecretImport, envID, envSlug, importerPath string) models.SecretImport {
	imp.IsReplication = false
	imp.ImportEnvID = envID
	imp.ImportEnvSlug = envSlug
	imp.ImportPath = joinChildPath(importerPath, models.ReplicationFolderName(imp.ID))
	return imp
}

func (r *importResolver) EffectiveSecrets(ctx context.Context, folderID, userID string, allowedImports []models.SecretImport) ([]models.Secret, error) {
	own, err := r.secretRepo.FindByFolderID(ctx, folderID, userID)
	if err != nil {
		return nil, fmt.Errorf("load folder secrets: %w", err)
	}

	imported, err := r.ResolveImports(ctx, allowedImports, r.readDepth)
	if err != nil {
		return nil, err
	}
	return MergeEffective(own, imported), nil
}

// MergeEffective combines a folder's own secrets with its resolved imports.
// Own secrets always win, a personal override replacing the shared secret
// of the same blind index. Among imports the later positioned one wins.
func MergeEffective(own []models.Secret, imports []models.ImportedSecrets) []models.Secret {
	seen := make(map[string]struct{})
	merged := make([]models.Secret, 0, len(own))

	add := func(s models.Secret) {
		key := s.Identity()
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		merged = append(merged, s)
	}

	for _, s := range own {
		if s.Type == models.SecretTypePersonal {
			add(s)
		}
	}
	for _, s := range own {
		if s.Type != models.SecretTypePersonal {
			add(s)
		}
	}
	for i := len(imports) - 1; i >= 0; i-- {
		for _, s := range imports[i].Secrets {
			add(s)
		}
	}
	return merged
}
