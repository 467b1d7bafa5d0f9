package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"keyhaven/internal/domain"
	models "keyhaven/internal/domain/models/vault"
	vaultRepo "keyhaven/internal/domain/repositories/vault"
	vaultSvc "keyhaven/internal/domain/services/vault"
)

type folderStore struct {
	folderRepo vaultRepo.FolderRepository
	envRepo    vaultRepo.EnvironmentRepository
	maxDepth   int
	logger     *slog.Logger
}

// NewFolderStore creates a folder store walking at most maxDepth levels
func NewFolderStore(
	folderRepo vaultRepo.FolderRepository,
	envRepo vaultRepo.EnvironmentRepository,
	maxDepth int,
	logger *slog.Logger,
) vaultSvc.FolderStore {
	return &folderStore{
		folderRepo: folderRepo,
		envRepo:    envRepo,
		maxDepth:   maxDepth,
		logger:     logger,
	}
}

func (s *folderStore) FindBySecretPath(ctx context.Context, projectID, envSlug, secretPath string) (*models.Folder, error) {
	segments, err := SplitSecretPath(secretPath)
	if err != nil {
		return nil, err
	}

	env, err := s.envRepo.GetBySlug(ctx, projectID, envSlug)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	folders, err := s.folderRepo.ListByEnvIDs(ctx, []string{env.ID})
	if err != nil {
		return nil, fmt.Errorf("load folders: %w", err)
	}

	return newFolderTree(folders, s.maxDepth).find(env.ID, segments), nil
}

func (s *folderStore) ResolveFolder(ctx context.Context, projectID, envSlug, secretPath string) (*models.Folder, error) {
	folder, err := s.FindBySecretPath(ctx, projectID, envSlug, secretPath)
	if err != nil {
		return nil, err
	}
	if folder == nil {
		return nil, &domain.NotFoundError{
			Message: fmt.Sprintf("folder %s not found in environment %s", secretPath, envSlug),
		}
	}
	return folder, nil
}

func (s *folderStore) FindByManySecretPath(ctx context.Context, queries []models.EnvPath) ([]*models.Folder, error) {
	result := make([]*models.Folder, len(queries))
	if len(queries) == 0 {
		return result, nil
	}

	segments := make([][]string, len(queries))
	for i, q := range queries {
		segs, err := SplitSecretPath(q.Path)
		if err != nil {
			return nil, err
		}
		segments[i] = segs
	}

	envIDs := lo.Uniq(lo.Map(queries, func(q models.EnvPath, _ int) string { return q.EnvID }))
	folders, err := s.folderRepo.ListByEnvIDs(ctx, envIDs)
	if err != nil {
		return nil, fmt.Errorf("load folders: %w", err)
	}

	tree := newFolderTree(folders, s.maxDepth)
	for i, q := range queries {
		result[i] = tree.find(q.EnvID, segments[i])
	}
	return result, nil
}

func (s *folderStore) FindSecretPathByFolderIDs(ctx context.Context, projectID string, folderIDs []string) ([]*models.FolderPath, error) {
	result := make([]*models.FolderPath, len(folderIDs))
	if len(folderIDs) == 0 {
		return result, nil
	}

	leaves, err := s.folderRepo.GetByIDs(ctx, lo.Uniq(folderIDs))
	if err != nil {
		return nil, fmt.Errorf("load folders: %w", err)
	}
	envIDs := lo.Uniq(lo.Map(leaves, func(f models.Folder, _ int) string { return f.EnvID }))
	if len(envIDs) == 0 {
		return result, nil
	}

	envs, err := s.envRepo.ListByIDs(ctx, envIDs)
	if err != nil {
		return nil, fmt.Errorf("load environments: %w", err)
	}
	envByID := make(map[string]models.Environment, len(envs))
	for _, env := range envs {
		if env.ProjectID == projectID {
			envByID[env.ID] = env
		}
	}

	folders, err := s.folderRepo.ListByEnvIDs(ctx, lo.Keys(envByID))
	if err != nil {
		return nil, fmt.Errorf("load folders: %w", err)
	}
	tree := newFolderTree(folders, s.maxDepth)

	for i, id := range folderIDs {
		folder, ok := tree.byID[id]
		if !ok {
			continue
		}
		path, ok := tree.pathOf(id)
		if !ok {
			s.logger.Warn("folder ancestry unresolvable",
				"folder_id", id,
				"max_depth", s.maxDepth,
			)
			continue
		}
		env := envByID[folder.EnvID]
		result[i] = &models.FolderPath{
			Folder:          *folder,
			Path:            path,
			ProjectID:       env.ProjectID,
			EnvironmentSlug: env.Slug,
		}
	}
	return result, nil
}

func (s *folderStore) FindOrCreateReservedFolder(ctx context.Context, parent *models.Folder, name string) (*models.Folder, error) {
	if err := validateFolderName(name); err != nil {
		return nil, &domain.ValidationError{Message: err.Error()}
	}

	existing, err := s.folderRepo.FindChild(ctx, parent.ID, name)
	if err != nil {
		return nil, fmt.Errorf("find reserved folder: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	parentID := parent.ID
	folder := &models.Folder{
		EnvID:      parent.EnvID,
		ParentID:   &parentID,
		Name:       name,
		IsReserved: true,
	}
	if err := s.folderRepo.Create(ctx, folder); err != nil {
		// Lost a race with another worker creating the same folder
		if errors.Is(err, domain.ErrConflict) {
			existing, findErr := s.folderRepo.FindChild(ctx, parent.ID, name)
			if findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("create reserved folder: %w", err)
	}

	s.logger.Info("reserved folder created",
		"folder_id", folder.ID,
		"parent_id", parent.ID,
		"name", name,
	)
	return folder, nil
}
