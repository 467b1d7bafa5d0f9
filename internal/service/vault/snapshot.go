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

type snapshotService struct {
	secretRepo   vaultRepo.SecretRepository
	versionRepo  vaultRepo.SecretVersionRepository
	snapshotRepo vaultRepo.SnapshotRepository
	logger       *slog.Logger
}

// NewSnapshotService creates a folder snapshot service
func NewSnapshotService(
	secretRepo vaultRepo.SecretRepository,
	versionRepo vaultRepo.SecretVersionRepository,
	snapshotRepo vaultRepo.SnapshotRepository,
	logger *slog.Logger,
) vaultSvc.SnapshotService {
	return &snapshotService{
		secretRepo:   secretRepo,
		versionRepo:  versionRepo,
		snapshotRepo: snapshotRepo,
		logger:       logger,
	}
}

// CreateFolderSnapshot pins the latest version of each shared secret in folder
func (s *snapshotService) CreateFolderSnapshot(ctx context.Context, folder *models.Folder) (*models.FolderSnapshot, error) {
	secrets, err := s.secretRepo.FindByFolderID(ctx, folder.ID, "")
	if err != nil {
		return nil, fmt.Errorf("load folder secrets: %w", err)
	}

	latest, err := s.versionRepo.FindLatest(ctx, folder.ID, lo.Map(secrets, func(sec models.Secret, _ int) string { return sec.ID }))
	if err != nil {
		return nil, fmt.Errorf("load latest versions: %w", err)
	}

	versionIDs := make([]string, 0, len(secrets))
	for _, sec := range secrets {
		if v, ok := latest[sec.ID]; ok {
			versionIDs = append(versionIDs, v.ID)
		}
	}

	snapshot := &models.FolderSnapshot{
		FolderID:         folder.ID,
		EnvID:            folder.EnvID,
		SecretVersionIDs: versionIDs,
	}
	if err := s.snapshotRepo.Create(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}

	s.logger.Debug("folder snapshot created",
		"snapshot_id", snapshot.ID,
		"folder_id", folder.ID,
		"versions", len(versionIDs),
	)
	return snapshot, nil
}
