package vault

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"

	"keyhaven/internal/domain"
	models "keyhaven/internal/domain/models/vault"
	"keyhaven/internal/domain/repositories"
	vaultRepo "keyhaven/internal/domain/repositories/vault"
	vaultSvc "keyhaven/internal/domain/services/vault"
)

type mutationEngine struct {
	secretRepo  vaultRepo.SecretRepository
	versionRepo vaultRepo.SecretVersionRepository
	tagRepo     vaultRepo.SecretTagRepository
	txManager   repositories.TransactionManager
	reminders   vaultSvc.ReminderService
	logger      *slog.Logger
}

// NewMutationEngine creates the versioned batch writer for secrets
func NewMutationEngine(
	secretRepo vaultRepo.SecretRepository,
	versionRepo vaultRepo.SecretVersionRepository,
	tagRepo vaultRepo.SecretTagRepository,
	txManager repositories.TransactionManager,
	reminders vaultSvc.ReminderService,
	logger *slog.Logger,
) vaultSvc.MutationEngine {
	return &mutationEngine{
		secretRepo:  secretRepo,
		versionRepo: versionRepo,
		tagRepo:     tagRepo,
		txManager:   txManager,
		reminders:   reminders,
		logger:      logger,
	}
}

func versionOf(s models.Secret) models.SecretVersion {
	return models.SecretVersion{
		SecretID:              s.ID,
		FolderID:              s.FolderID,
		Version:               s.Version,
		BlindIndex:            s.BlindIndex,
		Type:                  s.Type,
		UserID:                s.UserID,
		EncryptedFields:       s.EncryptedFields,
		SkipMultilineEncoding: s.SkipMultilineEncoding,
		TagIDs:                s.TagIDs,
	}
}

// checkTags fails with a ConflictError when any tag does not exist
func (e *mutationEngine) checkTags(ctx context.Context, tagIDs []string) error {
	if len(tagIDs) == 0 {
		return nil
	}
	tags, err := e.tagRepo.FindByIDs(ctx, tagIDs)
	if err != nil {
		return fmt.Errorf("load tags: %w", err)
	}
	if len(tags) != len(tagIDs) {
		return &domain.ConflictError{
			Message:      fmt.Sprintf("tag count mismatch: found %d of %d", len(tags), len(tagIDs)),
			ResourceType: "tag",
		}
	}
	return nil
}

// writeVersions appends one version per secret and links the secret tags
// to both the secrets and their new versions
func (e *mutationEngine) writeVersions(ctx context.Context, secrets []models.Secret, retagged []string) error {
	versions, err := e.versionRepo.InsertMany(ctx, lo.Map(secrets, func(s models.Secret, _ int) models.SecretVersion {
		return versionOf(s)
	}))
	if err != nil {
		return fmt.Errorf("insert secret versions: %w", err)
	}

	if len(retagged) > 0 {
		if err := e.tagRepo.UnlinkSecrets(ctx, retagged); err != nil {
			return fmt.Errorf("unlink secret tags: %w", err)
		}
	}
	retaggedSet := lo.SliceToMap(retagged, func(id string) (string, struct{}) { return id, struct{}{} })

	var secretLinks, versionLinks []models.TagLink
	for i, s := range secrets {
		for _, tagID := range s.TagIDs {
			if _, ok := retaggedSet[s.ID]; ok {
				secretLinks = append(secretLinks, models.TagLink{OwnerID: s.ID, TagID: tagID})
			}
			versionLinks = append(versionLinks, models.TagLink{OwnerID: versions[i].ID, TagID: tagID})
		}
	}
	if len(secretLinks) > 0 {
		if err := e.tagRepo.LinkSecrets(ctx, secretLinks); err != nil {
			return fmt.Errorf("link secret tags: %w", err)
		}
	}
	if len(versionLinks) > 0 {
		if err := e.tagRepo.LinkVersions(ctx, versionLinks); err != nil {
			return fmt.Errorf("link version tags: %w", err)
		}
	}
	return nil
}

func (e *mutationEngine) BulkInsert(ctx context.Context, folderID string, specs []models.SecretSpec) ([]models.Secret, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	var inserted []models.Secret
	err := e.txManager.ExecTx(ctx, func(ctx context.Context) error {
		tagIDs := lo.Uniq(lo.FlatMap(specs, func(s models.SecretSpec, _ int) []string { return s.TagIDs }))
		if err := e.checkTags(ctx, tagIDs); err != nil {
			return err
		}

		secrets, err := e.secretRepo.InsertMany(ctx, folderID, specs)
		if err != nil {
			return err
		}
		for i := range secrets {
			secrets[i].TagIDs = specs[i].TagIDs
		}

		// Fresh secrets carry no links yet, so all of them are tagged
		ids := lo.Map(secrets, func(s models.Secret, _ int) string { return s.ID })
		if err := e.writeVersions(ctx, secrets, lo.Filter(ids, func(_ string, i int) bool { return len(specs[i].TagIDs) > 0 })); err != nil {
			return err
		}

		refs := make(map[string][]models.SecretReference)
		for i, s := range secrets {
			if len(specs[i].References) > 0 {
				refs[s.ID] = specs[i].References
			}
		}
		if len(refs) > 0 {
			if err := e.secretRepo.ReplaceReferences(ctx, refs); err != nil {
				return fmt.Errorf("record secret references: %w", err)
			}
		}

		inserted = secrets
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.scheduleReminders(ctx, inserted)
	e.logger.Info("secrets inserted", "folder_id", folderID, "count", len(inserted))
	return inserted, nil
}

func describeFilter(f models.SecretFilter) string {
	if f.ID != "" {
		return "id=" + f.ID
	}
	return fmt.Sprintf("blind_index=%s type=%s", f.BlindIndex, f.Type)
}

func (e *mutationEngine) BulkUpdate(ctx context.Context, folderID string, updates []models.SecretUpdate) ([]models.Secret, error) {
	if len(updates) == 0 {
		return nil, nil
	}

	var updated []models.Secret
	err := e.txManager.ExecTx(ctx, func(ctx context.Context) error {
		tagIDs := lo.Uniq(lo.FlatMap(updates, func(u models.SecretUpdate, _ int) []string { return u.Data.TagIDs }))
		if err := e.checkTags(ctx, tagIDs); err != nil {
			return err
		}

		secrets := make([]models.Secret, 0, len(updates))
		var retagged []string
		refs := make(map[string][]models.SecretReference, len(updates))
		for _, u := range updates {
			s, err := e.secretRepo.UpdateOne(ctx, folderID, u.Filter, u.Data)
			if err != nil {
				return fmt.Errorf("update secret: %w", err)
			}
			if s == nil {
				return &domain.MutationFailedError{Operation: "update", Filter: describeFilter(u.Filter)}
			}
			if u.Data.TagIDs != nil {
				s.TagIDs = u.Data.TagIDs
				retagged = append(retagged, s.ID)
			}
			refs[s.ID] = u.Data.References
			secrets = append(secrets, *s)
		}

		if err := e.writeVersions(ctx, secrets, retagged); err != nil {
			return err
		}
		if err := e.secretRepo.ReplaceReferences(ctx, refs); err != nil {
			return fmt.Errorf("record secret references: %w", err)
		}

		updated = secrets
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.scheduleReminders(ctx, updated)
	e.logger.Info("secrets updated", "folder_id", folderID, "count", len(updated))
	return updated, nil
}

func (e *mutationEngine) BulkDelete(ctx context.Context, folderID string, specs []models.SecretDeleteSpec, actorID string) ([]models.Secret, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	var deleted []models.Secret
	err := e.txManager.ExecTx(ctx, func(ctx context.Context) error {
		removed, err := e.secretRepo.DeleteMany(ctx, folderID, specs, actorID)
		if err != nil {
			return fmt.Errorf("delete secrets: %w", err)
		}

		for _, spec := range specs {
			single := []models.SecretDeleteSpec{spec}
			if !lo.ContainsBy(removed, func(s models.Secret) bool { return models.MatchesDelete(s, single, actorID) }) {
				return &domain.MutationFailedError{
					Operation: "delete",
					Filter:    fmt.Sprintf("blind_index=%s type=%s", spec.BlindIndex, spec.Type),
				}
			}
		}

		deleted = removed
		return nil
	})
	if err != nil {
		return nil, err
	}

	var result *multierror.Error
	for _, s := range deleted {
		if s.ReminderRepeatDays == nil {
			continue
		}
		if err := e.reminders.Cancel(ctx, s.ID); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		e.logger.Warn("failed to cancel reminders of deleted secrets",
			"folder_id", folderID,
			"error", err,
		)
	}

	e.logger.Info("secrets deleted", "folder_id", folderID, "count", len(deleted))
	return deleted, nil
}

// scheduleReminders (re)schedules reminders after a committed write. Failures
// are logged only.
func (e *mutationEngine) scheduleReminders(ctx context.Context, secrets []models.Secret) {
	var result *multierror.Error
	for _, s := range secrets {
		if s.ReminderRepeatDays == nil {
			continue
		}
		if err := e.reminders.Schedule(ctx, s); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		e.logger.Warn("failed to schedule secret reminders", "error", err)
	}
}
