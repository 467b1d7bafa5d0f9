package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"

	"keyhaven/internal/config"
	"keyhaven/internal/domain"
	models "keyhaven/internal/domain/models/vault"
	"keyhaven/internal/domain/repositories"
	vaultRepo "keyhaven/internal/domain/repositories/vault"
	vaultSvc "keyhaven/internal/domain/services/vault"
	"keyhaven/internal/keystore"
)

const replicationSuccessValue = "1"

func replicationLockKey(secretID string) string {
	return "replication-secret:" + secretID
}

func replicationSuccessKey(jobID, importID string) string {
	return fmt.Sprintf("replication:%s-%s", jobID, importID)
}

func folderLockKey(folderID string) string {
	return "folder-snapshot:" + folderID
}

// truncateStatus caps a replication failure message to what the import row stores
func truncateStatus(msg string) string {
	runes := []rune(msg)
	if len(runes) <= config.MaxReplicationStatusLength {
		return msg
	}
	return string(runes[:config.MaxReplicationStatusLength])
}

// ReplicationDeps groups the collaborators of the replication coordinator
type ReplicationDeps struct {
	Folders     vaultSvc.FolderStore
	Mutations   vaultSvc.MutationEngine
	Approvals   vaultSvc.ApprovalService
	Snapshots   vaultSvc.SnapshotService
	Sync        vaultSvc.SyncService
	SecretRepo  vaultRepo.SecretRepository
	VersionRepo vaultRepo.SecretVersionRepository
	ImportRepo  vaultRepo.SecretImportRepository
	TxManager   repositories.TransactionManager
	Keystore    keystore.Keystore
	Keys        KeyProvider
}

type replicationCoordinator struct {
	ReplicationDeps
	tunables config.Tunables
	logger   *slog.Logger
}

// NewReplicationCoordinator creates the replication job handler
func NewReplicationCoordinator(deps ReplicationDeps, tunables config.Tunables, logger *slog.Logger) vaultSvc.ReplicationCoordinator {
	return &replicationCoordinator{
		ReplicationDeps: deps,
		tunables:        tunables,
		logger:          logger,
	}
}

// incomingSecret is a replicable source version with its plaintext
type incomingSecret struct {
	version   models.SecretVersion
	operation models.SecretOperation
	plain     models.DecryptedSecret
}

// replicationPlan is the classified change set for one destination
type replicationPlan struct {
	creates []incomingSecret
	updates []incomingSecret
	deletes []incomingSecret
	local   map[string]models.Secret
}

func (p *replicationPlan) empty() bool {
	return len(p.creates)+len(p.updates)+len(p.deletes) == 0
}

func (c *replicationCoordinator) HandleReplicationJob(ctx context.Context, jobID string, job models.ReplicationJob) error {
	logger := c.logger.With(
		"job_id", jobID,
		"environment", job.EnvironmentSlug,
		"secret_path", job.SecretPath,
		"depth", job.Depth,
	)

	if len(job.Secrets) == 0 {
		return nil
	}

	secretPath, err := NormalizeSecretPath(job.SecretPath)
	if err != nil {
		return err
	}

	imports, err := c.ImportRepo.FindByTarget(ctx, job.EnvironmentID, secretPath, true)
	if err != nil {
		return fmt.Errorf("load replication imports: %w", err)
	}
	if len(job.PickOnlyImportIDs) > 0 {
		imports = lo.Filter(imports, func(imp models.SecretImport, _ int) bool {
			return lo.Contains(job.PickOnlyImportIDs, imp.ID)
		})
	}
	if len(imports) == 0 {
		logger.Debug("no replication imports")
		return nil
	}

	incoming, err := c.loadIncoming(ctx, job)
	if err != nil {
		return err
	}
	if len(incoming) == 0 {
		logger.Debug("nothing replicable in job")
		return nil
	}

	lockKeys := lo.Map(incoming, func(in incomingSecret, _ int) string { return replicationLockKey(in.version.SecretID) })
	lock, err := c.Keystore.AcquireLock(ctx, lockKeys, c.tunables.ReplicationLockTTL)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release replication lock", "error", err)
		}
	}()

	logger.Info("replication started", "imports", len(imports), "secrets", len(incoming))

	for _, imp := range imports {
		if err := c.replicateImport(ctx, jobID, job, imp, incoming, logger); err != nil {
			c.recordStatus(ctx, imp.ID, err, logger)
			return fmt.Errorf("replicate import %s: %w", imp.ID, err)
		}
		c.recordStatus(ctx, imp.ID, nil, logger)
	}

	versionIDs := lo.Map(incoming, func(in incomingSecret, _ int) string { return in.version.ID })
	if err := c.VersionRepo.MarkReplicated(ctx, versionIDs); err != nil {
		return fmt.Errorf("mark versions replicated: %w", err)
	}

	logger.Info("replication finished", "imports", len(imports))
	return nil
}

// loadIncoming fetches the version rows named by the job and keeps the
// replicable ones: shared, with a blind index, and not superseded by a
// later replicated version
func (c *replicationCoordinator) loadIncoming(ctx context.Context, job models.ReplicationJob) ([]incomingSecret, error) {
	// Only the newest change of each secret matters
	latest := make(map[string]models.ChangedSecret)
	for _, s := range job.Secrets {
		if cur, ok := latest[s.ID]; !ok || s.Version >= cur.Version {
			latest[s.ID] = s
		}
	}
	changes := lo.Values(latest)

	keys := lo.Map(changes, func(s models.ChangedSecret, _ int) models.SecretVersionKey {
		return models.SecretVersionKey{SecretID: s.ID, Version: s.Version}
	})
	versions, err := c.VersionRepo.FindByKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load source versions: %w", err)
	}
	replicated, err := c.VersionRepo.FindLatestReplicated(ctx, lo.Keys(latest))
	if err != nil {
		return nil, fmt.Errorf("load replicated versions: %w", err)
	}

	projectKey, err := c.Keys.ProjectKey(ctx, job.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project key: %w", err)
	}

	incoming := make([]incomingSecret, 0, len(versions))
	for _, v := range versions {
		if v.BlindIndex == nil || v.Type != models.SecretTypeShared {
			continue
		}
		if last, ok := replicated[v.SecretID]; v.Version != 1 && ok && last > v.Version {
			continue
		}
		change := latest[v.SecretID]
		if change.Version != v.Version {
			continue
		}

		plain, err := decryptSecret(models.Secret{
			ID:                    v.SecretID,
			FolderID:              v.FolderID,
			BlindIndex:            v.BlindIndex,
			Type:                  v.Type,
			Version:               v.Version,
			EncryptedFields:       v.EncryptedFields,
			SkipMultilineEncoding: v.SkipMultilineEncoding,
		}, projectKey)
		if err != nil {
			return nil, err
		}
		incoming = append(incoming, incomingSecret{version: v, operation: change.Operation, plain: plain})
	}
	return incoming, nil
}

func (c *replicationCoordinator) replicateImport(
	ctx context.Context,
	jobID string,
	job models.ReplicationJob,
	imp models.SecretImport,
	incoming []incomingSecret,
	logger *slog.Logger,
) error {
	logger = logger.With("import_id", imp.ID)
	successKey := replicationSuccessKey(jobID, imp.ID)

	_, done, err := c.Keystore.GetItem(ctx, successKey)
	if err != nil {
		return fmt.Errorf("check replication marker: %w", err)
	}
	if done {
		logger.Info("import already replicated by this job, skipping")
		return nil
	}

	destinations, err := c.Folders.FindSecretPathByFolderIDs(ctx, job.ProjectID, []string{imp.FolderID})
	if err != nil {
		return err
	}
	destination := destinations[0]
	if destination == nil {
		return &domain.NotFoundError{Message: fmt.Sprintf("importing folder %s not found", imp.FolderID)}
	}

	replicaFolder, err := c.Folders.FindOrCreateReservedFolder(ctx, &destination.Folder, models.ReplicationFolderName(imp.ID))
	if err != nil {
		return err
	}

	plan, err := c.classify(ctx, job.ProjectID, replicaFolder.ID, incoming)
	if err != nil {
		return err
	}

	if !plan.empty() {
		policy, err := c.Approvals.GetPolicy(ctx, job.ProjectID, destination.EnvironmentSlug, destination.Path)
		if err != nil {
			return fmt.Errorf("get approval policy: %w", err)
		}

		if policy != nil && job.Actor == models.ActorTypeUser {
			if err := c.requestApproval(ctx, job, policy, replicaFolder, plan); err != nil {
				return err
			}
		} else {
			if err := c.writeDirect(ctx, job, destination, replicaFolder, plan, logger); err != nil {
				return err
			}
		}
	} else {
		logger.Debug("replica already up to date")
	}

	if err := c.Keystore.SetItemWithExpiry(ctx, successKey, c.tunables.ReplicationSuccessTTL, replicationSuccessValue); err != nil {
		return fmt.Errorf("set replication marker: %w", err)
	}
	return nil
}

// classify compares the incoming secrets with the replica folder by blind
// index. Updates whose plaintext is unchanged are dropped.
func (c *replicationCoordinator) classify(ctx context.Context, projectID, replicaFolderID string, incoming []incomingSecret) (*replicationPlan, error) {
	localSecrets, err := c.SecretRepo.FindByFolderID(ctx, replicaFolderID, "")
	if err != nil {
		return nil, fmt.Errorf("load replica secrets: %w", err)
	}
	plan := &replicationPlan{
		local: lo.KeyBy(localSecrets, func(s models.Secret) string { return s.Identity() }),
	}

	projectKey, err := c.Keys.ProjectKey(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project key: %w", err)
	}

	for _, in := range incoming {
		local, exists := plan.local[*in.version.BlindIndex]
		switch {
		case in.operation == models.SecretOperationDelete:
			if exists {
				plan.deletes = append(plan.deletes, in)
			}
		case !exists:
			plan.creates = append(plan.creates, in)
		default:
			current, err := decryptSecret(local, projectKey)
			if err != nil {
				return nil, err
			}
			if current.Key == in.plain.Key &&
				current.Value == in.plain.Value &&
				current.Comment == in.plain.Comment &&
				local.SkipMultilineEncoding == in.version.SkipMultilineEncoding {
				continue
			}
			plan.updates = append(plan.updates, in)
		}
	}
	return plan, nil
}

func (c *replicationCoordinator) requestApproval(
	ctx context.Context,
	job models.ReplicationJob,
	policy *models.ApprovalPolicy,
	replicaFolder *models.Folder,
	plan *replicationPlan,
) error {
	localIDs := make([]string, 0, len(plan.updates)+len(plan.deletes))
	for _, in := range append(append([]incomingSecret{}, plan.updates...), plan.deletes...) {
		localIDs = append(localIDs, plan.local[*in.version.BlindIndex].ID)
	}
	latest, err := c.VersionRepo.FindLatest(ctx, replicaFolder.ID, localIDs)
	if err != nil {
		return fmt.Errorf("load replica versions: %w", err)
	}

	commit := func(in incomingSecret, op models.SecretOperation) models.ApprovalCommit {
		ac := models.ApprovalCommit{
			Operation:             op,
			BlindIndex:            in.version.BlindIndex,
			EncryptedFields:       in.version.EncryptedFields,
			SkipMultilineEncoding: in.version.SkipMultilineEncoding,
		}
		if op != models.SecretOperationCreate {
			local := plan.local[*in.version.BlindIndex]
			localID := local.ID
			ac.SecretID = &localID
			if v, ok := latest[local.ID]; ok {
				versionID := v.ID
				ac.SecretVersionID = &versionID
			}
		}
		return ac
	}

	commits := make([]models.ApprovalCommit, 0, len(plan.creates)+len(plan.updates)+len(plan.deletes))
	for _, in := range plan.creates {
		commits = append(commits, commit(in, models.SecretOperationCreate))
	}
	for _, in := range plan.updates {
		commits = append(commits, commit(in, models.SecretOperationUpdate))
	}
	for _, in := range plan.deletes {
		commits = append(commits, commit(in, models.SecretOperationDelete))
	}

	return c.TxManager.ExecTx(ctx, func(ctx context.Context) error {
		_, err := c.Approvals.CreateReplicationRequest(ctx, &models.ApprovalRequest{
			FolderID:        replicaFolder.ID,
			PolicyID:        policy.ID,
			CommitterUserID: job.ActorID,
			Commits:         commits,
		})
		return err
	})
}

func (c *replicationCoordinator) writeDirect(
	ctx context.Context,
	job models.ReplicationJob,
	destination *models.FolderPath,
	replicaFolder *models.Folder,
	plan *replicationPlan,
	logger *slog.Logger,
) error {
	var changed []models.ChangedSecret
	err := c.TxManager.ExecTx(ctx, func(ctx context.Context) error {
		if len(plan.creates) > 0 {
			specs := lo.Map(plan.creates, func(in incomingSecret, _ int) models.SecretSpec {
				return models.SecretSpec{
					BlindIndex:            *in.version.BlindIndex,
					Type:                  models.SecretTypeShared,
					EncryptedFields:       in.version.EncryptedFields,
					SkipMultilineEncoding: in.version.SkipMultilineEncoding,
					References:            ExtractReferences(in.plain.Value, destination.EnvironmentSlug, destination.Path),
				}
			})
			created, err := c.Mutations.BulkInsert(ctx, replicaFolder.ID, specs)
			if err != nil {
				return err
			}
			for _, s := range created {
				changed = append(changed, models.ChangedSecret{ID: s.ID, Version: s.Version, Operation: models.SecretOperationCreate})
			}
		}

		if len(plan.updates) > 0 {
			updates := lo.Map(plan.updates, func(in incomingSecret, _ int) models.SecretUpdate {
				return models.SecretUpdate{
					Filter: models.SecretFilter{ID: plan.local[*in.version.BlindIndex].ID},
					Data: models.SecretUpdateData{
						BlindIndex:            in.version.BlindIndex,
						EncryptedFields:       in.version.EncryptedFields,
						SkipMultilineEncoding: in.version.SkipMultilineEncoding,
						References:            ExtractReferences(in.plain.Value, destination.EnvironmentSlug, destination.Path),
					},
				}
			})
			updated, err := c.Mutations.BulkUpdate(ctx, replicaFolder.ID, updates)
			if err != nil {
				return err
			}
			for _, s := range updated {
				changed = append(changed, models.ChangedSecret{ID: s.ID, Version: s.Version, Operation: models.SecretOperationUpdate})
			}
		}

		if len(plan.deletes) > 0 {
			specs := lo.Map(plan.deletes, func(in incomingSecret, _ int) models.SecretDeleteSpec {
				return models.SecretDeleteSpec{BlindIndex: *in.version.BlindIndex, Type: models.SecretTypeShared}
			})
			deleted, err := c.Mutations.BulkDelete(ctx, replicaFolder.ID, specs, job.ActorID)
			if err != nil {
				return err
			}
			for _, s := range deleted {
				changed = append(changed, models.ChangedSecret{ID: s.ID, Version: s.Version, Operation: models.SecretOperationDelete})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("replica written",
		"replica_folder_id", replicaFolder.ID,
		"created", len(plan.creates),
		"updated", len(plan.updates),
		"deleted", len(plan.deletes),
	)

	// Replicas of the destination pick the copies up from its own path
	err = c.Sync.EnqueueReplication(ctx, models.ReplicationJob{
		FolderID:        replicaFolder.ID,
		SecretPath:      destination.Path,
		EnvironmentID:   destination.EnvID,
		EnvironmentSlug: destination.EnvironmentSlug,
		ProjectID:       job.ProjectID,
		OrgID:           job.OrgID,
		Secrets:         changed,
		ActorID:         job.ActorID,
		Actor:           job.Actor,
		Depth:           job.Depth + 1,
	})
	if err != nil {
		return err
	}

	c.refreshDestination(ctx, job, destination, replicaFolder, logger)
	return nil
}

// refreshDestination snapshots the replica folder and propagates the change
// to importers of the destination. Skipped when another worker holds the
// folder; failures are logged only.
func (c *replicationCoordinator) refreshDestination(
	ctx context.Context,
	job models.ReplicationJob,
	destination *models.FolderPath,
	replicaFolder *models.Folder,
	logger *slog.Logger,
) {
	lock, ok, err := c.Keystore.TryAcquireLock(ctx, []string{folderLockKey(replicaFolder.ID)}, c.tunables.FolderLockTTL)
	if err != nil {
		logger.Warn("failed to take folder lock", "folder_id", replicaFolder.ID, "error", err)
		return
	}
	if !ok {
		logger.Debug("folder busy, skipping snapshot", "folder_id", replicaFolder.ID)
		return
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release folder lock", "error", err)
		}
	}()

	var result *multierror.Error
	if _, err := c.Snapshots.CreateFolderSnapshot(ctx, replicaFolder); err != nil {
		result = multierror.Append(result, err)
	}
	err = c.Sync.EnqueueSync(ctx, models.SyncJob{
		ProjectID:          job.ProjectID,
		OrgID:              job.OrgID,
		EnvironmentSlug:    destination.EnvironmentSlug,
		SecretPath:         destination.Path,
		ActorID:            job.ActorID,
		Actor:              job.Actor,
		ExcludeReplication: true,
		Depth:              job.Depth + 1,
	})
	if err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		logger.Warn("post replication refresh failed", "folder_id", replicaFolder.ID, "error", err)
	}
}

// recordStatus stores the outcome of replicating one import. Failures to
// record are logged only.
func (c *replicationCoordinator) recordStatus(ctx context.Context, importID string, cause error, logger *slog.Logger) {
	update := models.ReplicationStatusUpdate{
		LastReplicated: time.Now().UTC(),
		Success:        cause == nil,
	}
	if cause != nil {
		msg := truncateStatus(cause.Error())
		update.Status = &msg
		logger.Error("replication failed", "import_id", importID, "error", cause)
	}
	if err := c.ImportRepo.UpdateReplicationStatus(context.WithoutCancel(ctx), importID, update); err != nil {
		logger.Warn("failed to record replication status", "import_id", importID, "error", err)
	}
}
