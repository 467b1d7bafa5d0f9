package vault

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	models "keyhaven/internal/domain/models/vault"
	vaultRepo "keyhaven/internal/domain/repositories/vault"
	"keyhaven/internal/repository/postgres"
)

// PostgresApprovalRepository implements the approval policy and request
// repositories
type PostgresApprovalRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
}

// NewApprovalPolicyRepository creates a new approval policy repository
func NewApprovalPolicyRepository(config *postgres.RepositoryConfig) vaultRepo.ApprovalPolicyRepository {
	return &PostgresApprovalRepository{pool: config.Pool, tables: config.Tables}
}

// NewApprovalRequestRepository creates a new approval request repository
func NewApprovalRequestRepository(config *postgres.RepositoryConfig) vaultRepo.ApprovalRequestRepository {
	return &PostgresApprovalRepository{pool: config.Pool, tables: config.Tables}
}

// ListByEnv returns the policies of an environment
func (r *PostgresApprovalRepository) ListByEnv(ctx context.Context, projectID, envID string) ([]models.ApprovalPolicy, error) {
	query := fmt.Sprintf(`
		SELECT id, project_id, env_id, secret_path, approvals
		FROM %s
		WHERE project_id = $1 AND env_id = $2
		ORDER BY id
	`, r.tables.ApprovalPolicies)

	rows, err := postgres.GetExecutor(ctx, r.pool).Query(ctx, query, projectID, envID)
	if err != nil {
		return nil, fmt.Errorf("list approval policies: %w", err)
	}
	defer rows.Close()

	var policies []models.ApprovalPolicy
	for rows.Next() {
		var p models.ApprovalPolicy
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.EnvID, &p.SecretPath, &p.Approvals); err != nil {
			return nil, fmt.Errorf("scan approval policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// Create inserts the request and its commits
func (r *PostgresApprovalRepository) Create(ctx context.Context, req *models.ApprovalRequest) error {
	executor := postgres.GetExecutor(ctx, r.pool)

	query := fmt.Sprintf(`
		INSERT INTO %s (folder_id, policy_id, slug, status, has_merged, committer_user_id, is_replicated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, r.tables.ApprovalRequests)

	err := executor.QueryRow(ctx, query,
		req.FolderID, req.PolicyID, req.Slug, req.Status, req.HasMerged, req.CommitterUserID, req.IsReplicated,
	).Scan(&req.ID, &req.CreatedAt)
	if err != nil {
		return fmt.Errorf("create approval request: %w", err)
	}

	if len(req.Commits) == 0 {
		return nil
	}

	commitQuery := fmt.Sprintf(`
		INSERT INTO %s (request_id, op, secret_id, secret_version_id, blind_index,
			key_ciphertext, key_iv, key_tag, value_ciphertext, value_iv, value_tag,
			comment_ciphertext, comment_iv, comment_tag, skip_multiline_encoding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`, r.tables.ApprovalCommits)

	batch := &pgx.Batch{}
	for _, c := range req.Commits {
		batch.Queue(commitQuery,
			req.ID, c.Operation, c.SecretID, c.SecretVersionID, c.BlindIndex,
			c.KeyCiphertext, c.KeyIV, c.KeyTag,
			c.ValueCiphertext, c.ValueIV, c.ValueTag,
			c.CommentCiphertext, c.CommentIV, c.CommentTag,
			c.SkipMultilineEncoding,
		)
	}

	results := executor.SendBatch(ctx, batch)
	defer results.Close()

	for i := range req.Commits {
		if err := results.QueryRow().Scan(&req.Commits[i].ID); err != nil {
			return fmt.Errorf("create approval commit: %w", err)
		}
		req.Commits[i].RequestID = req.ID
	}
	return nil
}

// PostgresSnapshotRepository implements the SnapshotRepository interface
type PostgresSnapshotRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(config *postgres.RepositoryConfig) vaultRepo.SnapshotRepository {
	return &PostgresSnapshotRepository{pool: config.Pool, tables: config.Tables}
}

// Create stores a folder snapshot
func (r *PostgresSnapshotRepository) Create(ctx context.Context, snapshot *models.FolderSnapshot) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (folder_id, env_id, secret_version_ids)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, r.tables.Snapshots)

	err := postgres.GetExecutor(ctx, r.pool).QueryRow(ctx, query,
		snapshot.FolderID, snapshot.EnvID, snapshot.SecretVersionIDs,
	).Scan(&snapshot.ID, &snapshot.CreatedAt)
	if err != nil {
		return fmt.Errorf("create folder snapshot: %w", err)
	}
	return nil
}
