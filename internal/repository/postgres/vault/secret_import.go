package vault

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"keyhaven/internal/domain"
	models "keyhaven/internal/domain/models/vault"
	vaultRepo "keyhaven/internal/domain/repositories/vault"
	"keyhaven/internal/repository/postgres"
)

// PostgresSecretImportRepository implements the SecretImportRepository interface
type PostgresSecretImportRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
}

// NewSecretImportRepository creates a new import repository
func NewSecretImportRepository(config *postgres.RepositoryConfig) vaultRepo.SecretImportRepository {
	return &PostgresSecretImportRepository{
		pool:   config.Pool,
		tables: config.Tables,
	}
}

func (r *PostgresSecretImportRepository) selectImports() string {
	return fmt.Sprintf(`
		SELECT i.id, i.folder_id, i.import_env_id, e.slug, i.import_path, i.position,
			i.is_replication, i.last_replicated, i.replication_status, i.is_replication_success,
			i.created_at, i.updated_at
		FROM %s i
		JOIN %s e ON e.id = i.import_env_id
	`, r.tables.SecretImports, r.tables.Environments)
}

func (r *PostgresSecretImportRepository) queryImports(ctx context.Context, query string, args ...interface{}) ([]models.SecretImport, error) {
	rows, err := postgres.GetExecutor(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var imports []models.SecretImport
	for rows.Next() {
		var imp models.SecretImport
		err := rows.Scan(
			&imp.ID, &imp.FolderID, &imp.ImportEnvID, &imp.ImportEnvSlug, &imp.ImportPath, &imp.Position,
			&imp.IsReplication, &imp.LastReplicated, &imp.ReplicationStatus, &imp.IsReplicationSuccess,
			&imp.CreatedAt, &imp.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		imports = append(imports, imp)
	}
	return imports, rows.Err()
}

// FindByFolderIDs returns the imports declared by the given folders
func (r *PostgresSecretImportRepository) FindByFolderIDs(ctx context.Context, folderIDs []string, includeReplication bool) ([]models.SecretImport, error) {
	if len(folderIDs) == 0 {
		return nil, nil
	}
	query := r.selectImports() + `
		WHERE i.folder_id = ANY($1) AND ($2 OR NOT i.is_replication)
		ORDER BY i.folder_id, i.position
	`
	imports, err := r.queryImports(ctx, query, folderIDs, includeReplication)
	if err != nil {
		return nil, fmt.Errorf("find imports by folders: %w", err)
	}
	return imports, nil
}

// FindByTarget returns imports of (importEnvID, importPath) ordered by ID
func (r *PostgresSecretImportRepository) FindByTarget(ctx context.Context, importEnvID, importPath string, replication bool) ([]models.SecretImport, error) {
	query := r.selectImports() + `
		WHERE i.import_env_id = $1 AND i.import_path = $2 AND i.is_replication = $3
		ORDER BY i.id
	`
	imports, err := r.queryImports(ctx, query, importEnvID, importPath, replication)
	if err != nil {
		return nil, fmt.Errorf("find imports of %s: %w", importPath, err)
	}
	return imports, nil
}

// UpdateReplicationStatus records the result of replicating an import
func (r *PostgresSecretImportRepository) UpdateReplicationStatus(ctx context.Context, id string, update models.ReplicationStatusUpdate) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET last_replicated = $2, replication_status = $3, is_replication_success = $4, updated_at = now()
		WHERE id = $1
	`, r.tables.SecretImports)

	result, err := postgres.GetExecutor(ctx, r.pool).Exec(ctx, query, id, update.LastReplicated, update.Status, update.Success)
	if err != nil {
		return fmt.Errorf("update replication status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("secret import %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
