package vault

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"keyhaven/internal/domain"
	models "keyhaven/internal/domain/models/vault"
	vaultRepo "keyhaven/internal/domain/repositories/vault"
	"keyhaven/internal/repository/postgres"
)

const folderColumns = `id, env_id, parent_id, name, version, is_reserved, created_at, updated_at`

// PostgresFolderRepository implements the FolderRepository interface
type PostgresFolderRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
}

// NewFolderRepository creates a new folder repository
func NewFolderRepository(config *postgres.RepositoryConfig) vaultRepo.FolderRepository {
	return &PostgresFolderRepository{
		pool:   config.Pool,
		tables: config.Tables,
	}
}

func scanFolder(row pgx.Row) (*models.Folder, error) {
	var f models.Folder
	err := row.Scan(&f.ID, &f.EnvID, &f.ParentID, &f.Name, &f.Version, &f.IsReserved, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *PostgresFolderRepository) queryFolders(ctx context.Context, query string, args ...interface{}) ([]models.Folder, error) {
	rows, err := postgres.GetExecutor(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var folders []models.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, *f)
	}
	return folders, rows.Err()
}

// ListByEnvIDs loads every folder of the given environments
func (r *PostgresFolderRepository) ListByEnvIDs(ctx context.Context, envIDs []string) ([]models.Folder, error) {
	if len(envIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE env_id = ANY($1)`, folderColumns, r.tables.Folders)

	folders, err := r.queryFolders(ctx, query, envIDs)
	if err != nil {
		return nil, fmt.Errorf("list folders by environment: %w", err)
	}
	return folders, nil
}

// GetByIDs returns the folders with the given IDs
func (r *PostgresFolderRepository) GetByIDs(ctx context.Context, ids []string) ([]models.Folder, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ANY($1)`, folderColumns, r.tables.Folders)

	folders, err := r.queryFolders(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("get folders: %w", err)
	}
	return folders, nil
}

// FindChild returns the child of parentID named name, or nil
func (r *PostgresFolderRepository) FindChild(ctx context.Context, parentID, name string) (*models.Folder, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE parent_id = $1 AND name = $2
	`, folderColumns, r.tables.Folders)

	f, err := scanFolder(postgres.GetExecutor(ctx, r.pool).QueryRow(ctx, query, parentID, name))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find child folder: %w", err)
	}
	return f, nil
}

// Create inserts a folder
func (r *PostgresFolderRepository) Create(ctx context.Context, folder *models.Folder) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (env_id, parent_id, name, is_reserved)
		VALUES ($1, $2, $3, $4)
		RETURNING id, version, created_at, updated_at
	`, r.tables.Folders)

	err := postgres.GetExecutor(ctx, r.pool).QueryRow(ctx, query,
		folder.EnvID,
		folder.ParentID,
		folder.Name,
		folder.IsReserved,
	).Scan(&folder.ID, &folder.Version, &folder.CreatedAt, &folder.UpdatedAt)
	if err != nil {
		return createFolderError(err, folder)
	}
	return nil
}

// createFolderError translates a failed folder insert. A foreign key
// violation means the environment or parent folder is gone.
func createFolderError(err error, folder *models.Folder) error {
	switch {
	case postgres.IsPgDuplicateError(err):
		return &domain.ConflictError{
			Message:      fmt.Sprintf("folder %q already exists", folder.Name),
			ResourceType: "folder",
		}
	case postgres.IsPgForeignKeyError(err):
		return &domain.NotFoundError{
			Message: fmt.Sprintf("parent of folder %q not found (%s)", folder.Name, postgres.ViolatedConstraint(err)),
		}
	default:
		return fmt.Errorf("create folder: %w", err)
	}
}

// PostgresEnvironmentRepository implements the EnvironmentRepository interface
type PostgresEnvironmentRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
}

// NewEnvironmentRepository creates a new environment repository
func NewEnvironmentRepository(config *postgres.RepositoryConfig) vaultRepo.EnvironmentRepository {
	return &PostgresEnvironmentRepository{
		pool:   config.Pool,
		tables: config.Tables,
	}
}

// GetBySlug returns the environment with the given slug
func (r *PostgresEnvironmentRepository) GetBySlug(ctx context.Context, projectID, slug string) (*models.Environment, error) {
	query := fmt.Sprintf(`
		SELECT id, project_id, name, slug, position, created_at
		FROM %s
		WHERE project_id = $1 AND slug = $2
	`, r.tables.Environments)

	var env models.Environment
	err := postgres.GetExecutor(ctx, r.pool).QueryRow(ctx, query, projectID, slug).Scan(
		&env.ID, &env.ProjectID, &env.Name, &env.Slug, &env.Position, &env.CreatedAt,
	)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, &domain.NotFoundError{Message: fmt.Sprintf("environment %q not found", slug)}
		}
		return nil, fmt.Errorf("get environment: %w", err)
	}
	return &env, nil
}

// ListByIDs returns the environments with the given IDs
func (r *PostgresEnvironmentRepository) ListByIDs(ctx context.Context, ids []string) ([]models.Environment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT id, project_id, name, slug, position, created_at
		FROM %s
		WHERE id = ANY($1)
	`, r.tables.Environments)

	rows, err := postgres.GetExecutor(ctx, r.pool).Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	defer rows.Close()

	var envs []models.Environment
	for rows.Next() {
		var env models.Environment
		if err := rows.Scan(&env.ID, &env.ProjectID, &env.Name, &env.Slug, &env.Position, &env.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan environment: %w", err)
		}
		envs = append(envs, env)
	}
	return envs, rows.Err()
}
