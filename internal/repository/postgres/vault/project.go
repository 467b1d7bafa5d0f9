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

// PostgresProjectRepository implements the ProjectRepository and
// MembershipRepository interfaces
type PostgresProjectRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(config *postgres.RepositoryConfig) vaultRepo.ProjectRepository {
	return &PostgresProjectRepository{
		pool:   config.Pool,
		tables: config.Tables,
	}
}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository(config *postgres.RepositoryConfig) vaultRepo.MembershipRepository {
	return &PostgresProjectRepository{
		pool:   config.Pool,
		tables: config.Tables,
	}
}

// GetByID retrieves a project by ID
func (r *PostgresProjectRepository) GetByID(ctx context.Context, id string) (*models.Project, error) {
	query := fmt.Sprintf(`SELECT id, org_id, name, created_at FROM %s WHERE id = $1`, r.tables.Projects)

	var p models.Project
	err := postgres.GetExecutor(ctx, r.pool).QueryRow(ctx, query, id).Scan(&p.ID, &p.OrgID, &p.Name, &p.CreatedAt)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, &domain.NotFoundError{Message: fmt.Sprintf("project %s not found", id)}
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

// GetKeys returns the wrapped key material of a project
func (r *PostgresProjectRepository) GetKeys(ctx context.Context, projectID string) (*models.ProjectKeys, error) {
	query := fmt.Sprintf(`
		SELECT id, key_ciphertext, key_iv, key_tag, salt_ciphertext, salt_iv, salt_tag
		FROM %s
		WHERE id = $1
	`, r.tables.Projects)

	var k models.ProjectKeys
	err := postgres.GetExecutor(ctx, r.pool).QueryRow(ctx, query, projectID).Scan(
		&k.ProjectID, &k.KeyCiphertext, &k.KeyIV, &k.KeyTag, &k.SaltCiphertext, &k.SaltIV, &k.SaltTag,
	)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, &domain.NotFoundError{Message: fmt.Sprintf("project %s not found", projectID)}
		}
		return nil, fmt.Errorf("get project keys: %w", err)
	}
	return &k, nil
}

// GetRole returns the actor's role in the project
func (r *PostgresProjectRepository) GetRole(ctx context.Context, projectID, actorID string) (models.MemberRole, error) {
	query := fmt.Sprintf(`SELECT role FROM %s WHERE project_id = $1 AND actor_id = $2`, r.tables.Memberships)

	var role models.MemberRole
	err := postgres.GetExecutor(ctx, r.pool).QueryRow(ctx, query, projectID, actorID).Scan(&role)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return "", &domain.NotFoundError{Message: "project membership not found"}
		}
		return "", fmt.Errorf("get membership: %w", err)
	}
	return role, nil
}
