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

// PostgresSecretTagRepository implements the SecretTagRepository interface
type PostgresSecretTagRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
}

// NewSecretTagRepository creates a new tag repository
func NewSecretTagRepository(config *postgres.RepositoryConfig) vaultRepo.SecretTagRepository {
	return &PostgresSecretTagRepository{
		pool:   config.Pool,
		tables: config.Tables,
	}
}

// FindByIDs returns the tags with the given IDs
func (r *PostgresSecretTagRepository) FindByIDs(ctx context.Context, ids []string) ([]models.SecretTag, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT id, project_id, slug, name, color
		FROM %s
		WHERE id = ANY($1)
	`, r.tables.SecretTags)

	rows, err := postgres.GetExecutor(ctx, r.pool).Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("find tags: %w", err)
	}
	defer rows.Close()

	var tags []models.SecretTag
	for rows.Next() {
		var tag models.SecretTag
		if err := rows.Scan(&tag.ID, &tag.ProjectID, &tag.Slug, &tag.Name, &tag.Color); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// LinkSecrets attaches tags to secrets
func (r *PostgresSecretTagRepository) LinkSecrets(ctx context.Context, links []models.TagLink) error {
	return r.link(ctx, r.tables.SecretTagLinks, "secret_id", links)
}

// LinkVersions attaches tags to secret versions
func (r *PostgresSecretTagRepository) LinkVersions(ctx context.Context, links []models.TagLink) error {
	return r.link(ctx, r.tables.SecretVersionTagLinks, "version_id", links)
}

func (r *PostgresSecretTagRepository) link(ctx context.Context, table, ownerColumn string, links []models.TagLink) error {
	if len(links) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, tag_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, table, ownerColumn)

	batch := &pgx.Batch{}
	for _, l := range links {
		batch.Queue(query, l.OwnerID, l.TagID)
	}
	if err := postgres.GetExecutor(ctx, r.pool).SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("link tags: %w", err)
	}
	return nil
}

// UnlinkSecrets removes every tag from the given secrets
func (r *PostgresSecretTagRepository) UnlinkSecrets(ctx context.Context, secretIDs []string) error {
	if len(secretIDs) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE secret_id = ANY($1)`, r.tables.SecretTagLinks)
	if _, err := postgres.GetExecutor(ctx, r.pool).Exec(ctx, query, secretIDs); err != nil {
		return fmt.Errorf("unlink tags: %w", err)
	}
	return nil
}
