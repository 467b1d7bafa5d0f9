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

const versionColumns = `id, secret_id, folder_id, version, blind_index, type, user_id,
	key_ciphertext, key_iv, key_tag, value_ciphertext, value_iv, value_tag,
	comment_ciphertext, comment_iv, comment_tag,
	skip_multiline_encoding, is_replicated, created_at`

// PostgresSecretVersionRepository implements the SecretVersionRepository interface
type PostgresSecretVersionRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
}

// NewSecretVersionRepository creates a new secret version repository
func NewSecretVersionRepository(config *postgres.RepositoryConfig) vaultRepo.SecretVersionRepository {
	return &PostgresSecretVersionRepository{
		pool:   config.Pool,
		tables: config.Tables,
	}
}

func scanVersion(row pgx.Row) (*models.SecretVersion, error) {
	var v models.SecretVersion
	err := row.Scan(
		&v.ID, &v.SecretID, &v.FolderID, &v.Version, &v.BlindIndex, &v.Type, &v.UserID,
		&v.KeyCiphertext, &v.KeyIV, &v.KeyTag,
		&v.ValueCiphertext, &v.ValueIV, &v.ValueTag,
		&v.CommentCiphertext, &v.CommentIV, &v.CommentTag,
		&v.SkipMultilineEncoding, &v.IsReplicated, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *PostgresSecretVersionRepository) queryVersions(ctx context.Context, query string, args ...interface{}) ([]models.SecretVersion, error) {
	rows, err := postgres.GetExecutor(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []models.SecretVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan secret version: %w", err)
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

// InsertMany appends versions in input order
func (r *PostgresSecretVersionRepository) InsertMany(ctx context.Context, versions []models.SecretVersion) ([]models.SecretVersion, error) {
	if len(versions) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (secret_id, folder_id, version, blind_index, type, user_id,
			key_ciphertext, key_iv, key_tag, value_ciphertext, value_iv, value_tag,
			comment_ciphertext, comment_iv, comment_tag, skip_multiline_encoding, is_replicated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING %s
	`, r.tables.SecretVersions, versionColumns)

	batch := &pgx.Batch{}
	for _, v := range versions {
		batch.Queue(query,
			v.SecretID, v.FolderID, v.Version, v.BlindIndex, v.Type, v.UserID,
			v.KeyCiphertext, v.KeyIV, v.KeyTag,
			v.ValueCiphertext, v.ValueIV, v.ValueTag,
			v.CommentCiphertext, v.CommentIV, v.CommentTag,
			v.SkipMultilineEncoding, v.IsReplicated,
		)
	}

	results := postgres.GetExecutor(ctx, r.pool).SendBatch(ctx, batch)
	defer results.Close()

	inserted := make([]models.SecretVersion, 0, len(versions))
	for range versions {
		v, err := scanVersion(results.QueryRow())
		if err != nil {
			return nil, fmt.Errorf("insert secret version: %w", err)
		}
		inserted = append(inserted, *v)
	}
	return inserted, nil
}

// FindByKeys returns the versions addressed by (secret, version) keys
func (r *PostgresSecretVersionRepository) FindByKeys(ctx context.Context, keys []models.SecretVersionKey) ([]models.SecretVersion, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	secretIDs := make([]string, len(keys))
	numbers := make([]int32, len(keys))
	for i, k := range keys {
		secretIDs[i] = k.SecretID
		numbers[i] = int32(k.Version)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s v
		JOIN unnest($1::uuid[], $2::int[]) AS k(secret_id, version)
			ON v.secret_id = k.secret_id AND v.version = k.version
	`, prefixed("v", versionColumns), r.tables.SecretVersions)

	versions, err := r.queryVersions(ctx, query, secretIDs, numbers)
	if err != nil {
		return nil, fmt.Errorf("find secret versions: %w", err)
	}
	return versions, nil
}

// FindLatestReplicated returns the highest replicated version per secret
func (r *PostgresSecretVersionRepository) FindLatestReplicated(ctx context.Context, secretIDs []string) (map[string]int, error) {
	latest := make(map[string]int)
	if len(secretIDs) == 0 {
		return latest, nil
	}
	query := fmt.Sprintf(`
		SELECT secret_id, MAX(version)
		FROM %s
		WHERE secret_id = ANY($1) AND is_replicated
		GROUP BY secret_id
	`, r.tables.SecretVersions)

	rows, err := postgres.GetExecutor(ctx, r.pool).Query(ctx, query, secretIDs)
	if err != nil {
		return nil, fmt.Errorf("find replicated versions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var version int
		if err := rows.Scan(&id, &version); err != nil {
			return nil, fmt.Errorf("scan replicated version: %w", err)
		}
		latest[id] = version
	}
	return latest, rows.Err()
}

// FindLatest returns the newest version of each secret in folderID
func (r *PostgresSecretVersionRepository) FindLatest(ctx context.Context, folderID string, secretIDs []string) (map[string]models.SecretVersion, error) {
	latest := make(map[string]models.SecretVersion)
	if len(secretIDs) == 0 {
		return latest, nil
	}
	query := fmt.Sprintf(`
		SELECT DISTINCT ON (secret_id) %s
		FROM %s
		WHERE folder_id = $1 AND secret_id = ANY($2)
		ORDER BY secret_id, version DESC
	`, versionColumns, r.tables.SecretVersions)

	versions, err := r.queryVersions(ctx, query, folderID, secretIDs)
	if err != nil {
		return nil, fmt.Errorf("find latest versions: %w", err)
	}
	for _, v := range versions {
		latest[v.SecretID] = v
	}
	return latest, nil
}

// MarkReplicated flags the given versions as replicated
func (r *PostgresSecretVersionRepository) MarkReplicated(ctx context.Context, versionIDs []string) error {
	if len(versionIDs) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE %s SET is_replicated = true WHERE id = ANY($1)`, r.tables.SecretVersions)
	if _, err := postgres.GetExecutor(ctx, r.pool).Exec(ctx, query, versionIDs); err != nil {
		return fmt.Errorf("mark versions replicated: %w", err)
	}
	return nil
}
