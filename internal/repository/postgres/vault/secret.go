package vault

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"keyhaven/internal/domain"
	models "keyhaven/internal/domain/models/vault"
	vaultRepo "keyhaven/internal/domain/repositories/vault"
	"keyhaven/internal/repository/postgres"
)

const secretColumns = `id, folder_id, blind_index, type, user_id, version,
	key_ciphertext, key_iv, key_tag, value_ciphertext, value_iv, value_tag,
	comment_ciphertext, comment_iv, comment_tag,
	skip_multiline_encoding, reminder_repeat_days, reminder_note, created_at, updated_at`

// PostgresSecretRepository implements the SecretRepository interface
type PostgresSecretRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
}

// NewSecretRepository creates a new secret repository
func NewSecretRepository(config *postgres.RepositoryConfig) vaultRepo.SecretRepository {
	return &PostgresSecretRepository{
		pool:   config.Pool,
		tables: config.Tables,
	}
}

func scanSecret(row pgx.Row) (*models.Secret, error) {
	var s models.Secret
	err := row.Scan(
		&s.ID, &s.FolderID, &s.BlindIndex, &s.Type, &s.UserID, &s.Version,
		&s.KeyCiphertext, &s.KeyIV, &s.KeyTag,
		&s.ValueCiphertext, &s.ValueIV, &s.ValueTag,
		&s.CommentCiphertext, &s.CommentIV, &s.CommentTag,
		&s.SkipMultilineEncoding, &s.ReminderRepeatDays, &s.ReminderNote,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresSecretRepository) querySecrets(ctx context.Context, query string, args ...interface{}) ([]models.Secret, error) {
	rows, err := postgres.GetExecutor(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var secrets []models.Secret
	for rows.Next() {
		s, err := scanSecret(rows)
		if err != nil {
			return nil, fmt.Errorf("scan secret: %w", err)
		}
		secrets = append(secrets, *s)
	}
	return secrets, rows.Err()
}

// FindSharedByFolderIDs returns the shared secrets of the given folders
func (r *PostgresSecretRepository) FindSharedByFolderIDs(ctx context.Context, folderIDs []string) ([]models.Secret, error) {
	if len(folderIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE folder_id = ANY($1) AND type = 'shared'
		ORDER BY folder_id, created_at
	`, secretColumns, r.tables.Secrets)

	secrets, err := r.querySecrets(ctx, query, folderIDs)
	if err != nil {
		return nil, fmt.Errorf("find secrets by folders: %w", err)
	}
	return secrets, nil
}

// FindByFolderID returns shared secrets plus the personal secrets of userID
func (r *PostgresSecretRepository) FindByFolderID(ctx context.Context, folderID, userID string) ([]models.Secret, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE folder_id = $1 AND (type = 'shared' OR ($2 <> '' AND user_id = $2))
		ORDER BY created_at
	`, secretColumns, r.tables.Secrets)

	secrets, err := r.querySecrets(ctx, query, folderID, userID)
	if err != nil {
		return nil, fmt.Errorf("find secrets in folder %s: %w", folderID, err)
	}
	return secrets, nil
}

// InsertMany inserts the secrets and returns them in input order
func (r *PostgresSecretRepository) InsertMany(ctx context.Context, folderID string, specs []models.SecretSpec) ([]models.Secret, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (folder_id, blind_index, type, user_id,
			key_ciphertext, key_iv, key_tag, value_ciphertext, value_iv, value_tag,
			comment_ciphertext, comment_iv, comment_tag,
			skip_multiline_encoding, reminder_repeat_days, reminder_note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING %s
	`, r.tables.Secrets, secretColumns)

	batch := &pgx.Batch{}
	for _, spec := range specs {
		batch.Queue(query,
			folderID, spec.BlindIndex, spec.Type, spec.UserID,
			spec.KeyCiphertext, spec.KeyIV, spec.KeyTag,
			spec.ValueCiphertext, spec.ValueIV, spec.ValueTag,
			spec.CommentCiphertext, spec.CommentIV, spec.CommentTag,
			spec.SkipMultilineEncoding, spec.ReminderRepeatDays, spec.ReminderNote,
		)
	}

	results := postgres.GetExecutor(ctx, r.pool).SendBatch(ctx, batch)
	defer results.Close()

	secrets := make([]models.Secret, 0, len(specs))
	for range specs {
		s, err := scanSecret(results.QueryRow())
		if err != nil {
			return nil, insertSecretError(err, folderID)
		}
		secrets = append(secrets, *s)
	}
	return secrets, nil
}

// insertSecretError translates a failed secret insert into a domain error
func insertSecretError(err error, folderID string) error {
	switch {
	case postgres.IsPgDuplicateError(err):
		return &domain.ConflictError{
			Message:      "a secret with this key already exists in the folder",
			ResourceType: "secret",
		}
	case postgres.IsPgForeignKeyError(err):
		return &domain.NotFoundError{Message: fmt.Sprintf("folder %s not found", folderID)}
	default:
		return fmt.Errorf("insert secret: %w", err)
	}
}

// UpdateOne applies data to the secret matched by filter
func (r *PostgresSecretRepository) UpdateOne(ctx context.Context, folderID string, filter models.SecretFilter, data models.SecretUpdateData) (*models.Secret, error) {
	args := []interface{}{
		folderID, data.BlindIndex,
		data.KeyCiphertext, data.KeyIV, data.KeyTag,
		data.ValueCiphertext, data.ValueIV, data.ValueTag,
		data.CommentCiphertext, data.CommentIV, data.CommentTag,
		data.SkipMultilineEncoding, data.ReminderRepeatDays, data.ReminderNote,
	}
	where, args := secretFilterClause(filter, args)

	query := fmt.Sprintf(`
		UPDATE %s SET
			blind_index = COALESCE($2, blind_index),
			key_ciphertext = $3, key_iv = $4, key_tag = $5,
			value_ciphertext = $6, value_iv = $7, value_tag = $8,
			comment_ciphertext = $9, comment_iv = $10, comment_tag = $11,
			skip_multiline_encoding = $12,
			reminder_repeat_days = $13, reminder_note = $14,
			version = version + 1,
			updated_at = now()
		WHERE folder_id = $1 AND %s
		RETURNING %s
	`, r.tables.Secrets, where, secretColumns)

	s, err := scanSecret(postgres.GetExecutor(ctx, r.pool).QueryRow(ctx, query, args...))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, nil
		}
		if postgres.IsPgDuplicateError(err) {
			return nil, &domain.ConflictError{
				Message:      "a secret with this key already exists in the folder",
				ResourceType: "secret",
			}
		}
		return nil, fmt.Errorf("update secret: %w", err)
	}
	return s, nil
}

// secretFilterClause appends the filter arguments to args and returns the
// matching WHERE fragment.
func secretFilterClause(filter models.SecretFilter, args []interface{}) (string, []interface{}) {
	if filter.ID != "" {
		args = append(args, filter.ID)
		return fmt.Sprintf("id = $%d", len(args)), args
	}

	args = append(args, filter.BlindIndex, filter.Type)
	clauses := []string{
		fmt.Sprintf("blind_index = $%d", len(args)-1),
		fmt.Sprintf("type = $%d", len(args)),
	}
	if filter.Type == models.SecretTypePersonal && filter.UserID != nil {
		args = append(args, *filter.UserID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

// DeleteMany removes shared secrets (with every personal override of the same
// key) and the actor's own personal secrets.
func (r *PostgresSecretRepository) DeleteMany(ctx context.Context, folderID string, specs []models.SecretDeleteSpec, actorID string) ([]models.Secret, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	shared := []string{}
	personal := []string{}
	for _, spec := range specs {
		if spec.Type == models.SecretTypePersonal {
			personal = append(personal, spec.BlindIndex)
		} else {
			shared = append(shared, spec.BlindIndex)
		}
	}

	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE folder_id = $1 AND (
			blind_index = ANY($2)
			OR (type = 'personal' AND user_id = $4 AND blind_index = ANY($3))
		)
		RETURNING %s
	`, r.tables.Secrets, secretColumns)

	secrets, err := r.querySecrets(ctx, query, folderID, shared, personal, actorID)
	if err != nil {
		return nil, fmt.Errorf("delete secrets: %w", err)
	}
	return secrets, nil
}

// ReplaceReferences sets the recorded references of each secret
func (r *PostgresSecretRepository) ReplaceReferences(ctx context.Context, refs map[string][]models.SecretReference) error {
	if len(refs) == 0 {
		return nil
	}
	executor := postgres.GetExecutor(ctx, r.pool)

	secretIDs := make([]string, 0, len(refs))
	for id := range refs {
		secretIDs = append(secretIDs, id)
	}
	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE secret_id = ANY($1)`, r.tables.SecretReferences)
	if _, err := executor.Exec(ctx, deleteQuery, secretIDs); err != nil {
		return fmt.Errorf("clear secret references: %w", err)
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (secret_id, environment, secret_path, secret_key)
		VALUES ($1, $2, $3, $4)
	`, r.tables.SecretReferences)

	batch := &pgx.Batch{}
	for secretID, list := range refs {
		for _, ref := range list {
			batch.Queue(insertQuery, secretID, ref.Environment, ref.SecretPath, ref.SecretKey)
		}
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := executor.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert secret references: %w", err)
	}
	return nil
}
