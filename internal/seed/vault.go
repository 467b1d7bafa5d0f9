package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"keyhaven/internal/crypto"
	"keyhaven/internal/repository/postgres"
)

// seedNamespace derives stable IDs so reseeding is idempotent
var seedNamespace = uuid.MustParse("6f1c3a52-9d7e-4b8a-a0c4-1e2f3d4c5b6a")

func seedID(parts ...string) string {
	name := ""
	for _, p := range parts {
		name += "/" + p
	}
	return uuid.NewSHA1(seedNamespace, []byte(name)).String()
}

// Environments seeded into every demo project, in display order
var Environments = []string{"dev", "staging", "prod"}

// SeededProject holds the IDs created by SeedProject
type SeededProject struct {
	ProjectID string
	// EnvIDs maps environment slug to ID
	EnvIDs map[string]string
	// AppFolderIDs maps environment slug to the ID of its /app folder
	AppFolderIDs map[string]string
}

// VaultSeeder writes a demo project straight into the tables
type VaultSeeder struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewVaultSeeder creates a new vault seeder
func NewVaultSeeder(pool *pgxpool.Pool, tables *postgres.TableNames, logger *slog.Logger) *VaultSeeder {
	return &VaultSeeder{
		pool:   pool,
		tables: tables,
		logger: logger,
	}
}

// SeedProject creates a project owned by actorID with dev, staging and prod
// environments. Each has a root and an /app folder. staging:/app imports
// dev:/app and prod:/app replicates it.
func (s *VaultSeeder) SeedProject(ctx context.Context, rootKey []byte, orgID, actorID, name string) (*SeededProject, error) {
	projectID := seedID("project", orgID, name)

	keys, err := crypto.WrapProjectKeys(rootKey, projectID)
	if err != nil {
		return nil, fmt.Errorf("wrap project keys: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin seed transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO `+s.tables.Projects+`
		(id, org_id, name, key_ciphertext, key_iv, key_tag, salt_ciphertext, salt_iv, salt_tag)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		projectID, orgID, name,
		keys.KeyCiphertext, keys.KeyIV, keys.KeyTag,
		keys.SaltCiphertext, keys.SaltIV, keys.SaltTag,
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}

	_, err = tx.Exec(ctx, `INSERT INTO `+s.tables.Memberships+` (project_id, actor_id, role)
		VALUES ($1, $2, 'admin')
		ON CONFLICT (project_id, actor_id) DO NOTHING`,
		projectID, actorID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert membership: %w", err)
	}

	seeded := &SeededProject{
		ProjectID:    projectID,
		EnvIDs:       make(map[string]string, len(Environments)),
		AppFolderIDs: make(map[string]string, len(Environments)),
	}

	for i, slug := range Environments {
		envID := seedID(projectID, "env", slug)
		rootID := seedID(envID, "root")
		appID := seedID(envID, "app")

		_, err = tx.Exec(ctx, `INSERT INTO `+s.tables.Environments+` (id, project_id, name, slug, position)
			VALUES ($1, $2, $3, $3, $4)
			ON CONFLICT DO NOTHING`,
			envID, projectID, slug, i,
		)
		if err != nil {
			return nil, fmt.Errorf("insert environment %s: %w", slug, err)
		}

		_, err = tx.Exec(ctx, `INSERT INTO `+s.tables.Folders+` (id, env_id, parent_id, name)
			VALUES ($1, $2, NULL, 'root'), ($3, $2, $1, 'app')
			ON CONFLICT DO NOTHING`,
			rootID, envID, appID,
		)
		if err != nil {
			return nil, fmt.Errorf("insert folders of %s: %w", slug, err)
		}

		seeded.EnvIDs[slug] = envID
		seeded.AppFolderIDs[slug] = appID
	}

	imports := []struct {
		folderEnv   string
		replication bool
	}{
		{folderEnv: "staging", replication: false},
		{folderEnv: "prod", replication: true},
	}
	for _, imp := range imports {
		_, err = tx.Exec(ctx, `INSERT INTO `+s.tables.SecretImports+`
			(id, folder_id, import_env_id, import_path, position, is_replication)
			VALUES ($1, $2, $3, '/app', 1, $4)
			ON CONFLICT DO NOTHING`,
			seedID(projectID, "import", imp.folderEnv),
			seeded.AppFolderIDs[imp.folderEnv],
			seeded.EnvIDs["dev"],
			imp.replication,
		)
		if err != nil {
			return nil, fmt.Errorf("insert import into %s: %w", imp.folderEnv, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit seed transaction: %w", err)
	}

	s.logger.Info("project seeded",
		"project_id", projectID,
		"actor_id", actorID,
		"environments", len(Environments),
	)
	return seeded, nil
}

// DropTables drops every keyhaven table and the goose version table of
// tablePrefix so the next migration starts fresh
func (s *VaultSeeder) DropTables(ctx context.Context, tablePrefix string) error {
	t := s.tables
	tables := []string{
		t.Snapshots, t.ApprovalCommits, t.ApprovalRequests, t.ApprovalPolicies,
		t.SecretImports, t.SecretReferences, t.SecretVersionTagLinks, t.SecretTagLinks,
		t.SecretTags, t.SecretVersions, t.Secrets, t.Folders, t.Environments,
		t.Memberships, t.Projects, tablePrefix + "goose_db_version",
	}
	for _, table := range tables {
		if _, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	s.logger.Info("tables dropped", "prefix", tablePrefix, "count", len(tables))
	return nil
}

// ClearProject removes a seeded project; every child row cascades
func (s *VaultSeeder) ClearProject(ctx context.Context, orgID, name string) error {
	projectID := seedID("project", orgID, name)
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.tables.Projects+` WHERE id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	s.logger.Info("project cleared", "project_id", projectID, "rows", tag.RowsAffected())
	return nil
}
