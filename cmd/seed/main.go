package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"keyhaven/internal/config"
	"keyhaven/internal/crypto"
	models "keyhaven/internal/domain/models/vault"
	"keyhaven/internal/queue"
	"keyhaven/internal/repository/postgres"
	vaultPg "keyhaven/internal/repository/postgres/vault"
	"keyhaven/internal/seed"
	"keyhaven/internal/service/vault"
)

type seedSecret struct {
	env   string
	key   string
	value string
}

var demoSecrets = []seedSecret{
	{env: "dev", key: "DB_HOST", value: "db.dev.internal"},
	{env: "dev", key: "DB_USER", value: "keyhaven"},
	{env: "dev", key: "DATABASE_URL", value: "postgres://${DB_USER}@${DB_HOST}/app"},
	{env: "staging", key: "LOG_LEVEL", value: "debug"},
	{env: "prod", key: "LOG_LEVEL", value: "warn"},
	{env: "prod", key: "UPSTREAM_DB", value: "${dev.app.DB_HOST}"},
}

func main() {
	actorID := flag.String("actor", "", "Actor ID granted admin on the seeded project (required)")
	orgID := flag.String("org", "00000000-0000-0000-0000-000000000001", "Organization UUID owning the project")
	name := flag.String("name", "Demo Project", "Project name")
	clearData := flag.Bool("clear-data", false, "Delete the seeded project instead of creating it")
	dropTables := flag.Bool("drop-tables", false, "Drop all tables before seeding (fresh start)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// SAFETY: Prevent destructive operations in production
	if cfg.Environment == "prod" && (*clearData || *dropTables) {
		log.Fatalf("BLOCKED: Cannot run destructive operations (--drop-tables or --clear-data) in production environment")
	}
	if *actorID == "" && !*clearData {
		log.Fatalf("--actor is required")
	}

	logger := config.NewLogger(cfg, log.Writer())
	ctx := context.Background()

	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	tables := postgres.NewTableNames(cfg.TablePrefix)
	seeder := seed.NewVaultSeeder(pool, tables, logger)

	if *dropTables {
		if err := seeder.DropTables(ctx, cfg.TablePrefix); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
	}

	if err := postgres.RunMigrations(ctx, cfg.DatabaseURL, cfg.TablePrefix); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	if *clearData {
		if err := seeder.ClearProject(ctx, *orgID, *name); err != nil {
			log.Fatalf("Failed to clear data: %v", err)
		}
		return
	}

	rootKey, err := crypto.DecodeKey(cfg.RootEncryptionKey)
	if err != nil {
		log.Fatalf("Invalid ROOT_ENCRYPTION_KEY: %v", err)
	}

	project, err := seeder.SeedProject(ctx, rootKey, *orgID, *actorID, *name)
	if err != nil {
		log.Fatalf("Failed to seed project: %v", err)
	}

	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	}
	keyring := crypto.NewKeyring(rootKey, vaultPg.NewProjectRepository(repoConfig))
	mutations := vault.NewMutationEngine(
		vaultPg.NewSecretRepository(repoConfig),
		vaultPg.NewSecretVersionRepository(repoConfig),
		vaultPg.NewSecretTagRepository(repoConfig),
		postgres.NewTransactionManager(pool, logger),
		// seeded secrets carry no reminders
		vault.NewReminderService(queue.NewMemoryQueue(logger), 1, cfg.Tunables.QueueBackoff, logger),
		logger,
	)

	key, err := keyring.ProjectKey(ctx, project.ProjectID)
	if err != nil {
		log.Fatalf("Failed to load project key: %v", err)
	}

	specsByEnv := make(map[string][]models.SecretSpec)
	for _, s := range demoSecrets {
		blindIndex, err := keyring.BlindIndex(ctx, project.ProjectID, s.key)
		if err != nil {
			log.Fatalf("Failed to derive blind index for %s: %v", s.key, err)
		}
		fields, err := vault.EncryptFields(s.key, s.value, "", key)
		if err != nil {
			log.Fatalf("Failed to encrypt %s: %v", s.key, err)
		}
		specsByEnv[s.env] = append(specsByEnv[s.env], models.SecretSpec{
			BlindIndex:      blindIndex,
			Type:            models.SecretTypeShared,
			EncryptedFields: fields,
			References:      vault.ExtractReferences(s.value, s.env, "/app"),
		})
	}

	for _, env := range seed.Environments {
		specs := specsByEnv[env]
		inserted, err := mutations.BulkInsert(ctx, project.AppFolderIDs[env], specs)
		if err != nil {
			// a rerun finds the secrets already present
			logger.Warn("skipping secrets", "environment", env, "error", err)
			continue
		}
		logger.Info("secrets seeded", "environment", env, "secret_path", "/app", "count", len(inserted))
	}

	logger.Info("seeding complete",
		"project_id", project.ProjectID,
		"hint", "POST /api/v1/secrets/sync for dev:/app to populate the prod replica",
	)
}
