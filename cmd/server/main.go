package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"keyhaven/internal/auth"
	"keyhaven/internal/config"
	"keyhaven/internal/crypto"
	"keyhaven/internal/handler"
	"keyhaven/internal/keystore"
	"keyhaven/internal/middleware"
	"keyhaven/internal/queue"
	"keyhaven/internal/repository/postgres"
	vaultPg "keyhaven/internal/repository/postgres/vault"
	"keyhaven/internal/service/vault"
	"keyhaven/internal/worker"
)

const maxLogFiles = 10

// redisPinger adapts a redis client to the health check
type redisPinger struct {
	client redis.UniversalClient
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logOutput, closeLog, err := config.LogWriter(cfg, maxLogFiles)
	if err != nil {
		log.Fatalf("Failed to set up log file: %v", err)
	}
	defer closeLog()

	logger := config.NewLogger(cfg, logOutput)
	slog.SetDefault(logger)

	logger.Info("server starting",
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
		"worker_concurrency", cfg.Tunables.WorkerConcurrency,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootKey, err := crypto.DecodeKey(cfg.RootEncryptionKey)
	if err != nil {
		log.Fatalf("Invalid ROOT_ENCRYPTION_KEY: %v", err)
	}

	jwtVerifier, err := auth.NewJWTVerifier(ctx, cfg.JWKSURL, logger)
	if err != nil {
		log.Fatalf("Failed to create JWT verifier: %v", err)
	}
	defer jwtVerifier.Close()

	if err := postgres.RunMigrations(ctx, cfg.DatabaseURL, cfg.TablePrefix); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	checks := map[string]handler.Pinger{"postgres": pool}

	// Redis backs the queue and keystore when configured; a single process
	// can run on the in-memory implementations
	var (
		jobQueue queue.Queue
		store    keystore.Keystore
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()

		jobQueue = queue.NewRedisQueue(client, logger)
		store = keystore.NewRedisKeystore(client, cfg.Tunables.ReplicationLockWait, logger)
		checks["redis"] = redisPinger{client: client}
		logger.Info("redis connected", "addr", opts.Addr)
	} else {
		jobQueue = queue.NewMemoryQueue(logger)
		store = keystore.NewMemoryKeystore(cfg.Tunables.ReplicationLockWait)
		logger.Warn("REDIS_URL not set, using in-memory queue and keystore")
	}

	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: postgres.NewTableNames(cfg.TablePrefix),
		Logger: logger,
	}
	txManager := postgres.NewTransactionManager(pool, logger)

	projectRepo := vaultPg.NewProjectRepository(repoConfig)
	membershipRepo := vaultPg.NewMembershipRepository(repoConfig)
	envRepo := vaultPg.NewEnvironmentRepository(repoConfig)
	folderRepo := vaultPg.NewFolderRepository(repoConfig)
	secretRepo := vaultPg.NewSecretRepository(repoConfig)
	versionRepo := vaultPg.NewSecretVersionRepository(repoConfig)
	tagRepo := vaultPg.NewSecretTagRepository(repoConfig)
	importRepo := vaultPg.NewSecretImportRepository(repoConfig)
	policyRepo := vaultPg.NewApprovalPolicyRepository(repoConfig)
	requestRepo := vaultPg.NewApprovalRequestRepository(repoConfig)
	snapshotRepo := vaultPg.NewSnapshotRepository(repoConfig)

	keyring := crypto.NewKeyring(rootKey, projectRepo)
	tunables := cfg.Tunables

	folders := vault.NewFolderStore(folderRepo, envRepo, tunables.MaxFolderDepth, logger)
	permissions := vault.NewPermissionService(membershipRepo, logger)
	resolver := vault.NewImportResolver(folders, secretRepo, importRepo, tunables.ReadImportDepth, logger)
	expander := vault.NewSecretExpander(folders, secretRepo, keyring, config.MaxSecretReferenceDepth, logger)
	secrets := vault.NewSecretService(folders, resolver, expander, importRepo, permissions, keyring, logger)
	reminders := vault.NewReminderService(jobQueue, tunables.QueueAttempts, tunables.QueueBackoff, logger)
	mutations := vault.NewMutationEngine(secretRepo, versionRepo, tagRepo, txManager, reminders, logger)
	approvals := vault.NewApprovalService(envRepo, policyRepo, requestRepo, txManager, logger)
	snapshots := vault.NewSnapshotService(secretRepo, versionRepo, snapshotRepo, logger)
	sync := vault.NewSyncService(folders, importRepo, jobQueue, tunables, logger)
	replication := vault.NewReplicationCoordinator(vault.ReplicationDeps{
		Folders:     folders,
		Mutations:   mutations,
		Approvals:   approvals,
		Snapshots:   snapshots,
		Sync:        sync,
		SecretRepo:  secretRepo,
		VersionRepo: versionRepo,
		ImportRepo:  importRepo,
		TxManager:   txManager,
		Keystore:    store,
		Keys:        keyring,
	}, tunables, logger)

	logger.Info("services initialized")

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, handler.Handlers{
		Health:  handler.NewHealthHandler(checks, logger),
		Folders: handler.NewFolderHandler(folders, permissions, logger),
		Secrets: handler.NewSecretHandler(secrets, sync, permissions, logger),
	})

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → RequestLogger → Recovery → Auth → Routes
	var h http.Handler = mux
	h = middleware.AuthMiddleware(jwtVerifier, logger)(h)
	h = middleware.Recovery(logger)(h)
	h = middleware.RequestLogger(logger)(h)

	// CORS - Must be outermost to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	})
	h = corsHandler.Handler(h)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.New(jobQueue, replication, sync, reminders, tunables.WorkerConcurrency, logger).Run(gctx)
	})
	g.Go(func() error {
		logger.Info("http server listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
