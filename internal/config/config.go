package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string
	Environment string
	DatabaseURL string
	RedisURL    string
	JWKSURL     string
	CORSOrigins string
	TablePrefix string
	// RootEncryptionKey is the base64 AES-256 key that wraps per-project keys and salts.
	RootEncryptionKey string
	LogDir            string
	// Debug enables debug-level logging
	Debug bool

	Tunables Tunables
}

// Tunables are the pipeline knobs that may be overridden by the YAML file
// named in KEYHAVEN_CONFIG.
type Tunables struct {
	ReadImportDepth       int           `yaml:"read_import_depth"`
	SyncImportDepth       int           `yaml:"sync_import_depth"`
	MaxFolderDepth        int           `yaml:"max_folder_depth"`
	ReplicationLockTTL    time.Duration `yaml:"replication_lock_ttl"`
	ReplicationLockWait   time.Duration `yaml:"replication_lock_wait"`
	FolderLockTTL         time.Duration `yaml:"folder_lock_ttl"`
	ReplicationSuccessTTL time.Duration `yaml:"replication_success_ttl"`
	QueueAttempts         int           `yaml:"queue_attempts"`
	QueueBackoff          time.Duration `yaml:"queue_backoff"`
	SyncDebounce          time.Duration `yaml:"sync_debounce"`
	WorkerConcurrency     int           `yaml:"worker_concurrency"`
}

// DefaultTunables returns the built-in pipeline settings.
func DefaultTunables() Tunables {
	return Tunables{
		ReadImportDepth:       ReadImportDepth,
		SyncImportDepth:       SyncImportDepth,
		MaxFolderDepth:        MaxFolderDepth,
		ReplicationLockTTL:    ReplicationLockTTL,
		ReplicationLockWait:   ReplicationLockWait,
		FolderLockTTL:         FolderLockTTL,
		ReplicationSuccessTTL: ReplicationSuccessTTL,
		QueueAttempts:         QueueAttempts,
		QueueBackoff:          QueueBackoff,
		SyncDebounce:          SyncDebounce,
		WorkerConcurrency:     WorkerConcurrency,
	}
}

// Validate checks that every tunable is usable.
func (t Tunables) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.ReadImportDepth, validation.Required, validation.Min(1)),
		validation.Field(&t.SyncImportDepth, validation.Required, validation.Min(1)),
		validation.Field(&t.MaxFolderDepth, validation.Required, validation.Min(1)),
		validation.Field(&t.ReplicationLockTTL, validation.Required),
		validation.Field(&t.ReplicationLockWait, validation.Required),
		validation.Field(&t.FolderLockTTL, validation.Required),
		validation.Field(&t.ReplicationSuccessTTL, validation.Required),
		validation.Field(&t.QueueAttempts, validation.Required, validation.Min(1)),
		validation.Field(&t.QueueBackoff, validation.Required),
		validation.Field(&t.WorkerConcurrency, validation.Required, validation.Min(1)),
	)
}

func Load() (*Config, error) {
	env := getEnv("ENVIRONMENT", "dev")

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Environment:       env,
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		JWKSURL:           getEnv("JWKS_URL", ""),
		CORSOrigins:       getEnv("CORS_ORIGINS", "http://localhost:3000"),
		TablePrefix:       getTablePrefix(env),
		RootEncryptionKey: getEnv("ROOT_ENCRYPTION_KEY", ""),
		LogDir:            getEnv("LOG_DIR", ""),
		// Debug defaults to true outside production
		Debug:    getEnv("DEBUG", getDefaultDebug(env)) == "true",
		Tunables: DefaultTunables(),
	}

	if path := os.Getenv("KEYHAVEN_CONFIG"); path != "" {
		if err := cfg.Tunables.loadFile(path); err != nil {
			return nil, err
		}
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse WORKER_CONCURRENCY: %w", err)
		}
		cfg.Tunables.WorkerConcurrency = n
	}

	if err := cfg.Tunables.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tunables: %w", err)
	}
	return cfg, nil
}

// loadFile overlays the YAML file at path onto t. Keys absent from the file
// keep their current value.
func (t *Tunables) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true"
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix, ok := os.LookupEnv("TABLE_PREFIX"); ok {
		return prefix
	}

	switch env {
	case "prod":
		return ""
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
