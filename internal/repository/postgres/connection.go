package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"keyhaven/internal/domain/repositories"
)

// RepositoryConfig holds configuration for repository implementations
type RepositoryConfig struct {
	Pool   *pgxpool.Pool
	Tables *TableNames
	Logger *slog.Logger
}

// TableNames holds dynamically prefixed table names
type TableNames struct {
	Projects              string
	Memberships           string
	Environments          string
	Folders               string
	Secrets               string
	SecretVersions        string
	SecretTags            string
	SecretTagLinks        string
	SecretVersionTagLinks string
	SecretReferences      string
	SecretImports         string
	ApprovalPolicies      string
	ApprovalRequests      string
	ApprovalCommits       string
	Snapshots             string
}

// NewTableNames creates table names with the given prefix. The prefix must
// match the TABLE_PREFIX the migrations ran with.
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		Projects:              fmt.Sprintf("%sprojects", prefix),
		Memberships:           fmt.Sprintf("%sproject_memberships", prefix),
		Environments:          fmt.Sprintf("%senvironments", prefix),
		Folders:               fmt.Sprintf("%ssecret_folders", prefix),
		Secrets:               fmt.Sprintf("%ssecrets", prefix),
		SecretVersions:        fmt.Sprintf("%ssecret_versions", prefix),
		SecretTags:            fmt.Sprintf("%ssecret_tags", prefix),
		SecretTagLinks:        fmt.Sprintf("%ssecret_tag_links", prefix),
		SecretVersionTagLinks: fmt.Sprintf("%ssecret_version_tag_links", prefix),
		SecretReferences:      fmt.Sprintf("%ssecret_references", prefix),
		SecretImports:         fmt.Sprintf("%ssecret_imports", prefix),
		ApprovalPolicies:      fmt.Sprintf("%ssecret_approval_policies", prefix),
		ApprovalRequests:      fmt.Sprintf("%ssecret_approval_requests", prefix),
		ApprovalCommits:       fmt.Sprintf("%ssecret_approval_request_secrets", prefix),
		Snapshots:             fmt.Sprintf("%ssecret_snapshots", prefix),
	}
}

// CreateConnectionPool creates a new pgx connection pool.
//
// Transaction poolers such as PgBouncer (conventionally on port 6543) reject
// prepared statements, so on that port the pool falls back to
// QueryExecModeCacheDescribe unless the connection string already chose a mode
// via default_query_exec_mode.
func CreateConnectionPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5

	if config.ConnConfig.Port == 6543 && config.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
		slog.Debug("auto-configured cache_describe mode for pooler compatibility", "port", 6543)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// GetExecutor returns the transaction carried by ctx, or pool when there is
// none, so repositories join an enclosing transaction automatically.
func GetExecutor(ctx context.Context, pool *pgxpool.Pool) repositories.DBTX {
	if tx := repositories.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}
