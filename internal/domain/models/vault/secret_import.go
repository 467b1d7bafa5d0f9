package vault

import "time"

// SecretImport makes the secrets of another (environment, path) visible in
// FolderID. Replication imports copy the secrets physically instead.
type SecretImport struct {
	ID                   string     `json:"id"`
	FolderID             string     `json:"folder_id"`
	ImportEnvID          string     `json:"import_env_id"`
	ImportEnvSlug        string     `json:"import_env_slug"`
	ImportPath           string     `json:"import_path"`
	Position             int        `json:"position"`
	IsReplication        bool       `json:"is_replication"`
	LastReplicated       *time.Time `json:"last_replicated,omitempty"`
	ReplicationStatus    *string    `json:"replication_status,omitempty"`
	IsReplicationSuccess *bool      `json:"is_replication_success,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// ImportedSecrets is the resolved content of one import. ImporterFolderID is
// the folder that declared the import.
type ImportedSecrets struct {
	ImportID         string   `json:"import_id"`
	ImporterFolderID string   `json:"importer_folder_id"`
	FolderID         string   `json:"folder_id"`
	EnvironmentID    string   `json:"environment_id"`
	Environment      string   `json:"environment"`
	SecretPath       string   `json:"secret_path"`
	Secrets          []Secret `json:"secrets"`
}

// ReplicationStatusUpdate records the outcome of replicating one import.
type ReplicationStatusUpdate struct {
	LastReplicated time.Time
	Status         *string
	Success        bool
}
