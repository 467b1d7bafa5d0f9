package vault

import "time"

const (
	// RootFolderName is the name of the single parentless folder of every environment.
	RootFolderName = "root"

	// ReservedReplicationPrefix prefixes the hidden folders that receive
	// replicated secrets.
	ReservedReplicationPrefix = "__reserve_replication_"
)

// Environment is a named stage (dev, staging, prod) of a project. Each
// environment owns exactly one folder tree.
type Environment struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// Folder is a node in an environment's folder tree.
type Folder struct {
	ID         string    `json:"id"`
	EnvID      string    `json:"env_id"`
	ParentID   *string   `json:"parent_id"`
	Name       string    `json:"name"`
	Version    int       `json:"version"`
	IsReserved bool      `json:"is_reserved"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsRoot reports whether f is the root of its environment tree.
func (f *Folder) IsRoot() bool {
	return f.ParentID == nil
}

// FolderPath is a folder annotated with its absolute path and environment.
type FolderPath struct {
	Folder
	Path            string `json:"path"`
	ProjectID       string `json:"project_id"`
	EnvironmentSlug string `json:"environment_slug"`
}

// EnvPath addresses a folder by environment ID and secret path.
type EnvPath struct {
	EnvID string
	Path  string
}

// ReplicationFolderName returns the reserved folder name that receives the
// secrets replicated by the given import.
func ReplicationFolderName(importID string) string {
	return ReservedReplicationPrefix + importID
}
