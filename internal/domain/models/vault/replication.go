package vault

// ActorType identifies who triggered a change.
type ActorType string

const (
	ActorTypeUser     ActorType = "user"
	ActorTypeService  ActorType = "service"
	ActorTypeIdentity ActorType = "identity"
)

// Actor is the authenticated caller.
type Actor struct {
	Type  ActorType `json:"type"`
	ID    string    `json:"id"`
	OrgID string    `json:"org_id,omitempty"`
}

// SecretOperation is the kind of change a secret went through.
type SecretOperation string

const (
	SecretOperationCreate SecretOperation = "create"
	SecretOperationUpdate SecretOperation = "update"
	SecretOperationDelete SecretOperation = "delete"
)

// ChangedSecret references the version of a secret produced by a write.
type ChangedSecret struct {
	ID        string          `json:"id"`
	Version   int             `json:"version"`
	Operation SecretOperation `json:"operation"`
}

// ReplicationJob asks the replication pipeline to copy the changed secrets of
// a source folder into every folder that replicates it.
type ReplicationJob struct {
	FolderID          string          `json:"folder_id"`
	SecretPath        string          `json:"secret_path"`
	EnvironmentID     string          `json:"environment_id"`
	EnvironmentSlug   string          `json:"environment_slug"`
	ProjectID         string          `json:"project_id"`
	OrgID             string          `json:"org_id"`
	Secrets           []ChangedSecret `json:"secrets"`
	ActorID           string          `json:"actor_id"`
	Actor             ActorType       `json:"actor"`
	PickOnlyImportIDs []string        `json:"pick_only_import_ids,omitempty"`
	Depth             int             `json:"depth"`
}

// SyncJob propagates a folder change to the folders importing it.
type SyncJob struct {
	ProjectID          string          `json:"project_id"`
	OrgID              string          `json:"org_id"`
	EnvironmentSlug    string          `json:"environment_slug"`
	SecretPath         string          `json:"secret_path"`
	ActorID            string          `json:"actor_id"`
	Actor              ActorType       `json:"actor"`
	Secrets            []ChangedSecret `json:"secrets,omitempty"`
	ExcludeReplication bool            `json:"exclude_replication"`
	Depth              int             `json:"depth"`
	// Visited holds the env:path keys already synced in this fan-out.
	Visited []string `json:"visited,omitempty"`
}

// FolderChange describes a committed write to a folder.
type FolderChange struct {
	ProjectID       string          `json:"project_id"`
	EnvironmentSlug string          `json:"environment"`
	SecretPath      string          `json:"secret_path"`
	Secrets         []ChangedSecret `json:"secrets"`
	Actor           Actor           `json:"-"`
}

// ReminderJob fires when a secret's rotation reminder is due.
type ReminderJob struct {
	SecretID   string `json:"secret_id"`
	FolderID   string `json:"folder_id"`
	RepeatDays int    `json:"repeat_days"`
	Note       string `json:"note,omitempty"`
}
