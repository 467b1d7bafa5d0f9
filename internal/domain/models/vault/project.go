package vault

import "time"

// Project groups environments and holds the wrapped key material used for
// its secrets.
type Project struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ProjectKeys is the project's data key and blind index salt, both wrapped
// with the root key.
type ProjectKeys struct {
	ProjectID      string
	KeyCiphertext  string
	KeyIV          string
	KeyTag         string
	SaltCiphertext string
	SaltIV         string
	SaltTag        string
}

// MemberRole is a project membership role.
type MemberRole string

const (
	MemberRoleAdmin  MemberRole = "admin"
	MemberRoleMember MemberRole = "member"
	MemberRoleViewer MemberRole = "viewer"
)

// FolderSnapshot pins the latest version of every secret in a folder.
type FolderSnapshot struct {
	ID               string    `json:"id"`
	FolderID         string    `json:"folder_id"`
	EnvID            string    `json:"env_id"`
	SecretVersionIDs []string  `json:"secret_version_ids"`
	CreatedAt        time.Time `json:"created_at"`
}
