package vault

import "time"

// ApprovalPolicy requires writes under a path glob of an environment to go
// through review.
type ApprovalPolicy struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	EnvID      string `json:"env_id"`
	SecretPath string `json:"secret_path"`
	Approvals  int    `json:"approvals"`
}

type ApprovalStatus string

const (
	ApprovalStatusOpen   ApprovalStatus = "open"
	ApprovalStatusClosed ApprovalStatus = "close"
)

// ApprovalRequest is a pending change set awaiting review.
type ApprovalRequest struct {
	ID              string           `json:"id"`
	FolderID        string           `json:"folder_id"`
	PolicyID        string           `json:"policy_id"`
	Slug            string           `json:"slug"`
	Status          ApprovalStatus   `json:"status"`
	HasMerged       bool             `json:"has_merged"`
	CommitterUserID string           `json:"committer_user_id"`
	IsReplicated    bool             `json:"is_replicated"`
	Commits         []ApprovalCommit `json:"commits"`
	CreatedAt       time.Time        `json:"created_at"`
}

// ApprovalCommit is one proposed secret change within a request. Updates and
// deletes carry the local secret and its latest version.
type ApprovalCommit struct {
	ID              string          `json:"id"`
	RequestID       string          `json:"request_id"`
	Operation       SecretOperation `json:"op"`
	SecretID        *string         `json:"secret_id,omitempty"`
	SecretVersionID *string         `json:"secret_version_id,omitempty"`
	BlindIndex      *string         `json:"blind_index,omitempty"`
	EncryptedFields
	SkipMultilineEncoding bool `json:"skip_multiline_encoding"`
}
