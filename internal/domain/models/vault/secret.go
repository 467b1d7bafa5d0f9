package vault

import "time"

// SecretType distinguishes project-wide secrets from per-user overrides.
type SecretType string

const (
	SecretTypeShared   SecretType = "shared"
	SecretTypePersonal SecretType = "personal"
)

// EncryptedFields holds the AES-GCM ciphertext, IV and tag triples of a
// secret's key, value and comment. All parts are base64.
type EncryptedFields struct {
	KeyCiphertext     string `json:"key_ciphertext"`
	KeyIV             string `json:"key_iv"`
	KeyTag            string `json:"key_tag"`
	ValueCiphertext   string `json:"value_ciphertext"`
	ValueIV           string `json:"value_iv"`
	ValueTag          string `json:"value_tag"`
	CommentCiphertext string `json:"comment_ciphertext,omitempty"`
	CommentIV         string `json:"comment_iv,omitempty"`
	CommentTag        string `json:"comment_tag,omitempty"`
}

// Secret is the current state of one secret in a folder.
type Secret struct {
	ID         string     `json:"id"`
	FolderID   string     `json:"folder_id"`
	BlindIndex *string    `json:"blind_index"`
	Type       SecretType `json:"type"`
	UserID     *string    `json:"user_id,omitempty"`
	Version    int        `json:"version"`
	EncryptedFields
	SkipMultilineEncoding bool      `json:"skip_multiline_encoding"`
	ReminderRepeatDays    *int      `json:"reminder_repeat_days,omitempty"`
	ReminderNote          *string   `json:"reminder_note,omitempty"`
	TagIDs                []string  `json:"tag_ids,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Identity is the key under which two secrets are considered the same
// logical secret. Secrets without a blind index only match themselves.
func (s *Secret) Identity() string {
	if s.BlindIndex == nil {
		return "id:" + s.ID
	}
	return *s.BlindIndex
}

// SecretVersion is an immutable snapshot of a secret written on every
// insert and update.
type SecretVersion struct {
	ID         string     `json:"id"`
	SecretID   string     `json:"secret_id"`
	FolderID   string     `json:"folder_id"`
	Version    int        `json:"version"`
	BlindIndex *string    `json:"blind_index"`
	Type       SecretType `json:"type"`
	UserID     *string    `json:"user_id,omitempty"`
	EncryptedFields
	SkipMultilineEncoding bool      `json:"skip_multiline_encoding"`
	IsReplicated          bool      `json:"is_replicated"`
	TagIDs                []string  `json:"tag_ids,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// SecretVersionKey addresses one version of one secret.
type SecretVersionKey struct {
	SecretID string
	Version  int
}

// SecretReference is a `${env.path.KEY}` style dependency recorded for a secret.
type SecretReference struct {
	Environment string `json:"environment"`
	SecretPath  string `json:"secret_path"`
	SecretKey   string `json:"secret_key"`
}

// SecretSpec describes a secret to insert.
type SecretSpec struct {
	BlindIndex string
	Type       SecretType
	UserID     *string
	EncryptedFields
	SkipMultilineEncoding bool
	ReminderRepeatDays    *int
	ReminderNote          *string
	TagIDs                []string
	References            []SecretReference
}

// SecretFilter selects the single secret an update applies to: by ID, or by
// blind index and type (and owner for personal secrets).
type SecretFilter struct {
	ID         string
	BlindIndex string
	Type       SecretType
	UserID     *string
}

// SecretUpdateData is the new state written by an update. A nil TagIDs
// leaves tags untouched; a non-nil empty slice clears them.
type SecretUpdateData struct {
	BlindIndex *string
	EncryptedFields
	SkipMultilineEncoding bool
	ReminderRepeatDays    *int
	ReminderNote          *string
	TagIDs                []string
	References            []SecretReference
}

// SecretUpdate pairs a filter with the data to write.
type SecretUpdate struct {
	Filter SecretFilter
	Data   SecretUpdateData
}

// SecretDeleteSpec names a secret to delete by blind index and type.
type SecretDeleteSpec struct {
	BlindIndex string
	Type       SecretType
}

// MatchesDelete reports whether s is removed by a delete batch issued by
// actorID. Deleting a shared secret also removes every personal override
// with the same blind index; a personal delete only touches the actor's own.
func MatchesDelete(s Secret, specs []SecretDeleteSpec, actorID string) bool {
	if s.BlindIndex == nil {
		return false
	}
	for _, spec := range specs {
		if spec.BlindIndex != *s.BlindIndex {
			continue
		}
		switch spec.Type {
		case SecretTypeShared:
			return true
		case SecretTypePersonal:
			if s.Type == SecretTypePersonal && s.UserID != nil && *s.UserID == actorID {
				return true
			}
		}
	}
	return false
}

// SecretTag is a project scoped label attached to secrets.
type SecretTag struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
}

// TagLink attaches a tag to a secret or a secret version.
type TagLink struct {
	OwnerID string
	TagID   string
}

// DecryptedSecret is the plaintext view returned to callers.
type DecryptedSecret struct {
	ID                    string     `json:"id"`
	Key                   string     `json:"key"`
	Value                 string     `json:"value"`
	Comment               string     `json:"comment,omitempty"`
	Type                  SecretType `json:"type"`
	Version               int        `json:"version"`
	FolderID              string     `json:"folder_id"`
	SkipMultilineEncoding bool       `json:"skip_multiline_encoding"`
}
