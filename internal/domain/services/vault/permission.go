package vault

import (
	"context"

	models "keyhaven/internal/domain/models/vault"
)

// Action is an operation on secrets.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// SecretScope is the (environment, path) an action targets.
type SecretScope struct {
	Environment string
	SecretPath  string
}

// ProjectPermission answers access questions for one actor in one project.
type ProjectPermission interface {
	Can(action Action, scope SecretScope) bool
}

// PermissionService loads an actor's project permission.
type PermissionService interface {
	GetProjectPermission(ctx context.Context, actor models.Actor, projectID string) (ProjectPermission, error)
}
