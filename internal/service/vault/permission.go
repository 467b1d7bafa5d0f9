package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"keyhaven/internal/domain"
	models "keyhaven/internal/domain/models/vault"
	vaultRepo "keyhaven/internal/domain/repositories/vault"
	vaultSvc "keyhaven/internal/domain/services/vault"
)

// rolePermission grants actions by membership role. Viewers only read.
type rolePermission struct {
	role models.MemberRole
}

func (p rolePermission) Can(action vaultSvc.Action, scope vaultSvc.SecretScope) bool {
	switch p.role {
	case models.MemberRoleAdmin, models.MemberRoleMember:
		return true
	case models.MemberRoleViewer:
		return action == vaultSvc.ActionRead
	default:
		return false
	}
}

type permissionService struct {
	memberships vaultRepo.MembershipRepository
	logger      *slog.Logger
}

// NewPermissionService creates a permission service backed by project memberships
func NewPermissionService(memberships vaultRepo.MembershipRepository, logger *slog.Logger) vaultSvc.PermissionService {
	return &permissionService{
		memberships: memberships,
		logger:      logger,
	}
}

func (s *permissionService) GetProjectPermission(ctx context.Context, actor models.Actor, projectID string) (vaultSvc.ProjectPermission, error) {
	if actor.ID == "" {
		return nil, &domain.UnauthorizedError{Message: "missing actor"}
	}

	role, err := s.memberships.GetRole(ctx, projectID, actor.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Debug("actor is not a project member",
				"project_id", projectID,
				"actor_id", actor.ID,
				"actor_type", actor.Type,
			)
			return nil, &domain.ForbiddenError{Message: "not a member of this project"}
		}
		return nil, fmt.Errorf("get project role: %w", err)
	}
	return rolePermission{role: role}, nil
}
