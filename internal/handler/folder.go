package handler

import (
	"log/slog"
	"net/http"

	"keyhaven/internal/domain"
	models "keyhaven/internal/domain/models/vault"
	vaultSvc "keyhaven/internal/domain/services/vault"
	"keyhaven/internal/httputil"
	"keyhaven/internal/service/vault"
)

// FolderHandler handles folder lookups
type FolderHandler struct {
	folders     vaultSvc.FolderStore
	permissions vaultSvc.PermissionService
	logger      *slog.Logger
}

// NewFolderHandler creates a new folder handler
func NewFolderHandler(folders vaultSvc.FolderStore, permissions vaultSvc.PermissionService, logger *slog.Logger) *FolderHandler {
	return &FolderHandler{
		folders:     folders,
		permissions: permissions,
		logger:      logger,
	}
}

// ResolveFolder returns the folder at a path with its canonical path
// GET /api/v1/folders/resolve?projectId=&environment=&path=
func (h *FolderHandler) ResolveFolder(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	projectID := q.Get("projectId")
	environment := q.Get("environment")
	if projectID == "" || environment == "" {
		httputil.RespondError(w, http.StatusBadRequest, "projectId and environment are required")
		return
	}
	secretPath, err := vault.NormalizeSecretPath(q.Get("path"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	permission, err := h.permissions.GetProjectPermission(r.Context(), actor, projectID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if !permission.Can(vaultSvc.ActionRead, vaultSvc.SecretScope{Environment: environment, SecretPath: secretPath}) {
		handleError(w, h.logger, &domain.ForbiddenError{Message: "not allowed to read this folder"})
		return
	}

	folder, err := h.folders.ResolveFolder(r.Context(), projectID, environment, secretPath)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, models.FolderPath{
		Folder:          *folder,
		Path:            secretPath,
		ProjectID:       projectID,
		EnvironmentSlug: environment,
	})
}
