package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"keyhaven/internal/domain"
	models "keyhaven/internal/domain/models/vault"
	vaultSvc "keyhaven/internal/domain/services/vault"
	"keyhaven/internal/httputil"
)

// SecretHandler handles effective secret reads and change notifications
type SecretHandler struct {
	secrets     vaultSvc.SecretService
	sync        vaultSvc.SyncService
	permissions vaultSvc.PermissionService
	logger      *slog.Logger
}

// NewSecretHandler creates a new secret handler
func NewSecretHandler(
	secrets vaultSvc.SecretService,
	sync vaultSvc.SyncService,
	permissions vaultSvc.PermissionService,
	logger *slog.Logger,
) *SecretHandler {
	return &SecretHandler{
		secrets:     secrets,
		sync:        sync,
		permissions: permissions,
		logger:      logger,
	}
}

func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &domain.ValidationError{Message: name + " must be a boolean"}
	}
	return v, nil
}

// GetEffectiveSecrets returns the decrypted secrets visible in a folder
// GET /api/v1/secrets/effective?projectId=&environment=&path=&include_imports=&expand=
func (h *SecretHandler) GetEffectiveSecrets(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	includeImports, err := queryBool(r, "include_imports")
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	expand, err := queryBool(r, "expand")
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	q := r.URL.Query()
	secretPath := q.Get("path")
	if secretPath == "" {
		secretPath = "/"
	}

	secrets, err := h.secrets.GetEffectiveSecrets(r.Context(), &vaultSvc.EffectiveSecretsRequest{
		ProjectID:      q.Get("projectId"),
		Environment:    q.Get("environment"),
		SecretPath:     secretPath,
		IncludeImports: includeImports,
		Expand:         expand,
		Actor:          actor,
	})
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"secrets": secrets,
	})
}

// SyncRequest reports a committed change to a folder
type SyncRequest struct {
	ProjectID   string                 `json:"projectId"`
	Environment string                 `json:"environment"`
	SecretPath  string                 `json:"secretPath"`
	Secrets     []models.ChangedSecret `json:"secrets"`
}

// SyncSecrets queues propagation of a folder change to importers and replicas
// POST /api/v1/secrets/sync
func (h *SecretHandler) SyncSecrets(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req SyncRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	permission, err := h.permissions.GetProjectPermission(r.Context(), actor, req.ProjectID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if !permission.Can(vaultSvc.ActionEdit, vaultSvc.SecretScope{Environment: req.Environment, SecretPath: req.SecretPath}) {
		handleError(w, h.logger, &domain.ForbiddenError{Message: "not allowed to modify secrets at this path"})
		return
	}

	err = h.sync.EnqueueFolderChange(r.Context(), &models.FolderChange{
		ProjectID:       req.ProjectID,
		EnvironmentSlug: req.Environment,
		SecretPath:      req.SecretPath,
		Secrets:         req.Secrets,
		Actor:           actor,
	})
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	httputil.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
