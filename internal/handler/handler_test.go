package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyhaven/internal/domain"
	models "keyhaven/internal/domain/models/vault"
	vaultSvc "keyhaven/internal/domain/services/vault"
	"keyhaven/internal/httputil"
)

type allowAll struct{ readOnly bool }

func (a allowAll) Can(action vaultSvc.Action, scope vaultSvc.SecretScope) bool {
	return !a.readOnly || action == vaultSvc.ActionRead
}

type stubPermissions struct {
	perm vaultSvc.ProjectPermission
	err  error
}

func (s *stubPermissions) GetProjectPermission(ctx context.Context, actor models.Actor, projectID string) (vaultSvc.ProjectPermission, error) {
	return s.perm, s.err
}

type stubFolders struct {
	vaultSvc.FolderStore
	folder *models.Folder
}

func (s *stubFolders) ResolveFolder(ctx context.Context, projectID, envSlug, secretPath string) (*models.Folder, error) {
	if s.folder == nil {
		return nil, &domain.NotFoundError{Message: "folder not found"}
	}
	return s.folder, nil
}

type stubSecrets struct {
	got *vaultSvc.EffectiveSecretsRequest
	out []models.DecryptedSecret
	err error
}

func (s *stubSecrets) GetEffectiveSecrets(ctx context.Context, req *vaultSvc.EffectiveSecretsRequest) ([]models.DecryptedSecret, error) {
	s.got = req
	return s.out, s.err
}

type stubSync struct {
	vaultSvc.SyncService
	change *models.FolderChange
}

func (s *stubSync) EnqueueFolderChange(ctx context.Context, change *models.FolderChange) error {
	s.change = change
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func withUser(r *http.Request) *http.Request {
	return httputil.WithActor(r, models.Actor{Type: models.ActorTypeUser, ID: "user-1"})
}

func TestGetEffectiveSecrets(t *testing.T) {
	secrets := &stubSecrets{out: []models.DecryptedSecret{{Key: "A", Value: "1"}}}
	h := NewSecretHandler(secrets, &stubSync{}, &stubPermissions{perm: allowAll{}}, testLogger())

	req := withUser(httptest.NewRequest(http.MethodGet,
		"/api/v1/secrets/effective?projectId=p1&environment=dev&path=/app&include_imports=true&expand=1", nil))
	rec := httptest.NewRecorder()
	h.GetEffectiveSecrets(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Secrets []models.DecryptedSecret `json:"secrets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "A", body.Secrets[0].Key)

	require.NotNil(t, secrets.got)
	assert.Equal(t, "p1", secrets.got.ProjectID)
	assert.Equal(t, "/app", secrets.got.SecretPath)
	assert.True(t, secrets.got.IncludeImports)
	assert.True(t, secrets.got.Expand)
	assert.Equal(t, "user-1", secrets.got.Actor.ID)
}

func TestGetEffectiveSecretsErrors(t *testing.T) {
	tests := []struct {
		name string
		url  string
		err  error
		want int
	}{
		{name: "bad boolean", url: "/x?projectId=p1&environment=dev&expand=maybe", want: http.StatusBadRequest},
		{name: "forbidden", url: "/x?projectId=p1&environment=dev", err: &domain.ForbiddenError{Message: "no"}, want: http.StatusForbidden},
		{name: "missing folder", url: "/x?projectId=p1&environment=dev", err: &domain.NotFoundError{Message: "missing"}, want: http.StatusNotFound},
		{name: "lock timeout", url: "/x?projectId=p1&environment=dev", err: &domain.LockTimeoutError{}, want: http.StatusServiceUnavailable},
		{name: "unexpected", url: "/x?projectId=p1&environment=dev", err: errors.New("db down"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSecretHandler(&stubSecrets{err: tt.err}, &stubSync{}, &stubPermissions{perm: allowAll{}}, testLogger())
			rec := httptest.NewRecorder()
			h.GetEffectiveSecrets(rec, withUser(httptest.NewRequest(http.MethodGet, tt.url, nil)))
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestGetEffectiveSecretsRequiresActor(t *testing.T) {
	h := NewSecretHandler(&stubSecrets{}, &stubSync{}, &stubPermissions{perm: allowAll{}}, testLogger())
	rec := httptest.NewRecorder()
	h.GetEffectiveSecrets(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSyncSecrets(t *testing.T) {
	sync := &stubSync{}
	h := NewSecretHandler(&stubSecrets{}, sync, &stubPermissions{perm: allowAll{}}, testLogger())

	body := `{"projectId":"p1","environment":"dev","secretPath":"/app","secrets":[{"id":"s1","version":2,"operation":"update"}]}`
	rec := httptest.NewRecorder()
	h.SyncSecrets(rec, withUser(httptest.NewRequest(http.MethodPost, "/api/v1/secrets/sync", strings.NewReader(body))))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, sync.change)
	assert.Equal(t, "/app", sync.change.SecretPath)
	assert.Equal(t, "user-1", sync.change.Actor.ID)
	assert.Equal(t, []models.ChangedSecret{{ID: "s1", Version: 2, Operation: models.SecretOperationUpdate}}, sync.change.Secrets)
}

func TestSyncSecretsViewerForbidden(t *testing.T) {
	sync := &stubSync{}
	h := NewSecretHandler(&stubSecrets{}, sync, &stubPermissions{perm: allowAll{readOnly: true}}, testLogger())

	body := `{"projectId":"p1","environment":"dev","secretPath":"/app"}`
	rec := httptest.NewRecorder()
	h.SyncSecrets(rec, withUser(httptest.NewRequest(http.MethodPost, "/api/v1/secrets/sync", strings.NewReader(body))))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, sync.change)
}

func TestSyncSecretsRejectsUnknownFields(t *testing.T) {
	h := NewSecretHandler(&stubSecrets{}, &stubSync{}, &stubPermissions{perm: allowAll{}}, testLogger())
	rec := httptest.NewRecorder()
	h.SyncSecrets(rec, withUser(httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"bogus":true}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveFolder(t *testing.T) {
	folder := &models.Folder{ID: "f1", EnvID: "env-dev", Name: "app"}
	h := NewFolderHandler(&stubFolders{folder: folder}, &stubPermissions{perm: allowAll{}}, testLogger())

	rec := httptest.NewRecorder()
	h.ResolveFolder(rec, withUser(httptest.NewRequest(http.MethodGet, "/x?projectId=p1&environment=dev&path=app/", nil)))
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.FolderPath
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "f1", got.ID)
	assert.Equal(t, "/app", got.Path)
	assert.Equal(t, "dev", got.EnvironmentSlug)
}

func TestResolveFolderErrors(t *testing.T) {
	h := NewFolderHandler(&stubFolders{}, &stubPermissions{perm: allowAll{}}, testLogger())

	rec := httptest.NewRecorder()
	h.ResolveFolder(rec, withUser(httptest.NewRequest(http.MethodGet, "/x?projectId=p1&environment=dev&path=/missing", nil)))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ResolveFolder(rec, withUser(httptest.NewRequest(http.MethodGet, "/x?projectId=p1&environment=dev&path=/a%20b", nil)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ResolveFolder(rec, withUser(httptest.NewRequest(http.MethodGet, "/x?environment=dev", nil)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	denied := NewFolderHandler(&stubFolders{}, &stubPermissions{err: &domain.ForbiddenError{Message: "not a member"}}, testLogger())
	rec = httptest.NewRecorder()
	denied.ResolveFolder(rec, withUser(httptest.NewRequest(http.MethodGet, "/x?projectId=p1&environment=dev", nil)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(ctx context.Context) error { return s.err }

func TestHealthCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"db": stubPinger{}}, testLogger()).
		HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"redis": stubPinger{err: errors.New("refused")}}, testLogger()).
		HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "refused")
}

func TestRegisterRoutes(t *testing.T) {
	mux := http.NewServeMux()
	RegisterRoutes(mux, Handlers{
		Health:  NewHealthHandler(nil, testLogger()),
		Folders: NewFolderHandler(&stubFolders{}, &stubPermissions{perm: allowAll{}}, testLogger()),
		Secrets: NewSecretHandler(&stubSecrets{}, &stubSync{}, &stubPermissions{perm: allowAll{}}, testLogger()),
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/secrets/sync", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
