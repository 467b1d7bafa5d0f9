package handler

import "net/http"

// Handlers groups the API handlers mounted by RegisterRoutes
type Handlers struct {
	Health  *HealthHandler
	Folders *FolderHandler
	Secrets *SecretHandler
}

// RegisterRoutes mounts the API on mux using Go 1.22 method patterns
func RegisterRoutes(mux *http.ServeMux, h Handlers) {
	mux.HandleFunc("GET /health", h.Health.HealthCheck)

	mux.HandleFunc("GET /api/v1/folders/resolve", h.Folders.ResolveFolder)

	mux.HandleFunc("GET /api/v1/secrets/effective", h.Secrets.GetEffectiveSecrets)
	mux.HandleFunc("POST /api/v1/secrets/sync", h.Secrets.SyncSecrets)
}
