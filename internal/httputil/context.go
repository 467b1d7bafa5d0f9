package httputil

import (
	"context"
	"net/http"

	"keyhaven/internal/domain/models/vault"
)

// Context key type to avoid collisions
type contextKey string

const (
	actorKey contextKey = "actor"
)

// WithActor adds the authenticated caller to the request context
func WithActor(r *http.Request, actor vault.Actor) *http.Request {
	ctx := context.WithValue(r.Context(), actorKey, actor)
	return r.WithContext(ctx)
}

// GetActor retrieves the caller from context; ok is false when the request
// is unauthenticated
func GetActor(r *http.Request) (vault.Actor, bool) {
	actor, ok := r.Context().Value(actorKey).(vault.Actor)
	return actor, ok
}
