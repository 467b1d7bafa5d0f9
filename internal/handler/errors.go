package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"keyhaven/internal/domain"
	"keyhaven/internal/domain/models/vault"
	"keyhaven/internal/httputil"
)

// handleError converts domain errors to RFC 7807 responses. Errors without
// a status are logged and hidden behind a generic 500.
func handleError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var httpErr domain.HTTPError
	if errors.As(err, &httpErr) {
		status := httpErr.StatusCode()
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", "error", err)
		}
		httputil.RespondError(w, status, httpErr.Error())
		return
	}

	logger.Error("unexpected error", "error", err)
	httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
}

// requireActor returns the authenticated caller, writing a 401 when absent
func requireActor(w http.ResponseWriter, r *http.Request) (vault.Actor, bool) {
	actor, ok := httputil.GetActor(r)
	if !ok || actor.ID == "" {
		httputil.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return vault.Actor{}, false
	}
	return actor, true
}
