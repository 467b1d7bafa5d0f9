package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"keyhaven/internal/httputil"
)

// headerGuard notes whether the handler already started its response
type headerGuard struct {
	http.ResponseWriter
	wroteHeader bool
}

func (g *headerGuard) WriteHeader(code int) {
	g.wroteHeader = true
	g.ResponseWriter.WriteHeader(code)
}

func (g *headerGuard) Write(b []byte) (int, error) {
	g.wroteHeader = true
	return g.ResponseWriter.Write(b)
}

// Recovery turns a handler panic into a 500 problem response. A response
// already under way is left alone; http.ErrAbortHandler is passed on so the
// server drops the connection.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			guard := &headerGuard{ResponseWriter: w}
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}

				logger.Error("handler panicked",
					"request_id", w.Header().Get("X-Request-ID"),
					"method", r.Method,
					"path", r.URL.Path,
					"panic", fmt.Sprint(v),
					"response_started", guard.wroteHeader,
					"stack", string(debug.Stack()),
				)
				if !guard.wroteHeader {
					httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
				}
			}()

			next.ServeHTTP(guard, r)
		})
	}
}
