// Package middleware holds HTTP middleware shared by the swarm API.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/scry-swarm/internal/api/shared"
	"github.com/phrazzld/scry-swarm/internal/platform/logger"
)

// NewTraceMiddleware returns middleware that assigns each request a trace
// ID, echoes it in the X-Trace-ID response header and stores a request
// logger carrying it in the context. Apply it before any handler that logs.
func NewTraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := shared.TraceIDFromRequest(r)
			log := base.With(slog.String("trace_id", traceID))

			ctx := shared.WithTraceID(r.Context(), traceID)
			ctx = logger.WithLogger(ctx, log)
			w.Header().Set(shared.TraceIDHeader, traceID)

			log.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
