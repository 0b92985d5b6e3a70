package middleware

import (
	"context"
	"net/http"

	"github.com/agora-net/agora/pkg/contextkeys"
	"github.com/agora-net/agora/pkg/observability"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// RequestID assigns each request an id, honoring one supplied by the
// client, and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), contextkeys.RequestIDKey, id)
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFrom returns the request id bound to ctx, empty if none.
func RequestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(contextkeys.RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// Logging logs each request after it completes with method, path and the
// request id.
func Logging(log *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			if log != nil {
				log.WithFields(map[string]interface{}{
					"method":     r.Method,
					"path":       r.URL.Path,
					"request_id": RequestIDFrom(r.Context()),
				}).Debug("request handled")
			}
		})
	}
}
