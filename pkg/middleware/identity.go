// Package middleware provides HTTP middleware for caller resolution,
// request ids, and request logging.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/agora-net/agora/pkg/authz"
	"github.com/agora-net/agora/pkg/httputil"
	"github.com/agora-net/agora/pkg/identity"
	"github.com/agora-net/agora/pkg/observability"
	"github.com/agora-net/agora/pkg/storage"
)

// ResolveIdentity resolves the caller from the Authorization header and
// binds the resulting identity to the request context. Requests with no
// credentials proceed as anonymous; a malformed or unknown token is
// rejected with 401 so a client holding a revoked token learns about it
// instead of silently seeing the public slice of the graph.
func ResolveIdentity(store storage.Store, log *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				ctx := identity.WithIdentity(r.Context(), identity.Anonymous())
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				httputil.WriteErrorMessage(w, http.StatusUnauthorized, "malformed Authorization header")
				return
			}

			accountID, err := store.AccountByToken(r.Context(), token)
			if err != nil {
				if errors.Is(err, authz.ErrNotFound) {
					httputil.WriteErrorMessage(w, http.StatusUnauthorized, "unknown token")
					return
				}
				if log != nil {
					log.WithError(err).Error("token lookup failed")
				}
				httputil.WriteInternalError(w)
				return
			}

			ctx := identity.WithIdentity(r.Context(), identity.ForAccount(accountID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
