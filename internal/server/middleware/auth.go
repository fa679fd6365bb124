package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/identity"
)

// NewAuthMiddleware verifies the connection credential before the
// WebSocket upgrade. A bad credential is fatal: the request is
// rejected and no connection is ever established.
func NewAuthMiddleware(logger *slog.Logger, verifier identity.Verifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString := extractToken(r)
			if tokenString == "" {
				logger.Warn("No credential attached to request", slog.String("ip", reqMeta.IP))
				http.Error(w, "Missing token", http.StatusUnauthorized)
				return
			}

			ident, err := verifier.Verify(tokenString)
			if err != nil {
				logger.Warn("Invalid credential presented", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.Identity = ident
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken reads the credential from the Authorization header,
// falling back to the token query parameter (browser WebSocket clients
// cannot set headers).
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
