package middleware

import (
	"log/slog"
	"net/http"
)

// NewRequestLogger logs every connection attempt that reaches the
// gateway, before authentication has run. The established session is
// logged separately by the gateway once the upgrade completes.
func NewRequestLogger(logger *slog.Logger) Middleware {
	log := logger.With(slog.String("component", "gateway_http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if reqMeta, ok := ReqMetadataFrom(r.Context()); ok {
				ip = reqMeta.IP
			}

			log.Info("Connection attempt",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("ip", ip),
			)
			next.ServeHTTP(w, r)
		})
	}
}
