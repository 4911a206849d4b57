package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// AdminTokenHeader is an alternative to "Authorization: Bearer <token>".
const AdminTokenHeader = "X-Admin-Token"

// adminToken extracts the presented admin token from a request.
func adminToken(r *http.Request) string {
	if t := r.Header.Get(AdminTokenHeader); t != "" {
		return t
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// AdminAuthMiddleware guards world-editing routes (grid costs, buildings,
// field cache). An empty token disables the check.
func AdminAuthMiddleware(token string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(adminToken(r))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				logger.Warn("admin request rejected",
					zap.String("ip", GetClientIP(r)),
					zap.String("path", r.URL.Path))
				RecordConnectionRejected("auth")
				writeError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
