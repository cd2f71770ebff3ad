package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/maxpert/viewsync/cfg"
)

// SecretHeader carries the cluster secret; "Authorization: Bearer" is accepted too
const SecretHeader = "X-Viewsync-Secret"

// AuthMiddleware validates PSK authentication for admin endpoints
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.IsClusterAuthEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		secret := cfg.GetClusterSecret()

		providedSecret := r.Header.Get(SecretHeader)
		if providedSecret == "" {
			// Check Authorization: Bearer header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeErrorResponse(w, http.StatusUnauthorized, "missing authentication header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeErrorResponse(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}
			providedSecret = parts[1]
		}

		if subtle.ConstantTimeCompare([]byte(providedSecret), []byte(secret)) != 1 {
			writeErrorResponse(w, http.StatusUnauthorized, "invalid secret")
			return
		}

		next.ServeHTTP(w, r)
	})
}
