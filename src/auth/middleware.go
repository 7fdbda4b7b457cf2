package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	logger "github.com/sirupsen/logrus"
)

// RequireToken guards the ops API with a static bearer token. An empty
// token disables the check, which is how local development runs. The
// X-Operator header, when present, names the acting operator for audit
// trails on state-changing endpoints.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				supplied := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
				if subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) != 1 {
					logger.WithField("path", r.URL.Path).Warn("Rejected request with bad API token")
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
			}

			if operator := strings.TrimSpace(r.Header.Get("X-Operator")); operator != "" {
				r = r.WithContext(WithOperator(r.Context(), operator))
			}

			next.ServeHTTP(w, r)
		})
	}
}
