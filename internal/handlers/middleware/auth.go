package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/nkiryanov/credentialmanager/internal/handlers/render"
)

const bearerPrefix = "Bearer "

type adminTokenOptions struct {
	queryParam string
}

type AdminTokenOption func(*adminTokenOptions)

// WithQueryToken also accepts the token in the query parameter
// For browser facing routes which can't send Authorization header
func WithQueryToken(param string) AdminTokenOption {
	return func(o *adminTokenOptions) {
		o.queryParam = param
	}
}

// AdminTokenMiddleware lets through requests with "Authorization: Bearer <token>"
// Empty token disables the check
func AdminTokenMiddleware(token string, opts ...AdminTokenOption) func(http.Handler) http.Handler {
	o := adminTokenOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := requestToken(r, o.queryParam)
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func requestToken(r *http.Request, queryParam string) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		if !strings.HasPrefix(header, bearerPrefix) {
			return "", false
		}
		return strings.TrimPrefix(header, bearerPrefix), true
	}

	if queryParam != "" {
		if value := r.URL.Query().Get(queryParam); value != "" {
			return value, true
		}
	}
	return "", false
}
