package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"ediportal.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth resolves the bearer access token into a principal. When required
// is false a missing header is let through, but a malformed or expired token
// is still rejected.
func (a *API) withAuth(required bool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(authHeader)
			if strings.TrimSpace(header) == "" && !required {
				next.ServeHTTP(w, r)
				return
			}

			token, err := extractBearerToken(header)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, kindUnauthorized, err.Error())
				return
			}

			principal, err := a.auth.Authenticate(r.Context(), token)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
