package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"saltapi/internal/audit"
	"saltapi/internal/auth"
	"saltapi/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/info",
}

// Reads that need no token.
var publicReads = []string{
	"/status",
	"/status/events",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublic(r) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		user, err := a.auth.AuthenticateToken(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				handleError(w, r, err)
			}
			return
		}

		ctx := auth.ContextWithUser(r.Context(), user)
		ctx = auth.ContextWithToken(ctx, token)
		ctx = audit.WithActor(ctx, user.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// currentUser returns the user attached by withAuth.
func currentUser(r *http.Request) (identity.User, error) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return identity.User{}, auth.ErrUnauthenticated
	}
	return user, nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublic(r *http.Request) bool {
	for _, p := range publicPaths {
		if r.URL.Path == p {
			return true
		}
	}
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		for _, p := range publicReads {
			if r.URL.Path == p {
				return true
			}
		}
	}
	return false
}
