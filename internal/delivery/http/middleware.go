package http

import (
	"context"
	"net/http"

	"taskportal/internal/entity"
	"taskportal/pkg/jwt"

	"github.com/sirupsen/logrus"
)

type contextKey string

const UserContextKey contextKey = "user"

type TokenValidator interface {
	ValidateAccessToken(token string) (entity.Identity, error)
}

type AuthMiddleware struct {
	tokens TokenValidator
	log    *logrus.Logger
}

func NewAuthMiddleware(tokens TokenValidator, log *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		log:    log,
	}
}

// Authenticate requires "Authorization: Bearer <token>". A missing token is
// 401, an invalid or expired one 403.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := jwt.BearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "access token required")
			return
		}

		identity, err := m.tokens.ValidateAccessToken(token)
		if err != nil {
			m.log.WithError(err).WithField("path", r.URL.Path).Debug("Rejected credential")
			writeError(w, http.StatusForbidden, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func IdentityFromContext(ctx context.Context) (entity.Identity, bool) {
	identity, ok := ctx.Value(UserContextKey).(entity.Identity)
	return identity, ok
}

// CORS allows the portal frontend origin to call the API with credentials.
func CORS(allowedOrigin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
