package jwt

import (
	"net/http"
	"strings"
)

// BearerToken extracts the token from "Authorization: Bearer <token>".
// It returns "" when the header is absent or has another scheme.
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// TokenFromRequest also accepts ?token=, which browsers need for
// websocket handshakes since they cannot set headers there.
func TokenFromRequest(r *http.Request) string {
	if token := BearerToken(r); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}
