package auth

import (
	"fmt"
	"net/http"
	"strings"
)

// escapeQuotes escapes double quotes for quoted-string header parameters.
func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// buildWWWAuthenticate builds an RFC 6750 / RFC 9728 Bearer challenge. It
// includes realm and, if configured, resource_metadata; error fields are
// appended when includeError is set.
func (v *TokenValidator) buildWWWAuthenticate(includeError bool, errDescription string) string {
	var parts []string
	if v.issuer != "" {
		parts = append(parts, fmt.Sprintf(`realm="%s"`, escapeQuotes(v.issuer)))
	}
	if v.metadataURL != "" {
		parts = append(parts, fmt.Sprintf(`resource_metadata="%s"`, escapeQuotes(v.metadataURL)))
	}
	if includeError {
		parts = append(parts, `error="invalid_token"`)
		if errDescription != "" {
			parts = append(parts, fmt.Sprintf(`error_description="%s"`, escapeQuotes(errDescription)))
		}
	}
	return "Bearer " + strings.Join(parts, ", ")
}

// InsufficientScopeChallenge builds the Bearer challenge for a request whose
// token lacks a required scope (RFC 6750 §3.1).
func (v *TokenValidator) InsufficientScopeChallenge(missing []string) string {
	parts := []string{`error="insufficient_scope"`}
	if len(missing) > 0 {
		parts = append(parts, fmt.Sprintf(`scope="%s"`, escapeQuotes(strings.Join(missing, " "))))
	}
	if v.metadataURL != "" {
		parts = append(parts, fmt.Sprintf(`resource_metadata="%s"`, escapeQuotes(v.metadataURL)))
	}
	return "Bearer " + strings.Join(parts, ", ")
}

// Middleware validates the bearer token on each request and attaches the
// resulting Identity to the context. All failures produce 401 with a Bearer
// challenge; no request proceeds unauthenticated.
func (v *TokenValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			w.Header().Set("WWW-Authenticate", v.buildWWWAuthenticate(false, ""))
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			w.Header().Set("WWW-Authenticate", v.buildWWWAuthenticate(false, ""))
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		identity, err := v.ValidateToken(r.Context(), tokenString)
		if err != nil {
			w.Header().Set("WWW-Authenticate", v.buildWWWAuthenticate(true, err.Error()))
			http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}
