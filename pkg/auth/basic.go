package auth

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

// ErrNoBasicCredentials is returned when the Authorization header is absent
// or not Basic.
var ErrNoBasicCredentials = errors.New("no Basic credentials provided")

// ParseBasicAuth decodes a Basic Authorization header value. The decoded
// pair is split at the first colon only: Nextcloud usernames cannot contain
// a colon, but app passwords can.
func ParseBasicAuth(header string) (username, password string, err error) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", ErrNoBasicCredentials
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return "", "", errors.New("malformed Basic credentials")
	}
	username, password, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", "", errors.New("malformed Basic credentials")
	}
	return username, password, nil
}

// SingleUserMiddleware serves every request as the configured user,
// ignoring inbound credentials entirely.
func SingleUserMiddleware(username, password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := &Identity{
				Subject:    username,
				Username:   username,
				Password:   password,
				AuthMethod: "basic",
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// MultiUserBasicMiddleware extracts Basic credentials from each inbound
// request and forwards them upstream verbatim. Requests without credentials
// get a Basic challenge.
func MultiUserBasicMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, err := ParseBasicAuth(r.Header.Get("Authorization"))
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="nextcloud-mcp"`)
				http.Error(w, "Basic authentication required", http.StatusUnauthorized)
				return
			}
			identity := &Identity{
				Subject:    username,
				Username:   username,
				Password:   password,
				AuthMethod: "basic",
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}
