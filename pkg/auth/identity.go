// Package auth implements the bridge's inbound authentication: fixed
// single-user credentials, per-request Basic credentials, and OAuth
// resource-server bearer validation.
package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated caller attached to the request context by
// one of the mode middlewares.
type Identity struct {
	// Subject is the stable user identifier (sub claim, or the Basic
	// username).
	Subject string
	Name    string
	Email   string

	// Scopes granted to the caller. Nil in Basic modes, where scope
	// enforcement is disabled.
	Scopes []string

	// Claims holds the full validated claim set in OAuth mode.
	Claims jwt.MapClaims

	// Upstream credential. Exactly one of Token or Username/Password is
	// populated, matching the operating mode.
	Token    string
	Username string
	Password string

	// AuthMethod is "basic" or "bearer", recorded in the audit log.
	AuthMethod string
}

// HasScope reports whether the identity carries the given scope. Identities
// without a scope set (Basic modes) implicitly hold every scope.
func (id *Identity) HasScope(scope string) bool {
	if id.Scopes == nil {
		return true
	}
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// IdentityContextKey keys the Identity in a request context.
type IdentityContextKey struct{}

// WithIdentity stores an Identity in the context. A nil identity returns the
// context unchanged.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, IdentityContextKey{}, identity)
}

// IdentityFromContext retrieves the Identity from the context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey{}).(*Identity)
	return identity, ok
}

// claimsToIdentity converts validated claims into an Identity. The sub claim
// is required; scope is the space-separated OAuth form.
func claimsToIdentity(claims jwt.MapClaims, token string) (*Identity, error) {
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, errors.New("missing or invalid 'sub' claim")
	}

	identity := &Identity{
		Subject:    sub,
		Claims:     claims,
		Token:      token,
		AuthMethod: "bearer",
		Scopes:     []string{},
	}
	if name, ok := claims["name"].(string); ok {
		identity.Name = name
	}
	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}
	if scope, ok := claims["scope"].(string); ok {
		identity.Scopes = strings.Fields(scope)
	}
	return identity, nil
}
