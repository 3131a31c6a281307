// Package authserver implements the bridge's OAuth endpoints: the direct
// client flow, server-mediated refresh-token provisioning, the browser
// session flow for the admin UI, and the app-password API for multi-user
// Basic deployments.
package authserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/nextbridge/nextcloud-mcp/pkg/auth/discovery"
	"github.com/nextbridge/nextcloud-mcp/pkg/auth/registration"
	"github.com/nextbridge/nextcloud-mcp/pkg/config"
	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
	"github.com/nextbridge/nextcloud-mcp/pkg/scopes"
	"github.com/nextbridge/nextcloud-mcp/pkg/storage"
	"github.com/nextbridge/nextcloud-mcp/pkg/upstream"
)

// SessionCookieName is the admin UI session cookie.
const SessionCookieName = "mcp_session"

// baseScopes are requested in every flow on top of the tool scopes.
var baseScopes = []string{oidc.ScopeOpenID, "profile", "email"}

// Server holds the shared state of the OAuth endpoints.
type Server struct {
	cfg      *config.Config
	doc      *discovery.Document
	creds    *registration.Credentials
	store    storage.Store
	registry *scopes.Registry
	factory  *upstream.Factory
	verifier *oidc.IDTokenVerifier
	client   *http.Client
	limiter  *rateLimiter
}

// New creates the OAuth endpoint server. The ID-token verifier is built
// from the already-fetched discovery document so startup makes no second
// round trip to the IdP. In Basic modes doc and creds are nil and only
// the app-password API is served.
func New(
	cfg *config.Config,
	doc *discovery.Document,
	creds *registration.Credentials,
	store storage.Store,
	registry *scopes.Registry,
	factory *upstream.Factory,
) *Server {
	var verifier *oidc.IDTokenVerifier
	if doc != nil && creds != nil {
		keySet := oidc.NewRemoteKeySet(context.Background(), doc.JWKSURI)
		verifier = oidc.NewVerifier(doc.Issuer, keySet, &oidc.Config{ClientID: creds.ClientID})
	}
	return &Server{
		cfg:      cfg,
		doc:      doc,
		creds:    creds,
		store:    store,
		registry: registry,
		factory:  factory,
		verifier: verifier,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  newRateLimiter(provisioningAttempts, provisioningWindow),
	}
}

// Routes registers the OAuth and provisioning endpoints. The OAuth flows
// need a discovery document; without one only the app-password API is
// mounted.
func (s *Server) Routes(r chi.Router) {
	r.Route("/api/v1/users/{userID}/app-password", func(r chi.Router) {
		r.Post("/", s.handleAppPasswordCreate)
		r.Get("/", s.handleAppPasswordGet)
		r.Delete("/", s.handleAppPasswordDelete)
	})
	if s.doc == nil {
		return
	}

	r.Get("/oauth/authorize", s.handleAuthorize)
	r.Get("/oauth/authorize-nextcloud", s.handleAuthorizeNextcloud)
	r.Get("/oauth/callback", s.handleCallback)
	r.Get("/oauth/callback-nextcloud", s.handleCallback) // legacy alias
	r.Get("/oauth/login", s.handleLogin)
	r.Get("/oauth/login-callback", s.handleLoginCallback)
	r.Get("/oauth/logout", s.handleLogout)
}

// oauthConfig builds the x/oauth2 config for one of the bridge's own flows.
func (s *Server) oauthConfig(callbackPath string, extraScopes ...string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.creds.ClientID,
		ClientSecret: s.creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  s.doc.AuthorizationEndpoint,
			TokenURL: s.doc.TokenEndpoint,
		},
		RedirectURL: strings.TrimSuffix(s.cfg.MCPServerURL, "/") + callbackPath,
		Scopes:      append(append([]string(nil), baseScopes...), extraScopes...),
	}
}

// newSessionID returns a random identifier for flow sessions and state
// values.
func newSessionID() string {
	return uuid.NewString()
}

// writeOAuthError emits an RFC 6749 §5.2 JSON error body.
func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// audit records an auth event, logging (not failing) on storage errors.
func (s *Server) audit(ctx context.Context, event, userID, authMethod string) {
	err := s.store.Audit(ctx, storage.AuditEvent{
		Event:      event,
		UserID:     userID,
		AuthMethod: authMethod,
	})
	if err != nil {
		logger.Warnw("failed to write audit event", "event", event, "error", err)
	}
}

// isLocalhostRedirect reports whether uri is a loopback redirect per
// RFC 8252 §7.3.
func isLocalhostRedirect(uri string) bool {
	return strings.HasPrefix(uri, "http://localhost:") ||
		strings.HasPrefix(uri, "http://127.0.0.1:")
}

// idTokenSubject verifies the ID token from a token response and returns
// its sub claim.
func (s *Server) idTokenSubject(ctx context.Context, tok *oauth2.Token) (string, error) {
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", fmt.Errorf("token response carries no id_token")
	}
	idToken, err := s.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", fmt.Errorf("verifying id_token: %w", err)
	}
	if idToken.Subject == "" {
		return "", fmt.Errorf("id_token carries no sub claim")
	}
	return idToken.Subject, nil
}
