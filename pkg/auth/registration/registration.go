// Package registration resolves the bridge's own OAuth client credentials:
// statically configured, previously persisted, or freshly obtained through
// dynamic client registration (RFC 7591/7592).
package registration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nextbridge/nextcloud-mcp/pkg/auth/discovery"
	"github.com/nextbridge/nextcloud-mcp/pkg/errors"
	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
	"github.com/nextbridge/nextcloud-mcp/pkg/storage"
)

// ClientName identifies the bridge in registration requests.
const ClientName = "Nextcloud MCP Bridge"

// Request is an RFC 7591 dynamic client registration request.
type Request struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	Resource                string   `json:"resource,omitempty"`
	// AccessTokenType asks the IdP for opaque ("Bearer") or self-encoded
	// ("jwt") access tokens. Providers without the knob ignore it.
	AccessTokenType string `json:"access_token_type,omitempty"`
}

// Response is an RFC 7591 registration response.
type Response struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at,omitempty"`
	RegistrationAccessToken string   `json:"registration_access_token,omitempty"`
	RegistrationClientURI   string   `json:"registration_client_uri,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
}

// Credentials is the resolved client identity used against the IdP.
type Credentials struct {
	ClientID     string
	ClientSecret string
	// Dynamic reports whether the credentials came from DCR rather than
	// static configuration.
	Dynamic bool
}

// Config carries the inputs for credential resolution.
type Config struct {
	// Static credentials; when both set, no registration happens.
	ClientID     string
	ClientSecret string

	// EnableDCR allows falling back to dynamic registration.
	EnableDCR bool

	// ServerURL is the bridge's public URL; the registered redirect URI is
	// its /oauth/callback endpoint and the resource is its /mcp endpoint.
	ServerURL string

	// Scopes requested at registration.
	Scopes []string

	// TokenType is the requested access-token format, "Bearer" or "jwt".
	TokenType string

	HTTPClient *http.Client
}

// Resolve returns usable client credentials: static configuration first,
// then a persisted unexpired registration, then dynamic registration. When
// all three fail the returned error spells out the operator's options.
func Resolve(
	ctx context.Context,
	cfg Config,
	doc *discovery.Document,
	store storage.Store,
) (*Credentials, error) {
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		logger.Infow("using statically configured OAuth client", "client_id", cfg.ClientID)
		return &Credentials{ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret}, nil
	}

	if rec, err := store.GetOAuthClient(ctx); err != nil {
		return nil, fmt.Errorf("loading persisted OAuth client: %w", err)
	} else if rec != nil {
		logger.Infow("using persisted OAuth client registration", "client_id", rec.ClientID)
		return &Credentials{ClientID: rec.ClientID, ClientSecret: rec.ClientSecret, Dynamic: true}, nil
	}

	if cfg.EnableDCR && doc.RegistrationEndpoint != "" {
		creds, err := registerAndPersist(ctx, cfg, doc, store)
		if err != nil {
			return nil, err
		}
		return creds, nil
	}

	msg := "no OAuth client credentials available.\n" +
		"The bridge needs a client registered at " + doc.Issuer + ". Either:\n" +
		"  - set oidc_client_id and oidc_client_secret to a pre-registered client, or\n" +
		"  - set enable_dcr=true to register one dynamically"
	if doc.RegistrationEndpoint == "" {
		msg += " (note: this provider does not advertise a registration_endpoint)"
	}
	return nil, errors.NewConfigError(msg, nil)
}

func registerAndPersist(
	ctx context.Context,
	cfg Config,
	doc *discovery.Document,
	store storage.Store,
) (*Credentials, error) {
	serverURL := strings.TrimSuffix(cfg.ServerURL, "/")
	req := &Request{
		ClientName:              ClientName,
		RedirectURIs:            []string{serverURL + "/oauth/callback"},
		TokenEndpointAuthMethod: "client_secret_post",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		Scope:                   strings.Join(cfg.Scopes, " "),
		Resource:                serverURL + "/mcp",
		AccessTokenType:         cfg.TokenType,
	}

	resp, err := Register(ctx, cfg.HTTPClient, doc.RegistrationEndpoint, req)
	if err != nil {
		return nil, fmt.Errorf("dynamic client registration failed: %w", err)
	}
	logger.Infow("registered OAuth client dynamically", "client_id", resp.ClientID)

	rec := storage.OAuthClientRecord{
		ClientID:        resp.ClientID,
		ClientSecret:    resp.ClientSecret,
		IssuedAt:        time.Unix(resp.ClientIDIssuedAt, 0),
		RedirectURIs:    resp.RedirectURIs,
		ManagementToken: resp.RegistrationAccessToken,
		ManagementURI:   resp.RegistrationClientURI,
	}
	if resp.ClientIDIssuedAt == 0 {
		rec.IssuedAt = time.Now()
	}
	if resp.ClientSecretExpiresAt != 0 {
		exp := time.Unix(resp.ClientSecretExpiresAt, 0)
		rec.ExpiresAt = &exp
	}
	if err := store.PutOAuthClient(ctx, rec); err != nil {
		return nil, fmt.Errorf("persisting registered client: %w", err)
	}
	return &Credentials{ClientID: resp.ClientID, ClientSecret: resp.ClientSecret, Dynamic: true}, nil
}

// Register performs one RFC 7591 registration call.
func Register(ctx context.Context, client *http.Client, endpoint string, request *Request) (*Response, error) {
	if len(request.RedirectURIs) == 0 {
		return nil, fmt.Errorf("at least one redirect URI is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registration request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("registration failed with status %d: %s", resp.StatusCode, string(errorBody))
	}

	var response Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode registration response: %w", err)
	}
	if response.ClientID == "" {
		return nil, fmt.Errorf("registration response missing client_id")
	}
	return &response, nil
}

// Deregister deletes a dynamically registered client via its RFC 7592
// management endpoint. Failures are logged, never fatal: the row is removed
// locally regardless, and a provider without management support simply
// keeps a stale registration.
func Deregister(ctx context.Context, client *http.Client, store storage.Store) error {
	rec, err := store.GetOAuthClient(ctx)
	if err != nil {
		return fmt.Errorf("loading persisted OAuth client: %w", err)
	}
	if rec == nil {
		return nil
	}

	if rec.ManagementURI != "" && rec.ManagementToken != "" {
		if client == nil {
			client = &http.Client{Timeout: 30 * time.Second}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, rec.ManagementURI, nil)
		if err != nil {
			return fmt.Errorf("failed to create deregistration request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+rec.ManagementToken)

		resp, err := client.Do(req)
		if err != nil {
			logger.Warnw("client deregistration call failed", "error", err)
		} else {
			resp.Body.Close()
			if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
				logger.Warnw("provider refused client deregistration", "status", resp.StatusCode)
			}
		}
	}

	if _, err := store.DeleteOAuthClient(ctx); err != nil {
		return fmt.Errorf("deleting persisted OAuth client: %w", err)
	}
	return nil
}
