package upstream

import (
	"context"

	"github.com/nextbridge/nextcloud-mcp/pkg/auth"
	"github.com/nextbridge/nextcloud-mcp/pkg/auth/tokenexchange"
	"github.com/nextbridge/nextcloud-mcp/pkg/errors"
)

// Factory builds a per-request Client from the caller's resolved identity.
type Factory struct {
	baseURL string
	// exchanger swaps MCP-audience tokens for upstream-audience tokens.
	// Nil when token exchange is disabled; the inbound token then goes
	// upstream as-is.
	exchanger *tokenexchange.Exchanger
	observe   CallObserver
}

// NewFactory creates a Factory for one deployment. exchanger may be nil.
func NewFactory(baseURL string, exchanger *tokenexchange.Exchanger, observe CallObserver) *Factory {
	return &Factory{baseURL: baseURL, exchanger: exchanger, observe: observe}
}

// ForIdentity builds the upstream client for one authenticated caller.
// Basic identities forward their credential pair; bearer identities forward
// the inbound token, exchanged first when exchange is enabled.
func (f *Factory) ForIdentity(ctx context.Context, identity *auth.Identity) (*Client, error) {
	if identity == nil {
		return nil, errors.NewAuthFailureError("no authenticated identity on request", nil)
	}

	if identity.Username != "" {
		return New(f.baseURL,
			BasicAuth{Username: identity.Username, Password: identity.Password},
			WithObserver(f.observe),
			WithDAVUser(identity.Username),
		), nil
	}

	if identity.Token == "" {
		return nil, errors.NewAuthFailureError("identity carries no upstream credential", nil)
	}

	token := identity.Token
	if f.exchanger != nil {
		exchanged, err := f.exchanger.Exchange(ctx, identity.Token)
		if err != nil {
			return nil, errors.NewAuthFailureError("token exchange failed", err)
		}
		token = exchanged.AccessToken
	}
	return New(f.baseURL,
		Bearer{Token: token},
		WithObserver(f.observe),
		WithDAVUser(identity.Subject),
	), nil
}

// ForCredential builds a client from an explicit credential, used by the
// indexing pipeline and readiness probes which run outside a request.
func (f *Factory) ForCredential(cred Credential, davUser string) *Client {
	return New(f.baseURL, cred, WithObserver(f.observe), WithDAVUser(davUser))
}
