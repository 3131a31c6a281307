// Package discovery fetches and interprets the IdP's OIDC discovery
// document, and decides whether the IdP is integrated with the upstream
// Nextcloud or external to it.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
)

// Document is the subset of the OIDC discovery document the bridge uses.
type Document struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	UserinfoEndpoint              string   `json:"userinfo_endpoint"`
	JWKSURI                       string   `json:"jwks_uri"`
	IntrospectionEndpoint         string   `json:"introspection_endpoint"`
	RegistrationEndpoint          string   `json:"registration_endpoint"`
	EndSessionEndpoint            string   `json:"end_session_endpoint"`
	ScopesSupported               []string `json:"scopes_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
}

// Fetch retrieves and validates the discovery document at discoveryURL.
func Fetch(ctx context.Context, client *http.Client, discoveryURL string) (*Document, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch OIDC configuration: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OIDC discovery endpoint returned status %d", resp.StatusCode)
	}
	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode OIDC configuration: %w", err)
	}
	if doc.Issuer == "" || doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return nil, fmt.Errorf("OIDC configuration missing required endpoints")
	}
	if doc.JWKSURI == "" {
		return nil, fmt.Errorf("OIDC configuration missing jwks_uri")
	}

	doc.warnOnMissingPKCE()
	return &doc, nil
}

// SupportsPKCES256 reports whether the IdP advertises the S256 challenge
// method.
func (d *Document) SupportsPKCES256() bool {
	for _, m := range d.CodeChallengeMethodsSupported {
		if m == "S256" {
			return true
		}
	}
	return false
}

// warnOnMissingPKCE logs a prominent, non-fatal warning when S256 is not
// advertised. Some IdPs support PKCE without advertising it, so the bridge
// proceeds and lets the authorization request fail if it truly is absent.
func (d *Document) warnOnMissingPKCE() {
	if d.SupportsPKCES256() {
		return
	}
	logger.Warnf("OIDC provider %s does not advertise PKCE S256 support.", d.Issuer)
	logger.Warnf("MCP clients require S256; authorization may fail against this provider.")
	logger.Warnf("If the provider supports PKCE without advertising it, this warning is harmless.")
}

// IsExternalIdP reports whether the issuer lives on a different host than
// the upstream Nextcloud. Hosts are compared with default ports normalized
// so "https://cloud.example.com:443" and "https://cloud.example.com" match.
func (d *Document) IsExternalIdP(nextcloudHost string) bool {
	issuerHost := normalizedAuthority(d.Issuer)
	upstreamHost := normalizedAuthority(nextcloudHost)
	if issuerHost == "" || upstreamHost == "" {
		return true
	}
	return issuerHost != upstreamHost
}

// normalizedAuthority returns scheme://host:port with the scheme's default
// port made explicit.
func normalizedAuthority(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host += ":443"
		case "http":
			host += ":80"
		}
	}
	return strings.ToLower(u.Scheme + "://" + host)
}

// Rewritten returns a copy of the document with browser-facing URLs
// replaced. publicIssuer rewrites every endpoint sharing the issuer's
// prefix; jwksOverride replaces the JWKS URI outright. Empty arguments
// leave the corresponding URLs untouched.
func (d *Document) Rewritten(publicIssuer, jwksOverride string) *Document {
	out := *d
	if publicIssuer != "" {
		from := strings.TrimSuffix(d.Issuer, "/")
		to := strings.TrimSuffix(publicIssuer, "/")
		rewrite := func(u string) string {
			if strings.HasPrefix(u, from) {
				return to + strings.TrimPrefix(u, from)
			}
			return u
		}
		out.Issuer = to
		out.AuthorizationEndpoint = rewrite(d.AuthorizationEndpoint)
		out.TokenEndpoint = rewrite(d.TokenEndpoint)
		out.UserinfoEndpoint = rewrite(d.UserinfoEndpoint)
		out.JWKSURI = rewrite(d.JWKSURI)
		out.IntrospectionEndpoint = rewrite(d.IntrospectionEndpoint)
		out.RegistrationEndpoint = rewrite(d.RegistrationEndpoint)
		out.EndSessionEndpoint = rewrite(d.EndSessionEndpoint)
	}
	if jwksOverride != "" {
		out.JWKSURI = jwksOverride
	}
	return &out
}

// Detect fetches the discovery document and logs the deployment shape.
func Detect(ctx context.Context, client *http.Client, discoveryURL, nextcloudHost string) (*Document, error) {
	doc, err := Fetch(ctx, client, discoveryURL)
	if err != nil {
		return nil, err
	}
	if doc.IsExternalIdP(nextcloudHost) {
		logger.Infow("Detected external IdP mode", "issuer", doc.Issuer, "upstream", nextcloudHost)
	} else {
		logger.Infow("Detected integrated IdP mode", "issuer", doc.Issuer)
	}
	return doc, nil
}
