// Package tokenexchange implements OAuth 2.0 Token Exchange (RFC 8693) for
// turning an inbound MCP-audience token into an upstream Nextcloud-audience
// token, with a short-lived per-subject cache.
package tokenexchange

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
)

const (
	//nolint:gosec // OAuth2 URN identifiers, not credentials
	grantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	//nolint:gosec // OAuth2 URN identifiers, not credentials
	tokenTypeAccessToken = "urn:ietf:params:oauth:token-type:access_token"

	defaultHTTPTimeout  = 30 * time.Second
	maxResponseBodySize = 1 << 20
)

var defaultHTTPClient = &http.Client{Timeout: defaultHTTPTimeout}

// oauthError is an RFC 6749 §5.2 error response.
type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
	StatusCode       int    `json:"-"`
}

func (e *oauthError) String() string {
	if e.ErrorURI != "" {
		return fmt.Sprintf("OAuth error %q (status %d): see %s", e.Error, e.StatusCode, e.ErrorURI)
	}
	return fmt.Sprintf("OAuth error %q (status %d)", e.Error, e.StatusCode)
}

func parseOAuthError(statusCode int, body []byte) *oauthError {
	var oe oauthError
	if err := json.Unmarshal(body, &oe); err != nil || oe.Error == "" {
		return nil
	}
	oe.StatusCode = statusCode
	return &oe
}

// response decodes the token endpoint's RFC 8693 response.
type response struct {
	AccessToken     string `json:"access_token"`
	IssuedTokenType string `json:"issued_token_type"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int    `json:"expires_in"`
	Scope           string `json:"scope"`
	RefreshToken    string `json:"refresh_token"`
}

// Config holds the static inputs for token exchange.
type Config struct {
	// TokenURL is the IdP's token endpoint.
	TokenURL string

	// ClientID and ClientSecret authenticate the bridge at the endpoint.
	ClientID     string
	ClientSecret string

	// Audience and Resource name the upstream Nextcloud deployment.
	Audience string
	Resource string

	// Scopes requested for the exchanged token.
	Scopes []string

	// MaxTTL caps how long an exchanged token is cached regardless of its
	// expires_in.
	MaxTTL time.Duration

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Validate checks the required fields.
func (c *Config) Validate() error {
	if c.TokenURL == "" {
		return fmt.Errorf("TokenURL is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("ClientID is required")
	}
	if _, err := url.Parse(c.TokenURL); err != nil {
		return fmt.Errorf("TokenURL is not a valid URL: %w", err)
	}
	return nil
}

// Exchanger exchanges subject tokens and caches the results keyed by the
// subject token digest, so repeated tool calls within one session hit the
// IdP once.
type Exchanger struct {
	cfg Config

	mu    sync.Mutex
	cache map[[sha256.Size]byte]cachedToken
}

type cachedToken struct {
	token   *oauth2.Token
	expires time.Time
}

// New creates an Exchanger. MaxTTL defaults to 5 minutes.
func New(cfg Config) (*Exchanger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid token exchange config: %w", err)
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = 5 * time.Minute
	}
	return &Exchanger{
		cfg:   cfg,
		cache: make(map[[sha256.Size]byte]cachedToken),
	}, nil
}

// Exchange returns an upstream-audience token for the given subject token,
// from cache when possible.
func (e *Exchanger) Exchange(ctx context.Context, subjectToken string) (*oauth2.Token, error) {
	if subjectToken == "" {
		return nil, fmt.Errorf("subject_token is required")
	}
	digest := sha256.Sum256([]byte(subjectToken))

	e.mu.Lock()
	if entry, ok := e.cache[digest]; ok && time.Now().Before(entry.expires) {
		e.mu.Unlock()
		return entry.token, nil
	}
	delete(e.cache, digest)
	e.mu.Unlock()

	token, err := e.exchange(ctx, subjectToken)
	if err != nil {
		return nil, err
	}

	// Cache for min(token lifetime, MaxTTL).
	expires := time.Now().Add(e.cfg.MaxTTL)
	if !token.Expiry.IsZero() && token.Expiry.Before(expires) {
		expires = token.Expiry
	}
	e.mu.Lock()
	e.cache[digest] = cachedToken{token: token, expires: expires}
	e.mu.Unlock()
	return token, nil
}

// TokenSource returns an oauth2.TokenSource bound to one subject token.
func (e *Exchanger) TokenSource(ctx context.Context, subjectToken string) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, exchanger: e, subjectToken: subjectToken}
}

type tokenSource struct {
	ctx          context.Context
	exchanger    *Exchanger
	subjectToken string
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	return ts.exchanger.Exchange(ts.ctx, ts.subjectToken)
}

func (e *Exchanger) exchange(ctx context.Context, subjectToken string) (*oauth2.Token, error) {
	data := url.Values{}
	data.Set("grant_type", grantTypeTokenExchange)
	data.Set("subject_token", subjectToken)
	data.Set("subject_token_type", tokenTypeAccessToken)
	data.Set("requested_token_type", tokenTypeAccessToken)
	if e.cfg.Audience != "" {
		data.Set("audience", e.cfg.Audience)
	}
	if e.cfg.Resource != "" {
		data.Set("resource", e.cfg.Resource)
	}
	if len(e.cfg.Scopes) > 0 {
		data.Set("scope", strings.Join(e.cfg.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// Credentials go via Basic auth per RFC 6749 §2.3.1, URL-encoded first.
	if e.cfg.ClientID != "" && e.cfg.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(e.cfg.ClientID), url.QueryEscape(e.cfg.ClientSecret))
	}

	client := e.cfg.HTTPClient
	if client == nil {
		client = defaultHTTPClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read token exchange response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if oe := parseOAuthError(resp.StatusCode, body); oe != nil {
			logger.Debugw("token exchange rejected",
				"error", oe.Error, "description", oe.ErrorDescription)
			return nil, errors.New(oe.String())
		}
		logger.Debugf("Token exchange failed with status %d: %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("token exchange failed with status %d", resp.StatusCode)
	}

	var tokenResp response
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, errors.New("failed to parse token exchange response")
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("token exchange: server returned empty access_token")
	}
	if tokenResp.TokenType == "" {
		return nil, fmt.Errorf("token exchange: server returned empty token_type")
	}
	if tokenResp.IssuedTokenType == "" {
		return nil, fmt.Errorf("token exchange: server returned empty issued_token_type (required by RFC 8693)")
	}

	token := &oauth2.Token{
		AccessToken:  tokenResp.AccessToken,
		TokenType:    tokenResp.TokenType,
		RefreshToken: tokenResp.RefreshToken,
	}
	if tokenResp.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}
	return token, nil
}
