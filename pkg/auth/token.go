package auth

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

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
)

// Common validation errors.
var (
	ErrNoToken         = errors.New("no token provided")
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrInvalidIssuer   = errors.New("invalid issuer")
	ErrInvalidAudience = errors.New("token audience does not include this server")
)

// verifiedCacheTTL caps how long a successfully validated token is trusted
// without re-verification. The token's own exp always wins when sooner.
const verifiedCacheTTL = time.Hour

// TokenValidatorConfig configures a TokenValidator.
type TokenValidatorConfig struct {
	// Issuer is the IdP issuer URL; tokens must carry it verbatim.
	Issuer string

	// ClientID and ClientSecret identify the bridge at the IdP. The secret
	// is only used for introspection.
	ClientID     string
	ClientSecret string

	// JWKSURL is the IdP's key endpoint.
	JWKSURL string

	// IntrospectionURL validates opaque tokens (RFC 7662). Optional.
	IntrospectionURL string

	// ServerURL is the bridge's public URL; the token audience must name
	// the client id, this URL, or this URL with /mcp appended.
	ServerURL string

	// ResourceMetadataURL is advertised in WWW-Authenticate challenges
	// (RFC 9728). Optional.
	ResourceMetadataURL string

	// HTTPClient overrides the client used for JWKS and introspection.
	HTTPClient *http.Client
}

// TokenValidator validates inbound bearer tokens: JWTs against the IdP's
// JWKS, opaque tokens against the introspection endpoint. Verified tokens
// are cached by digest so the hot path skips signature checks.
type TokenValidator struct {
	issuer        string
	clientID      string
	clientSecret  string
	jwksURL       string
	introspectURL string
	serverURL     string
	metadataURL   string
	jwksClient    *jwk.Cache
	client        *http.Client

	// Lazy JWKS registration so startup never blocks on the IdP.
	jwksRegistered      bool
	jwksRegistrationMu  sync.Mutex
	jwksRegistrationErr error

	cacheMu  sync.Mutex
	verified map[[sha256.Size]byte]cachedIdentity
}

type cachedIdentity struct {
	identity *Identity
	expires  time.Time
}

// NewTokenValidator creates a token validator. The JWKS URL is registered
// lazily on first use.
func NewTokenValidator(ctx context.Context, cfg TokenValidatorConfig) (*TokenValidator, error) {
	if cfg.JWKSURL == "" {
		return nil, errors.New("JWKS URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	cache, err := jwk.NewCache(ctx, httprc.NewClient(httprc.WithHTTPClient(httpClient)))
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}
	return &TokenValidator{
		issuer:        cfg.Issuer,
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		jwksURL:       cfg.JWKSURL,
		introspectURL: cfg.IntrospectionURL,
		serverURL:     strings.TrimSuffix(cfg.ServerURL, "/"),
		metadataURL:   cfg.ResourceMetadataURL,
		jwksClient:    cache,
		client:        httpClient,
		verified:      make(map[[sha256.Size]byte]cachedIdentity),
	}, nil
}

// ensureJWKSRegistered registers the JWKS URL with the cache on first use.
func (v *TokenValidator) ensureJWKSRegistered(ctx context.Context) error {
	v.jwksRegistrationMu.Lock()
	defer v.jwksRegistrationMu.Unlock()

	if v.jwksRegistered {
		return v.jwksRegistrationErr
	}

	registrationCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := v.jwksClient.Register(registrationCtx, v.jwksURL); err != nil {
		v.jwksRegistrationErr = fmt.Errorf("failed to register JWKS URL: %w", err)
	} else {
		v.jwksRegistrationErr = nil
	}
	v.jwksRegistered = true
	return v.jwksRegistrationErr
}

// getKeyFromJWKS resolves the token's kid against the cached key set.
func (v *TokenValidator) getKeyFromJWKS(ctx context.Context, token *jwt.Token) (any, error) {
	if err := v.ensureJWKSRegistered(ctx); err != nil {
		return nil, fmt.Errorf("JWKS registration failed: %w", err)
	}

	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("token header missing kid")
	}

	keySet, err := v.jwksClient.Lookup(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup JWKS: %w", err)
	}
	key, found := keySet.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("key ID %s not found in JWKS", kid)
	}
	var rawKey any
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}
	return rawKey, nil
}

// validateClaims checks issuer, audience and expiry. The audience must name
// the bridge by client id, public URL, or MCP resource URL.
func (v *TokenValidator) validateClaims(claims jwt.MapClaims) error {
	if v.issuer != "" {
		issuerClaim, err := claims.GetIssuer()
		if err != nil {
			return fmt.Errorf("failed to get issuer from claims: %w", err)
		}
		if strings.TrimSpace(issuerClaim) != strings.TrimSpace(v.issuer) {
			return ErrInvalidIssuer
		}
	}

	audiences, err := claims.GetAudience()
	if err != nil {
		return ErrInvalidAudience
	}
	if !v.audienceAccepted(audiences) {
		return ErrInvalidAudience
	}

	expirationTime, err := claims.GetExpirationTime()
	if err != nil || expirationTime == nil || expirationTime.Before(time.Now()) {
		return ErrTokenExpired
	}
	return nil
}

func (v *TokenValidator) audienceAccepted(audiences jwt.ClaimStrings) bool {
	accepted := []string{v.clientID, v.serverURL, v.serverURL + "/mcp"}
	for _, aud := range audiences {
		for _, want := range accepted {
			if want != "" && aud == want {
				return true
			}
		}
	}
	return false
}

// ValidateToken validates a bearer token and returns the caller identity.
// Any failure is terminal: the caller gets no identity and the request is
// rejected.
func (v *TokenValidator) ValidateToken(ctx context.Context, tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}

	digest := sha256.Sum256([]byte(tokenString))
	if identity, ok := v.lookupVerified(digest); ok {
		return identity, nil
	}

	claims, err := v.verify(ctx, tokenString)
	if err != nil {
		logger.Debugw("token validation failed",
			"token", logger.TruncateToken(tokenString), "error", err)
		return nil, err
	}
	identity, err := claimsToIdentity(claims, tokenString)
	if err != nil {
		return nil, err
	}

	v.storeVerified(digest, identity, claims)
	return identity, nil
}

func (v *TokenValidator) verify(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return v.getKeyFromJWKS(ctx, token)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			// Not a JWT; try the introspection endpoint.
			claims, err := v.introspectOpaqueToken(ctx, tokenString)
			if err != nil {
				return nil, fmt.Errorf("failed to introspect opaque token: %w", err)
			}
			return claims, nil
		}
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("failed to get claims from token")
	}
	if err := v.validateClaims(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (v *TokenValidator) lookupVerified(digest [sha256.Size]byte) (*Identity, bool) {
	v.cacheMu.Lock()
	defer v.cacheMu.Unlock()
	entry, ok := v.verified[digest]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(v.verified, digest)
		return nil, false
	}
	return entry.identity, true
}

func (v *TokenValidator) storeVerified(digest [sha256.Size]byte, identity *Identity, claims jwt.MapClaims) {
	expires := time.Now().Add(verifiedCacheTTL)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(expires) {
		expires = exp.Time
	}
	v.cacheMu.Lock()
	defer v.cacheMu.Unlock()
	v.verified[digest] = cachedIdentity{identity: identity, expires: expires}
}

func (v *TokenValidator) introspectOpaqueToken(ctx context.Context, tokenStr string) (jwt.MapClaims, error) {
	if v.introspectURL == "" {
		return nil, fmt.Errorf("no introspection endpoint available")
	}
	form := url.Values{"token": {tokenStr}}
	form.Set("token_type_hint", "access_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.introspectURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if v.clientID != "" && v.clientSecret != "" {
		req.SetBasicAuth(v.clientID, v.clientSecret)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspection call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("introspection unauthorized: %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("introspection failed, status %d", resp.StatusCode)
	}

	claims, err := parseIntrospectionClaims(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := v.validateClaims(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func parseIntrospectionClaims(r io.Reader) (jwt.MapClaims, error) {
	var j struct {
		Active bool     `json:"active"`
		Exp    *float64 `json:"exp,omitempty"`
		Sub    string   `json:"sub,omitempty"`
		Aud    any      `json:"aud,omitempty"`
		Scope  string   `json:"scope,omitempty"`
		Iss    string   `json:"iss,omitempty"`
		Name   string   `json:"name,omitempty"`
		Email  string   `json:"email,omitempty"`
	}
	if err := json.NewDecoder(r).Decode(&j); err != nil {
		return nil, fmt.Errorf("failed to decode introspection JSON: %w", err)
	}
	if !j.Active {
		return nil, ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	if j.Exp != nil {
		claims["exp"] = *j.Exp
	}
	if j.Sub != "" {
		claims["sub"] = strings.TrimSpace(j.Sub)
	}
	if j.Aud != nil {
		claims["aud"] = j.Aud
	}
	if j.Scope != "" {
		claims["scope"] = strings.TrimSpace(j.Scope)
	}
	if j.Iss != "" {
		claims["iss"] = strings.TrimSpace(j.Iss)
	}
	if j.Name != "" {
		claims["name"] = j.Name
	}
	if j.Email != "" {
		claims["email"] = j.Email
	}
	return claims, nil
}
