package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://idp.example.com"
	testClientID = "bridge-client"
	testServer   = "https://bridge.example.com"
	testKid      = "test-key-1"
)

// testIdP serves a JWKS for the given key and an RFC 7662 introspection
// endpoint answering from the provided responses map.
func testIdP(t *testing.T, pub *rsa.PublicKey, introspection map[string]map[string]any) *httptest.Server {
	t.Helper()

	key, err := jwk.Import(pub)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, testKid))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(key))
	jwksJSON, err := json.Marshal(set)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwksJSON)
	})
	mux.HandleFunc("/introspect", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		resp, ok := introspection[r.PostForm.Get("token")]
		if !ok {
			resp = map[string]any{"active": false}
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestValidator(t *testing.T, srv *httptest.Server) *TokenValidator {
	t.Helper()
	v, err := NewTokenValidator(context.Background(), TokenValidatorConfig{
		Issuer:           testIssuer,
		ClientID:         testClientID,
		ClientSecret:     "secret",
		JWKSURL:          srv.URL + "/jwks",
		IntrospectionURL: srv.URL + "/introspect",
		ServerURL:        testServer,
	})
	require.NoError(t, err)
	return v
}

func signToken(t *testing.T, priv *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKid
	signed, err := tok.SignedString(priv)
	require.NoError(t, err)
	return signed
}

func baseClaims(aud any) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   testIssuer,
		"sub":   "user-1",
		"aud":   aud,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "notes:read files:read",
		"name":  "Alice",
		"email": "alice@example.com",
	}
}

func TestValidateToken_JWT(t *testing.T) {
	t.Parallel()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := testIdP(t, &priv.PublicKey, nil)
	v := newTestValidator(t, srv)

	identity, err := v.ValidateToken(context.Background(), signToken(t, priv, baseClaims(testClientID)))
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.Subject)
	assert.Equal(t, "Alice", identity.Name)
	assert.Equal(t, "alice@example.com", identity.Email)
	assert.Equal(t, []string{"notes:read", "files:read"}, identity.Scopes)
	assert.Equal(t, "bearer", identity.AuthMethod)
}

func TestValidateToken_AudienceInvariant(t *testing.T) {
	t.Parallel()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := testIdP(t, &priv.PublicKey, nil)
	v := newTestValidator(t, srv)

	accepted := []any{
		testClientID,
		testServer,
		testServer + "/mcp",
		[]string{"unrelated-aud", testServer + "/mcp"},
	}
	for _, aud := range accepted {
		_, err := v.ValidateToken(context.Background(), signToken(t, priv, baseClaims(aud)))
		assert.NoError(t, err, "audience %v must be accepted", aud)
	}

	rejected := []any{
		"some-other-client",
		[]string{"aud-a", "aud-b"},
		testServer + "/other",
	}
	for _, aud := range rejected {
		_, err := v.ValidateToken(context.Background(), signToken(t, priv, baseClaims(aud)))
		assert.ErrorIs(t, err, ErrInvalidAudience, "audience %v must be rejected", aud)
	}
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	t.Parallel()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := testIdP(t, &priv.PublicKey, nil)
	v := newTestValidator(t, srv)

	claims := baseClaims(testClientID)
	claims["iss"] = "https://evil.example.com"
	_, err = v.ValidateToken(context.Background(), signToken(t, priv, claims))
	assert.ErrorIs(t, err, ErrInvalidIssuer)
}

func TestValidateToken_Expired(t *testing.T) {
	t.Parallel()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := testIdP(t, &priv.PublicKey, nil)
	v := newTestValidator(t, srv)

	claims := baseClaims(testClientID)
	claims["exp"] = time.Now().Add(-time.Minute).Unix()
	_, err = v.ValidateToken(context.Background(), signToken(t, priv, claims))
	assert.Error(t, err)
}

func TestValidateToken_MissingScopeFailsClosed(t *testing.T) {
	t.Parallel()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := testIdP(t, &priv.PublicKey, nil)
	v := newTestValidator(t, srv)

	claims := baseClaims(testClientID)
	delete(claims, "scope")
	identity, err := v.ValidateToken(context.Background(), signToken(t, priv, claims))
	require.NoError(t, err)
	require.NotNil(t, identity.Scopes, "scope set must be non-nil so enforcement fails closed")
	assert.Empty(t, identity.Scopes)
}

func TestValidateToken_CacheSurvivesIdPOutage(t *testing.T) {
	t.Parallel()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := testIdP(t, &priv.PublicKey, nil)
	v := newTestValidator(t, srv)

	token := signToken(t, priv, baseClaims(testClientID))
	_, err = v.ValidateToken(context.Background(), token)
	require.NoError(t, err)

	srv.Close()

	identity, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err, "second validation must be served from the verified cache")
	assert.Equal(t, "user-1", identity.Subject)
}

func TestValidateToken_OpaqueIntrospection(t *testing.T) {
	t.Parallel()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := testIdP(t, &priv.PublicKey, map[string]map[string]any{
		"opaque-token-1": {
			"active": true,
			"sub":    "user-2",
			"aud":    testClientID,
			"iss":    testIssuer,
			"exp":    float64(time.Now().Add(time.Hour).Unix()),
			"scope":  "notes:read",
		},
		"revoked-token": {"active": false},
	})
	v := newTestValidator(t, srv)

	identity, err := v.ValidateToken(context.Background(), "opaque-token-1")
	require.NoError(t, err)
	assert.Equal(t, "user-2", identity.Subject)
	assert.Equal(t, []string{"notes:read"}, identity.Scopes)

	_, err = v.ValidateToken(context.Background(), "revoked-token")
	assert.Error(t, err)
}

func TestValidateToken_Empty(t *testing.T) {
	t.Parallel()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := testIdP(t, &priv.PublicKey, nil)
	v := newTestValidator(t, srv)

	_, err = v.ValidateToken(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestInsufficientScopeChallenge(t *testing.T) {
	t.Parallel()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := testIdP(t, &priv.PublicKey, nil)

	metadataURL := testServer + "/.well-known/oauth-protected-resource/mcp"
	v, err := NewTokenValidator(context.Background(), TokenValidatorConfig{
		Issuer:              testIssuer,
		ClientID:            testClientID,
		JWKSURL:             srv.URL + "/jwks",
		ServerURL:           testServer,
		ResourceMetadataURL: metadataURL,
	})
	require.NoError(t, err)

	assert.Equal(t,
		`Bearer error="insufficient_scope", scope="notes:write files:write", resource_metadata="`+metadataURL+`"`,
		v.InsufficientScopeChallenge([]string{"notes:write", "files:write"}))
	assert.Equal(t,
		`Bearer error="insufficient_scope", resource_metadata="`+metadataURL+`"`,
		v.InsufficientScopeChallenge(nil))
}
