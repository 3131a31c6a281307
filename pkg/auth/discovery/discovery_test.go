package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDocument(issuer string) map[string]any {
	return map[string]any{
		"issuer":                           issuer,
		"authorization_endpoint":           issuer + "/authorize",
		"token_endpoint":                   issuer + "/token",
		"userinfo_endpoint":                issuer + "/userinfo",
		"jwks_uri":                         issuer + "/jwks",
		"introspection_endpoint":           issuer + "/introspect",
		"registration_endpoint":            issuer + "/register",
		"code_challenge_methods_supported": []string{"S256", "plain"},
	}
}

func TestFetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/.well-known/openid-configuration", r.URL.Path)
		_ = json.NewEncoder(w).Encode(testDocument("https://idp.example.com"))
	}))
	t.Cleanup(srv.Close)

	doc, err := Fetch(context.Background(), nil, srv.URL+"/.well-known/openid-configuration")
	require.NoError(t, err)
	assert.Equal(t, "https://idp.example.com", doc.Issuer)
	assert.Equal(t, "https://idp.example.com/jwks", doc.JWKSURI)
	assert.True(t, doc.SupportsPKCES256())
}

func TestFetch_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing issuer", func(d map[string]any) { delete(d, "issuer") }},
		{"missing token endpoint", func(d map[string]any) { delete(d, "token_endpoint") }},
		{"missing jwks_uri", func(d map[string]any) { delete(d, "jwks_uri") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			doc := testDocument("https://idp.example.com")
			tt.mutate(doc)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(doc)
			}))
			t.Cleanup(srv.Close)

			_, err := Fetch(context.Background(), nil, srv.URL)
			assert.Error(t, err)
		})
	}

	t.Run("non-200 status", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		t.Cleanup(srv.Close)

		_, err := Fetch(context.Background(), nil, srv.URL)
		assert.Error(t, err)
	})
}

func TestIsExternalIdP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		issuer   string
		upstream string
		external bool
	}{
		{
			name:     "same host",
			issuer:   "https://cloud.example.com/apps/oidc",
			upstream: "https://cloud.example.com",
			external: false,
		},
		{
			name:     "default port normalized",
			issuer:   "https://cloud.example.com:443",
			upstream: "https://cloud.example.com",
			external: false,
		},
		{
			name:     "different host",
			issuer:   "https://keycloak.example.com/realms/main",
			upstream: "https://cloud.example.com",
			external: true,
		},
		{
			name:     "different port",
			issuer:   "https://cloud.example.com:8443",
			upstream: "https://cloud.example.com",
			external: true,
		},
		{
			name:     "unparseable upstream",
			issuer:   "https://idp.example.com",
			upstream: "not a url",
			external: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			doc := &Document{Issuer: tt.issuer}
			assert.Equal(t, tt.external, doc.IsExternalIdP(tt.upstream))
		})
	}
}

func TestRewritten(t *testing.T) {
	t.Parallel()

	doc := &Document{
		Issuer:                "http://keycloak:8080/realms/main",
		AuthorizationEndpoint: "http://keycloak:8080/realms/main/authorize",
		TokenEndpoint:         "http://keycloak:8080/realms/main/token",
		JWKSURI:               "http://keycloak:8080/realms/main/jwks",
		IntrospectionEndpoint: "http://keycloak:8080/realms/main/introspect",
	}

	t.Run("public issuer rewrites matching prefixes", func(t *testing.T) {
		out := doc.Rewritten("https://auth.example.com/realms/main", "")
		assert.Equal(t, "https://auth.example.com/realms/main", out.Issuer)
		assert.Equal(t, "https://auth.example.com/realms/main/authorize", out.AuthorizationEndpoint)
		assert.Equal(t, "https://auth.example.com/realms/main/token", out.TokenEndpoint)
		assert.Equal(t, "https://auth.example.com/realms/main/jwks", out.JWKSURI)
	})

	t.Run("jwks override wins", func(t *testing.T) {
		out := doc.Rewritten("https://auth.example.com/realms/main", "http://keycloak:8080/internal-jwks")
		assert.Equal(t, "http://keycloak:8080/internal-jwks", out.JWKSURI)
	})

	t.Run("empty arguments leave the document untouched", func(t *testing.T) {
		out := doc.Rewritten("", "")
		assert.Equal(t, doc.Issuer, out.Issuer)
		assert.Equal(t, doc.JWKSURI, out.JWKSURI)
	})

	t.Run("original document is not mutated", func(t *testing.T) {
		_ = doc.Rewritten("https://auth.example.com/realms/main", "")
		assert.Equal(t, "http://keycloak:8080/realms/main", doc.Issuer)
	})
}
