package scopes

import (
	"encoding/json"
	"net/http"

	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
)

// ProtectedResourceMetadata is the RFC 9728 document served at
// /.well-known/oauth-protected-resource.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	JWKSURI                string   `json:"jwks_uri,omitempty"`
	ScopesSupported        []string `json:"scopes_supported"`
}

// NewPRMHandler serves the Protected Resource Metadata document.
// scopes_supported is recomputed from the registry on every request, so the
// advertisement always tracks the registered tools.
func NewPRMHandler(reg *Registry, issuer, jwksURL, resourceURL string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Discovery endpoint; open CORS is expected here.
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		// mcp-inspector sends these on preflight even for discovery.
		w.Header().Set("Access-Control-Allow-Headers", "mcp-protocol-version, Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if resourceURL == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		supported := reg.Union()
		if len(supported) == 0 {
			supported = []string{"openid"}
		}

		doc := ProtectedResourceMetadata{
			Resource:               resourceURL,
			AuthorizationServers:   []string{issuer},
			BearerMethodsSupported: []string{"header"},
			JWKSURI:                jwksURL,
			ScopesSupported:        supported,
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(doc); err != nil {
			logger.Errorf("Failed to encode protected resource metadata: %v", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
