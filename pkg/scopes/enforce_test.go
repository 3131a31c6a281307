package scopes

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChallenge(missing []string) string {
	return fmt.Sprintf(
		`Bearer error="insufficient_scope", scope="%s", resource_metadata="https://bridge.example.com/.well-known/oauth-protected-resource/mcp"`,
		strings.Join(missing, " "))
}

func callToolBody(tool string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"%s","arguments":{}}}`, tool)
}

func TestHTTPEnforcer_RejectsMissingScope(t *testing.T) {
	t.Parallel()

	nextCalled := false
	h := HTTPEnforcer(testRegistry(), testChallenge)(http.HandlerFunc(
		func(http.ResponseWriter, *http.Request) { nextCalled = true }))

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(callToolBody("notes_create")))
	req = req.WithContext(ctxWithScopes([]string{"notes:read"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.False(t, nextCalled, "the call must not reach the MCP server")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t,
		`Bearer error="insufficient_scope", scope="notes:write", resource_metadata="https://bridge.example.com/.well-known/oauth-protected-resource/mcp"`,
		rec.Header().Get("WWW-Authenticate"))
	assert.JSONEq(t,
		`{"error":"insufficient_scope","error_description":"missing required scopes: notes:write"}`,
		rec.Body.String())
}

func TestHTTPEnforcer_PassesCoveredCall(t *testing.T) {
	t.Parallel()

	body := callToolBody("notes_create")
	var seen string
	h := HTTPEnforcer(testRegistry(), testChallenge)(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			data, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			seen = string(data)
		}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req = req.WithContext(ctxWithScopes([]string{"notes:write"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, seen, "the body must be replayed to the MCP server intact")
}

func TestHTTPEnforcer_IgnoresOtherRPCMethods(t *testing.T) {
	t.Parallel()

	nextCalled := false
	h := HTTPEnforcer(testRegistry(), testChallenge)(http.HandlerFunc(
		func(http.ResponseWriter, *http.Request) { nextCalled = true }))

	req := httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
	req = req.WithContext(ctxWithScopes([]string{}))
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, nextCalled)
}

func TestHTTPEnforcer_BasicIdentityUnfiltered(t *testing.T) {
	t.Parallel()

	nextCalled := false
	h := HTTPEnforcer(testRegistry(), testChallenge)(http.HandlerFunc(
		func(http.ResponseWriter, *http.Request) { nextCalled = true }))

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(callToolBody("notes_create")))
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, nextCalled, "a caller with no scope set is not scope-gated")
}

func TestHTTPEnforcer_IgnoresGET(t *testing.T) {
	t.Parallel()

	nextCalled := false
	h := HTTPEnforcer(testRegistry(), testChallenge)(http.HandlerFunc(
		func(http.ResponseWriter, *http.Request) { nextCalled = true }))

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req = req.WithContext(ctxWithScopes([]string{}))
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, nextCalled, "SSE streams and other GETs pass through")
}
