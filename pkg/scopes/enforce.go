package scopes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nextbridge/nextcloud-mcp/pkg/auth"
	"github.com/nextbridge/nextcloud-mcp/pkg/errors"
	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
)

// callerScopes reads the granted scopes from the request identity. A nil
// return disables filtering and enforcement (Basic modes); an empty non-nil
// set fails closed, hiding every scope-gated tool.
func callerScopes(ctx context.Context) []string {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil
	}
	return identity.Scopes
}

// ToolFilter returns the mcp-go tool filter that hides tools whose required
// scopes exceed the caller's grant.
func ToolFilter(reg *Registry) server.ToolFilterFunc {
	return func(ctx context.Context, tools []mcp.Tool) []mcp.Tool {
		granted := callerScopes(ctx)
		if granted == nil {
			return tools
		}
		filtered := make([]mcp.Tool, 0, len(tools))
		for _, tool := range tools {
			if len(reg.Missing(tool.Name, granted)) == 0 {
				filtered = append(filtered, tool)
			}
		}
		return filtered
	}
}

// rpcCall is the slice of a JSON-RPC request body the HTTP enforcer needs.
type rpcCall struct {
	Method string `json:"method"`
	Params struct {
		Name string `json:"name"`
	} `json:"params"`
}

// HTTPEnforcer rejects tools/call requests whose caller lacks a required
// scope before they reach the MCP server, answering with the RFC 6750 §3.1
// contract: 403 and a Bearer challenge naming the missing scopes and the
// resource metadata URL. challenge builds that header value. Requests that
// are not tool calls, or whose caller has no scope set (Basic modes), pass
// through untouched.
func HTTPEnforcer(reg *Registry, challenge func(missing []string) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.Body == nil {
				next.ServeHTTP(w, r)
				return
			}
			body, err := io.ReadAll(r.Body)
			_ = r.Body.Close()
			if err != nil {
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			var call rpcCall
			if json.Unmarshal(body, &call) != nil || call.Method != "tools/call" {
				next.ServeHTTP(w, r)
				return
			}
			missing := reg.Missing(call.Params.Name, callerScopes(r.Context()))
			if len(missing) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			logger.DebugCtx(r.Context(), "rejecting tool call for missing scopes",
				"tool", call.Params.Name, "missing", missing)
			w.Header().Set("WWW-Authenticate", challenge(missing))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":             "insufficient_scope",
				"error_description": "missing required scopes: " + strings.Join(missing, " "),
			})
		})
	}
}

// EnforceMiddleware returns the mcp-go tool handler middleware that rejects
// calls missing a required scope. It backstops [HTTPEnforcer] for transports
// that bypass the HTTP layer.
func EnforceMiddleware(reg *Registry) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if missing := reg.Missing(req.Params.Name, callerScopes(ctx)); len(missing) > 0 {
				logger.DebugCtx(ctx, "rejecting tool call for missing scopes",
					"tool", req.Params.Name, "missing", missing)
				return nil, errors.NewInsufficientScopeError(missing)
			}
			return next(ctx, req)
		}
	}
}
