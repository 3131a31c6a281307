package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	chromem "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextbridge/nextcloud-mcp/pkg/auth"
	"github.com/nextbridge/nextcloud-mcp/pkg/scopes"
	"github.com/nextbridge/nextcloud-mcp/pkg/upstream"
	"github.com/nextbridge/nextcloud-mcp/pkg/vectorsync/store"
)

func basicCtx() context.Context {
	return auth.WithIdentity(context.Background(), &auth.Identity{
		Subject:    "alice",
		Username:   "alice",
		Password:   "pw",
		AuthMethod: "basic",
	})
}

func toolRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func newTestHandler(t *testing.T, mux http.Handler, vectors *store.Store) *Handler {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewHandler(upstream.NewFactory(srv.URL, nil, nil), vectors)
}

func TestListNotes_OmitsContent(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":1,"title":"minutes","content":"secret body","modified":1700000000}]`))
	}), nil)

	result, err := h.ListNotes(basicCtx(), toolRequest("notes_list", nil))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)

	payload, err := json.Marshal(result.StructuredContent)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1,"title":"minutes","modified":1700000000}]`, string(payload),
		"note content stays out of the listing")
}

func TestCreateNote_RequiresTitle(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, http.NotFoundHandler(), nil)

	result, err := h.CreateNote(basicCtx(), toolRequest("notes_create", map[string]any{
		"content": "body without title",
	}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError, "a missing title is a tool error, not a transport error")
}

func TestUpdateNote_RequiresAField(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, http.NotFoundHandler(), nil)

	result, err := h.UpdateNote(basicCtx(), toolRequest("notes_update", map[string]any{
		"id": 7,
	}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

func TestGetNote_UpstreamNotFound(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, http.NotFoundHandler(), nil)

	result, err := h.GetNote(basicCtx(), toolRequest("notes_get", map[string]any{"id": 999}))
	require.NoError(t, err, "upstream failures surface as tool errors")
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

func TestGetFile(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/remote.php/dav/files/alice/docs/readme.md", r.URL.Path)
		_, _ = w.Write([]byte("# readme"))
	}), nil)

	result, err := h.GetFile(basicCtx(), toolRequest("files_get", map[string]any{
		"path": "docs/readme.md",
	}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)

	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "# readme", text.Text)
}

func TestGetFile_RejectsBinaryContent(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}), nil)

	result, err := h.GetFile(basicCtx(), toolRequest("files_get", map[string]any{
		"path": "docs/report.pdf",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError, "binary content is refused, not returned as text")
}

func TestGetFile_RequiresPath(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, http.NotFoundHandler(), nil)

	result, err := h.GetFile(basicCtx(), toolRequest("files_get", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSearchDocuments(t *testing.T) {
	t.Parallel()

	t.Run("disabled without a vector store", func(t *testing.T) {
		t.Parallel()
		h := newTestHandler(t, http.NotFoundHandler(), nil)
		result, err := h.SearchDocuments(basicCtx(), toolRequest("documents_search", map[string]any{
			"query": "meeting minutes",
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("returns indexed chunks", func(t *testing.T) {
		t.Parallel()
		embedding := func(_ context.Context, _ string) ([]float32, error) {
			return []float32{1, 0, 0}, nil
		}
		vectors, err := store.New("", chromem.EmbeddingFunc(embedding))
		require.NoError(t, err)
		require.NoError(t, vectors.Upsert(context.Background(), store.DocumentMeta{
			FileID: "101", Path: "/dav/a.txt", UserID: "alice", ETag: "e1",
		}, []string{"meeting minutes from march"}))

		h := newTestHandler(t, http.NotFoundHandler(), vectors)
		result, err := h.SearchDocuments(basicCtx(), toolRequest("documents_search", map[string]any{
			"query": "minutes",
		}))
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.False(t, result.IsError)

		results, ok := result.StructuredContent.([]store.QueryResult)
		require.True(t, ok)
		require.Len(t, results, 1)
		assert.Equal(t, "101", results[0].FileID)
	})

	t.Run("requires a query", func(t *testing.T) {
		t.Parallel()
		h := newTestHandler(t, http.NotFoundHandler(), nil)
		result, err := h.SearchDocuments(basicCtx(), toolRequest("documents_search", nil))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})
}

func TestHandlers_RejectMissingIdentity(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, http.NotFoundHandler(), nil)

	_, err := h.ListNotes(context.Background(), toolRequest("notes_list", nil))
	assert.Error(t, err, "an unauthenticated context is a hard error")
}

func TestRegister_EveryToolHasAScopeEntry(t *testing.T) {
	t.Parallel()

	registry := scopes.NewRegistry()
	mcpSrv := mcpserver.NewMCPServer("test", "0.0.0")
	Register(mcpSrv, registry, NewHandler(upstream.NewFactory("http://unused", nil, nil), nil))

	for _, tool := range []string{
		"notes_list", "notes_get", "notes_create", "notes_update", "notes_delete",
		"files_list", "files_get", "documents_search",
	} {
		assert.NotEmpty(t, registry.RequiredFor(tool), "tool %s must declare scopes", tool)
	}
	assert.Empty(t, registry.RequiredFor("server_capabilities"),
		"capabilities are readable by every authenticated caller")

	union := registry.Union()
	assert.ElementsMatch(t, AllScopes(), union,
		"the registry union and the registration scope list must agree")
}
