package tools

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nextbridge/nextcloud-mcp/pkg/scopes"
)

// Scope names granted by the identity provider and checked per tool.
const (
	ScopeNotesRead  = "notes:read"
	ScopeNotesWrite = "notes:write"
	ScopeFilesRead  = "files:read"
)

// AllScopes lists every scope any tool can require. Used when registering
// the bridge's OAuth client before the tool registry is populated.
func AllScopes() []string {
	return []string{ScopeNotesRead, ScopeNotesWrite, ScopeFilesRead}
}

// Register adds every tool to the MCP server and declares its required
// scopes in the registry. Declaration and registration stay in one place
// so a tool cannot ship without a scope entry.
func Register(mcpServer *server.MCPServer, registry *scopes.Registry, handler *Handler) {
	registry.Register("notes_list", ScopeNotesRead)
	mcpServer.AddTool(mcp.Tool{
		Name:        "notes_list",
		Description: "List the user's notes, optionally filtered by category",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Only return notes in this category",
				},
			},
		},
	}, handler.ListNotes)

	registry.Register("notes_get", ScopeNotesRead)
	mcpServer.AddTool(mcp.Tool{
		Name:        "notes_get",
		Description: "Get a single note including its content",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "integer",
					"description": "Note id",
				},
			},
			Required: []string{"id"},
		},
	}, handler.GetNote)

	registry.Register("notes_create", ScopeNotesWrite)
	mcpServer.AddTool(mcp.Tool{
		Name:        "notes_create",
		Description: "Create a new note",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"title": map[string]interface{}{
					"type":        "string",
					"description": "Note title",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Note body in markdown",
				},
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Optional category (folder) for the note",
				},
			},
			Required: []string{"title"},
		},
	}, handler.CreateNote)

	registry.Register("notes_update", ScopeNotesWrite)
	mcpServer.AddTool(mcp.Tool{
		Name:        "notes_update",
		Description: "Update an existing note; only the provided fields change",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "integer",
					"description": "Note id",
				},
				"title": map[string]interface{}{
					"type":        "string",
					"description": "New title",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "New body",
				},
				"category": map[string]interface{}{
					"type":        "string",
					"description": "New category",
				},
			},
			Required: []string{"id"},
		},
	}, handler.UpdateNote)

	registry.Register("notes_delete", ScopeNotesWrite)
	mcpServer.AddTool(mcp.Tool{
		Name:        "notes_delete",
		Description: "Delete a note",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "integer",
					"description": "Note id",
				},
			},
			Required: []string{"id"},
		},
	}, handler.DeleteNote)

	registry.Register("files_list", ScopeFilesRead)
	mcpServer.AddTool(mcp.Tool{
		Name:        "files_list",
		Description: "List files and folders under a path in the user's storage",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Directory path relative to the user's root; empty for the root",
				},
			},
		},
	}, handler.ListFiles)

	registry.Register("files_get", ScopeFilesRead)
	mcpServer.AddTool(mcp.Tool{
		Name:        "files_get",
		Description: "Download a file and return its content as text",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File path relative to the user's root",
				},
			},
			Required: []string{"path"},
		},
	}, handler.GetFile)

	registry.Register("documents_search", ScopeFilesRead)
	mcpServer.AddTool(mcp.Tool{
		Name:        "documents_search",
		Description: "Semantic search over the indexed documents",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural-language search query",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of chunks to return (default 5)",
				},
			},
			Required: []string{"query"},
		},
	}, handler.SearchDocuments)

	registry.Register("server_capabilities")
	mcpServer.AddTool(mcp.Tool{
		Name:        "server_capabilities",
		Description: "Return the upstream server's advertised capabilities",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, handler.Capabilities)
}
