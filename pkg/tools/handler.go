// Package tools implements the MCP tools the bridge exposes over the
// upstream Nextcloud apps. Every handler resolves the caller's identity
// from the request context and talks upstream with that caller's
// credentials.
package tools

import (
	"context"
	"fmt"
	"mime"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nextbridge/nextcloud-mcp/pkg/auth"
	"github.com/nextbridge/nextcloud-mcp/pkg/upstream"
	"github.com/nextbridge/nextcloud-mcp/pkg/vectorsync/store"
)

// Handler holds the collaborators the tool handlers need.
type Handler struct {
	factory *upstream.Factory
	vectors *store.Store
}

// NewHandler creates a tool handler. vectors may be nil when vector sync
// is disabled; the semantic search tool then reports an error.
func NewHandler(factory *upstream.Factory, vectors *store.Store) *Handler {
	return &Handler{factory: factory, vectors: vectors}
}

func (h *Handler) client(ctx context.Context) (*upstream.Client, error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("request carries no authenticated identity")
	}
	return h.factory.ForIdentity(ctx, identity)
}

// ListNotes lists the caller's notes.
func (h *Handler) ListNotes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		Category string `json:"category,omitempty"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}

	client, err := h.client(ctx)
	if err != nil {
		return nil, err
	}
	notes, err := client.ListNotes(ctx, args.Category)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list notes: %v", err)), nil
	}

	type noteInfo struct {
		ID       int64  `json:"id"`
		Title    string `json:"title"`
		Category string `json:"category,omitempty"`
		Modified int64  `json:"modified"`
	}
	results := make([]noteInfo, 0, len(notes))
	for _, n := range notes {
		results = append(results, noteInfo{
			ID:       n.ID,
			Title:    n.Title,
			Category: n.Category,
			Modified: n.Modified,
		})
	}
	return mcp.NewToolResultStructuredOnly(results), nil
}

// GetNote returns one note with its content.
func (h *Handler) GetNote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		ID int64 `json:"id"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}

	client, err := h.client(ctx)
	if err != nil {
		return nil, err
	}
	note, err := client.GetNote(ctx, args.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get note: %v", err)), nil
	}
	return mcp.NewToolResultStructuredOnly(note), nil
}

// CreateNote creates a note.
func (h *Handler) CreateNote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		Title    string `json:"title"`
		Content  string `json:"content"`
		Category string `json:"category,omitempty"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if args.Title == "" {
		return mcp.NewToolResultError("title is required"), nil
	}

	client, err := h.client(ctx)
	if err != nil {
		return nil, err
	}
	note, err := client.CreateNote(ctx, args.Title, args.Content, args.Category)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create note: %v", err)), nil
	}
	return mcp.NewToolResultStructuredOnly(note), nil
}

// UpdateNote applies a partial note update.
func (h *Handler) UpdateNote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		ID       int64   `json:"id"`
		Title    *string `json:"title,omitempty"`
		Content  *string `json:"content,omitempty"`
		Category *string `json:"category,omitempty"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if args.Title == nil && args.Content == nil && args.Category == nil {
		return mcp.NewToolResultError("nothing to update: provide title, content or category"), nil
	}

	client, err := h.client(ctx)
	if err != nil {
		return nil, err
	}
	note, err := client.UpdateNote(ctx, args.ID, args.Title, args.Content, args.Category)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to update note: %v", err)), nil
	}
	return mcp.NewToolResultStructuredOnly(note), nil
}

// DeleteNote removes a note.
func (h *Handler) DeleteNote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		ID int64 `json:"id"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}

	client, err := h.client(ctx)
	if err != nil {
		return nil, err
	}
	if err := client.DeleteNote(ctx, args.ID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to delete note: %v", err)), nil
	}
	return mcp.NewToolResultStructuredOnly(map[string]any{"deleted": true, "id": args.ID}), nil
}

// ListFiles lists a directory of the caller's files.
func (h *Handler) ListFiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		Path string `json:"path,omitempty"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}

	identity, _ := auth.IdentityFromContext(ctx)
	client, err := h.client(ctx)
	if err != nil {
		return nil, err
	}
	files, err := client.ListFiles(ctx, davUser(identity), args.Path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list files: %v", err)), nil
	}

	type fileInfo struct {
		Path         string `json:"path"`
		FileID       string `json:"file_id"`
		ContentType  string `json:"content_type,omitempty"`
		Size         int64  `json:"size"`
		LastModified string `json:"last_modified,omitempty"`
	}
	results := make([]fileInfo, 0, len(files))
	for _, f := range files {
		info := fileInfo{
			Path:        f.Path,
			FileID:      f.FileID,
			ContentType: f.ContentType,
			Size:        f.Size,
		}
		if !f.LastModified.IsZero() {
			info.LastModified = f.LastModified.UTC().Format("2006-01-02T15:04:05Z")
		}
		results = append(results, info)
	}
	return mcp.NewToolResultStructuredOnly(results), nil
}

// maxInlineFileSize caps file content returned through a tool result.
const maxInlineFileSize = 1 << 20

// GetFile downloads one file and returns its content as text.
func (h *Handler) GetFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		Path string `json:"path"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if args.Path == "" {
		return mcp.NewToolResultError("path is required"), nil
	}

	identity, _ := auth.IdentityFromContext(ctx)
	client, err := h.client(ctx)
	if err != nil {
		return nil, err
	}
	data, contentType, err := client.FetchFile(ctx, davUser(identity), args.Path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch file: %v", err)), nil
	}
	if len(data) > maxInlineFileSize {
		return mcp.NewToolResultError(fmt.Sprintf(
			"File is too large to return inline (%d bytes, limit %d)", len(data), maxInlineFileSize)), nil
	}
	if contentType != "" && !isTextContentType(contentType) {
		return mcp.NewToolResultError(fmt.Sprintf(
			"File has content type %q; only text files can be returned inline", contentType)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// isTextContentType reports whether a MIME type is safe to return as a
// text tool result.
func isTextContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	switch mediaType {
	case "application/json", "application/xml", "application/x-yaml", "application/javascript":
		return true
	}
	return false
}

// SearchDocuments runs a semantic search over the indexed documents.
func (h *Handler) SearchDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		Query string `json:"query"`
		Limit int    `json:"limit,omitempty"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if args.Query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	if h.vectors == nil {
		return mcp.NewToolResultError("semantic search is disabled: vector sync is not enabled"), nil
	}
	if args.Limit <= 0 {
		args.Limit = 5
	}

	results, err := h.vectors.Query(ctx, args.Query, args.Limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Search failed: %v", err)), nil
	}
	return mcp.NewToolResultStructuredOnly(results), nil
}

// Capabilities returns the upstream server's advertised capabilities.
func (h *Handler) Capabilities(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, err := h.client(ctx)
	if err != nil {
		return nil, err
	}
	caps, err := client.Capabilities(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch capabilities: %v", err)), nil
	}
	return mcp.NewToolResultText(string(caps)), nil
}

// davUser returns the identity's DAV account name: the Basic username in
// Basic modes, the token subject otherwise.
func davUser(identity *auth.Identity) string {
	if identity == nil {
		return ""
	}
	if identity.Username != "" {
		return identity.Username
	}
	return identity.Subject
}
