// Package extract turns fetched document bytes into plain text chunks
// suitable for embedding. Extractors are registered per MIME type;
// unknown types are skipped by the pipeline.
package extract

import (
	"encoding/json"
	"fmt"
	"mime"
	"strings"
	"sync"
)

// Extractor converts raw document bytes into plain text.
type Extractor func(data []byte) (string, error)

// Registry maps MIME types to extractors.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry returns a registry preloaded with the built-in extractors
// for plain text, markdown and JSON.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	r.Register("text/plain", passthrough)
	r.Register("text/markdown", passthrough)
	r.Register("application/json", extractJSON)
	return r
}

// Register adds or replaces the extractor for a MIME type.
func (r *Registry) Register(mimeType string, fn Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[mimeType] = fn
}

// Supports reports whether an extractor is registered for the content type.
// Parameters such as charset are ignored.
func (r *Registry) Supports(contentType string) bool {
	_, ok := r.lookup(contentType)
	return ok
}

// Extract runs the extractor registered for the content type.
func (r *Registry) Extract(contentType string, data []byte) (string, error) {
	fn, ok := r.lookup(contentType)
	if !ok {
		return "", fmt.Errorf("no extractor registered for content type %q", contentType)
	}
	return fn(data)
}

func (r *Registry) lookup(contentType string) (Extractor, bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.extractors[strings.ToLower(mediaType)]
	return fn, ok
}

func passthrough(data []byte) (string, error) {
	return string(data), nil
}

// extractJSON validates the payload and re-indents it so field names stay
// adjacent to their values in the embedded text.
func extractJSON(data []byte) (string, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("invalid JSON document: %w", err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
