// Package store persists embedded document chunks in chromem-go, an
// embedded vector database. Chunks are keyed by (file_id, chunk_index)
// and carry the source ETag so the scanner can diff cheaply.
package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
)

const collectionName = "documents"

// DocumentMeta identifies a source document and its observed version.
type DocumentMeta struct {
	FileID string
	Path   string
	UserID string
	ETag   string
}

// Store wraps a chromem-go database holding one collection of chunks.
type Store struct {
	db            *chromem.DB
	embeddingFunc chromem.EmbeddingFunc

	mu         sync.Mutex
	collection *chromem.Collection
}

// New opens (or creates) the vector store. With an empty path the store
// is purely in-memory, which is what the tests use.
func New(persistPath string, embeddingFunc chromem.EmbeddingFunc) (*Store, error) {
	var db *chromem.DB
	var err error
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(persistPath, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector store at %s: %w", persistPath, err)
		}
		logger.Infof("Opened persistent vector store at %s", persistPath)
	} else {
		db = chromem.NewDB()
		logger.Infof("Using in-memory vector store")
	}
	return &Store{db: db, embeddingFunc: embeddingFunc}, nil
}

func (s *Store) getCollection() (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collection != nil {
		return s.collection, nil
	}
	c, err := s.db.GetOrCreateCollection(collectionName, nil, s.embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", collectionName, err)
	}
	s.collection = c
	return c, nil
}

func chunkID(fileID string, index int) string {
	return fileID + "#" + strconv.Itoa(index)
}

// CurrentETag returns the ETag recorded for a file, or "" when the file
// has never been indexed. The ETag rides on chunk 0, which every indexed
// document has.
func (s *Store) CurrentETag(ctx context.Context, fileID string) (string, error) {
	collection, err := s.getCollection()
	if err != nil {
		return "", err
	}
	doc, err := collection.GetByID(ctx, chunkID(fileID, 0))
	if err != nil {
		return "", nil
	}
	return doc.Metadata["etag"], nil
}

// Upsert replaces all chunks for a document with the given ones. The old
// chunks are removed first so a shrinking document leaves no stale tail.
func (s *Store) Upsert(ctx context.Context, meta DocumentMeta, chunks []string) error {
	collection, err := s.getCollection()
	if err != nil {
		return err
	}
	if err := collection.Delete(ctx, map[string]string{"file_id": meta.FileID}, nil); err != nil {
		return fmt.Errorf("failed to delete stale chunks for %s: %w", meta.FileID, err)
	}
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for i, chunk := range chunks {
		docs = append(docs, chromem.Document{
			ID:      chunkID(meta.FileID, i),
			Content: chunk,
			Metadata: map[string]string{
				"file_id":     meta.FileID,
				"path":        meta.Path,
				"user_id":     meta.UserID,
				"etag":        meta.ETag,
				"chunk_index": strconv.Itoa(i),
			},
		})
	}
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to add chunks for %s: %w", meta.FileID, err)
	}
	return nil
}

// Delete removes every chunk of a document.
func (s *Store) Delete(ctx context.Context, fileID string) error {
	collection, err := s.getCollection()
	if err != nil {
		return err
	}
	if err := collection.Delete(ctx, map[string]string{"file_id": fileID}, nil); err != nil {
		return fmt.Errorf("failed to delete chunks for %s: %w", fileID, err)
	}
	return nil
}

// Query returns the top-k chunks semantically closest to the query text.
type QueryResult struct {
	FileID     string
	Path       string
	ChunkIndex int
	Content    string
	Similarity float32
}

// Query runs a similarity search over the indexed chunks.
func (s *Store) Query(ctx context.Context, text string, limit int) ([]QueryResult, error) {
	collection, err := s.getCollection()
	if err != nil {
		return nil, err
	}
	if n := collection.Count(); n == 0 {
		return nil, nil
	} else if limit > n {
		limit = n
	}
	results, err := collection.Query(ctx, text, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	out := make([]QueryResult, 0, len(results))
	for _, r := range results {
		idx, _ := strconv.Atoi(r.Metadata["chunk_index"])
		out = append(out, QueryResult{
			FileID:     r.Metadata["file_id"],
			Path:       r.Metadata["path"],
			ChunkIndex: idx,
			Content:    r.Content,
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

// Ready reports whether the store is usable. The embedded database has
// no network dependency, so this only verifies the collection opens.
func (s *Store) Ready(_ context.Context) error {
	_, err := s.getCollection()
	return err
}
