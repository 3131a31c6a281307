// Package vectorsync runs the background document-indexing pipeline: a
// scanner discovers tagged upstream files, diffs them against the vector
// index, and feeds changed documents through a bounded channel to a pool
// of processor workers that fetch, extract, embed and upsert.
package vectorsync

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
	"github.com/nextbridge/nextcloud-mcp/pkg/upstream"
	"github.com/nextbridge/nextcloud-mcp/pkg/vectorsync/extract"
	"github.com/nextbridge/nextcloud-mcp/pkg/vectorsync/store"
)

const defaultScanInterval = 5 * time.Minute

// DocumentRef identifies one upstream document flowing through the
// pipeline. It exists only while the document is queued or in flight.
type DocumentRef struct {
	UserID       string
	FileID       string
	Path         string
	ContentType  string
	ETag         string
	Size         int64
	LastModified time.Time
}

// Upstream is the slice of the WebDAV client the pipeline needs.
type Upstream interface {
	SearchByTag(ctx context.Context, user, tagID string) ([]upstream.FileInfo, error)
	FetchByHref(ctx context.Context, href string) ([]byte, string, error)
}

// VectorIndex is the slice of the vector store the pipeline needs.
type VectorIndex interface {
	CurrentETag(ctx context.Context, fileID string) (string, error)
	Upsert(ctx context.Context, meta store.DocumentMeta, chunks []string) error
}

// Observer is notified once per processed document, after the final
// upsert attempt.
type Observer func(ctx context.Context, err error)

// Config tunes the pipeline.
type Config struct {
	// User is the account whose tagged files are indexed.
	User string

	// Tag is the system tag id marking documents for indexing.
	Tag string

	// QueueSize caps the number of queued documents. The scanner blocks
	// on a full queue, which is the pipeline's back-pressure mechanism.
	QueueSize int

	// Workers is the processor pool size.
	Workers int

	// Interval is the periodic scan cadence.
	Interval time.Duration
}

// Pipeline owns the scanner and processor tasks.
type Pipeline struct {
	cfg       Config
	client    Upstream
	index     VectorIndex
	extractor *extract.Registry
	observe   Observer

	documents chan DocumentRef
	wake      chan struct{}
}

// New assembles a pipeline. observe may be nil.
func New(cfg Config, client Upstream, index VectorIndex, extractor *extract.Registry, observe Observer) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultScanInterval
	}
	if observe == nil {
		observe = func(context.Context, error) {}
	}
	return &Pipeline{
		cfg:       cfg,
		client:    client,
		index:     index,
		extractor: extractor,
		observe:   observe,
		documents: make(chan DocumentRef, cfg.QueueSize),
		wake:      make(chan struct{}, 1),
	}
}

// Wake requests an immediate scan. Safe to call from any goroutine; a
// scan already pending coalesces with this one.
func (p *Pipeline) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run executes the pipeline until ctx is cancelled, then drains and
// returns. The scanner owns the documents channel and closes it on exit.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(p.documents)
		return p.runScanner(ctx)
	})
	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			return p.runProcessor(ctx)
		})
	}

	logger.Infof("Indexing pipeline started (user=%s, tag=%s, workers=%d, queue=%d)",
		p.cfg.User, p.cfg.Tag, p.cfg.Workers, p.cfg.QueueSize)
	err := g.Wait()
	logger.Infof("Indexing pipeline stopped")
	return err
}

// runScanner scans on startup, then on every interval tick or wake
// request, until cancelled.
func (p *Pipeline) runScanner(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := p.scan(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warnw("document scan failed", "user_id", p.cfg.User, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

// scan queries the upstream for tagged files and enqueues every document
// whose ETag differs from the indexed one. Sends block when the queue is
// full; cancellation is honoured before each network call and each send.
func (p *Pipeline) scan(ctx context.Context) error {
	files, err := p.client.SearchByTag(ctx, p.cfg.User, p.cfg.Tag)
	if err != nil {
		return err
	}

	for _, f := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if f.ContentType != "" && !p.extractor.Supports(f.ContentType) {
			logger.Debugw("skipping document with unsupported content type",
				"file_id", f.FileID, "content_type", f.ContentType)
			continue
		}
		indexed, err := p.index.CurrentETag(ctx, f.FileID)
		if err != nil {
			return err
		}
		if indexed == f.ETag {
			continue
		}
		ref := DocumentRef{
			UserID:       p.cfg.User,
			FileID:       f.FileID,
			Path:         f.Path,
			ContentType:  f.ContentType,
			ETag:         f.ETag,
			Size:         f.Size,
			LastModified: f.LastModified,
		}
		select {
		case p.documents <- ref:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// runProcessor consumes documents until the channel closes or ctx is
// cancelled. Per-document failures are logged and counted, never fatal.
func (p *Pipeline) runProcessor(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case doc, ok := <-p.documents:
			if !ok {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			err := p.process(ctx, doc)
			p.observe(ctx, err)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Warnw("document processing failed",
					"file_id", doc.FileID, "path", doc.Path, "error", err)
			}
		}
	}
}

// process fetches, extracts, chunks and upserts one document. The store
// reflects the observed (file_id, etag) once this returns nil; a partial
// failure is retried on the next observed change.
func (p *Pipeline) process(ctx context.Context, doc DocumentRef) error {
	data, contentType, err := p.client.FetchByHref(ctx, doc.Path)
	if err != nil {
		return err
	}
	if doc.ContentType != "" {
		contentType = doc.ContentType
	}

	text, err := p.extractor.Extract(contentType, data)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	chunks := extract.Chunk(text)
	if err := p.index.Upsert(ctx, store.DocumentMeta{
		FileID: doc.FileID,
		Path:   doc.Path,
		UserID: doc.UserID,
		ETag:   doc.ETag,
	}, chunks); err != nil {
		return err
	}

	logger.Debugw("document indexed",
		"file_id", doc.FileID, "path", doc.Path, "chunks", len(chunks))
	return nil
}
