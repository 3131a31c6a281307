// Package sqlite implements storage.Store on a single-writer SQLite
// database. Sensitive columns are sealed with AES-GCM before they hit disk;
// a ciphertext that cannot be opened (wrong key, corruption) reads back as
// absent rather than failing the caller.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite" // database/sql driver

	"github.com/nextbridge/nextcloud-mcp/pkg/crypto"
	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
	"github.com/nextbridge/nextcloud-mcp/pkg/storage"
)

// OpObserver receives one callback per storage operation for metrics.
type OpObserver func(op string, d time.Duration, err error)

// Store implements storage.Store using SQLite.
type Store struct {
	db      *sql.DB
	cipher  *crypto.Cipher
	observe OpObserver
}

var _ storage.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path, tightens file
// permissions to owner-only, and applies pending migrations. A nil key is
// allowed; encrypted writes will then fail with ErrNoEncryptionKey.
func Open(ctx context.Context, path string, key []byte) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite is single-writer; one connection sidesteps lock contention.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tightening database permissions: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	cipher, err := crypto.New(key)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	return &Store{db: db, cipher: cipher}, nil
}

// SetOpObserver installs a per-operation metrics callback.
func (s *Store) SetOpObserver(fn OpObserver) {
	s.observe = fn
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// observed wraps one storage operation with the metrics callback.
func (s *Store) observed(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if s.observe != nil {
		s.observe(op, time.Since(start), err)
	}
	return err
}

// seal encrypts a sensitive value, mapping the missing-key case to the
// storage-level configuration error.
func (s *Store) seal(plaintext string) ([]byte, error) {
	sealed, err := s.cipher.SealString(plaintext)
	if errors.Is(err, crypto.ErrNoKey) {
		return nil, storage.ErrNoEncryptionKey
	}
	return sealed, err
}

// open decrypts a sensitive column. Unreadable ciphertexts are logged and
// reported as absent, never as an error.
func (s *Store) open(column string, sealed []byte) (string, bool) {
	if len(sealed) == 0 {
		return "", false
	}
	plaintext, err := s.cipher.OpenString(sealed)
	if err != nil {
		logger.Warnw("discarding unreadable ciphertext", "column", column, "error", err)
		return "", false
	}
	return plaintext, true
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface{ Scan(dest ...any) error }

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }

func encodeJSON(values []string) (string, error) {
	if values == nil {
		return "null", nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshaling JSON: %w", err)
	}
	return string(data), nil
}

func decodeJSON(data []byte) ([]string, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var result []string
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshaling JSON: %w", err)
	}
	return result, nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
