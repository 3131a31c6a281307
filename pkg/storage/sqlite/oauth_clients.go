package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextbridge/nextcloud-mcp/pkg/storage"
)

// PutOAuthClient stores the bridge's registered client credentials. The
// table holds a single row with the fixed primary key 1; INSERT OR REPLACE
// avoids races between discovery and startup. created_at is preserved when
// the same client_id is written again.
func (s *Store) PutOAuthClient(ctx context.Context, rec storage.OAuthClientRecord) error {
	return s.observed("put_oauth_client", func() error {
		sealedSecret, err := s.seal(rec.ClientSecret)
		if err != nil {
			return err
		}
		var sealedMgmt []byte
		if rec.ManagementToken != "" {
			if sealedMgmt, err = s.seal(rec.ManagementToken); err != nil {
				return err
			}
		}
		urisJSON, err := encodeJSON(rec.RedirectURIs)
		if err != nil {
			return err
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer rollback(tx)

		// Preserve created_at when re-registering the same client.
		createdAt := time.Now().Unix()
		var prevClientID string
		var prevCreatedAt int64
		err = tx.QueryRowContext(ctx,
			`SELECT client_id, created_at FROM oauth_clients WHERE id = 1`,
		).Scan(&prevClientID, &prevCreatedAt)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("looking up previous client: %w", err)
		}
		if err == nil && prevClientID == rec.ClientID {
			createdAt = prevCreatedAt
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO oauth_clients (
				id, client_id, encrypted_client_secret, client_id_issued_at,
				client_secret_expires_at, redirect_uris,
				encrypted_registration_access_token, registration_client_uri,
				created_at, updated_at
			) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ClientID, sealedSecret, rec.IssuedAt.Unix(),
			nullTime(rec.ExpiresAt), urisJSON,
			sealedMgmt, rec.ManagementURI,
			createdAt, time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("storing oauth client: %w", err)
		}
		return tx.Commit()
	})
}

// GetOAuthClient returns the stored client credentials, or nil when absent.
// An expired row is deleted and reported as absent.
func (s *Store) GetOAuthClient(ctx context.Context) (rec *storage.OAuthClientRecord, err error) {
	err = s.observed("get_oauth_client", func() error {
		var (
			r          storage.OAuthClientRecord
			sealed     []byte
			issuedAt   int64
			expiresAt  sql.NullInt64
			urisJSON   []byte
			sealedMgmt []byte
			createdAt  int64
			updatedAt  int64
		)
		row := s.db.QueryRowContext(ctx, `
			SELECT client_id, encrypted_client_secret, client_id_issued_at,
				client_secret_expires_at, redirect_uris,
				encrypted_registration_access_token, registration_client_uri,
				created_at, updated_at
			FROM oauth_clients WHERE id = 1`)
		scanErr := row.Scan(&r.ClientID, &sealed, &issuedAt, &expiresAt, &urisJSON,
			&sealedMgmt, &r.ManagementURI, &createdAt, &updatedAt)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return nil
		}
		if scanErr != nil {
			return fmt.Errorf("scanning oauth client: %w", scanErr)
		}

		r.ExpiresAt = timePtr(expiresAt)
		if r.ExpiresAt != nil && r.ExpiresAt.Before(time.Now()) {
			if _, delErr := s.db.ExecContext(ctx, `DELETE FROM oauth_clients WHERE id = 1`); delErr != nil {
				return fmt.Errorf("deleting expired oauth client: %w", delErr)
			}
			return nil
		}

		secret, ok := s.open("oauth_clients.encrypted_client_secret", sealed)
		if !ok {
			return nil
		}
		r.ClientSecret = secret
		if mgmt, ok := s.open("oauth_clients.encrypted_registration_access_token", sealedMgmt); ok {
			r.ManagementToken = mgmt
		}
		uris, decErr := decodeJSON(urisJSON)
		if decErr != nil {
			return decErr
		}
		r.RedirectURIs = uris
		r.IssuedAt = time.Unix(issuedAt, 0).UTC()
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		r.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		rec = &r
		return nil
	})
	return rec, err
}

// HasValidOAuthClient reports whether an unexpired client row exists.
func (s *Store) HasValidOAuthClient(ctx context.Context) (bool, error) {
	rec, err := s.GetOAuthClient(ctx)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// DeleteOAuthClient removes the stored client credentials.
func (s *Store) DeleteOAuthClient(ctx context.Context) (deleted bool, err error) {
	err = s.observed("delete_oauth_client", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM oauth_clients WHERE id = 1`)
		if err != nil {
			return fmt.Errorf("deleting oauth client: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}
