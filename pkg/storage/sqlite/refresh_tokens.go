package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextbridge/nextcloud-mcp/pkg/storage"
)

const refreshTokenColumns = `user_id, encrypted_token, expires_at, created_at, updated_at,
	flow_type, token_audience, provisioned_at, provisioning_client_id, scopes,
	user_profile, profile_cached_at`

// PutRefreshToken upserts the refresh token for a user, preserving the
// original created_at on replacement.
func (s *Store) PutRefreshToken(ctx context.Context, rec storage.RefreshTokenRecord) error {
	return s.observed("put_refresh_token", func() error {
		sealed, err := s.seal(rec.RefreshToken)
		if err != nil {
			return err
		}
		scopesJSON, err := encodeJSON(rec.Scopes)
		if err != nil {
			return err
		}
		now := time.Now().Unix()
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO refresh_tokens (
				user_id, encrypted_token, expires_at, created_at, updated_at,
				flow_type, token_audience, provisioned_at, provisioning_client_id, scopes
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				encrypted_token = excluded.encrypted_token,
				expires_at = excluded.expires_at,
				updated_at = excluded.updated_at,
				flow_type = excluded.flow_type,
				token_audience = excluded.token_audience,
				provisioned_at = excluded.provisioned_at,
				provisioning_client_id = excluded.provisioning_client_id,
				scopes = excluded.scopes`,
			rec.UserID, sealed, nullTime(rec.ExpiresAt), now, now,
			string(rec.Flow), rec.Audience, nullTime(rec.ProvisionedAt),
			rec.ProvisioningClientID, scopesJSON,
		)
		if err != nil {
			return fmt.Errorf("upserting refresh token: %w", err)
		}
		return nil
	})
}

// GetRefreshToken returns the refresh token record for a user, or nil when
// absent. An expired record is deleted and reported as absent.
func (s *Store) GetRefreshToken(ctx context.Context, userID string) (rec *storage.RefreshTokenRecord, err error) {
	err = s.observed("get_refresh_token", func() error {
		rec, err = s.getRefreshToken(ctx, `user_id = ?`, userID)
		return err
	})
	return rec, err
}

// GetRefreshTokenByProvisioningClientID looks up a record by the client that
// initiated server-mediated provisioning.
func (s *Store) GetRefreshTokenByProvisioningClientID(
	ctx context.Context, clientID string,
) (rec *storage.RefreshTokenRecord, err error) {
	err = s.observed("get_refresh_token_by_client", func() error {
		rec, err = s.getRefreshToken(ctx, `provisioning_client_id = ?`, clientID)
		return err
	})
	return rec, err
}

func (s *Store) getRefreshToken(ctx context.Context, where string, arg any) (*storage.RefreshTokenRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE `+where, arg)
	rec, err := s.scanRefreshToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.ExpiresAt != nil && rec.ExpiresAt.Before(time.Now()) {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM refresh_tokens WHERE user_id = ?`, rec.UserID); err != nil {
			return nil, fmt.Errorf("deleting expired refresh token: %w", err)
		}
		return nil, nil
	}
	return rec, nil
}

// DeleteRefreshToken removes a user's refresh token. Returns false when no
// row existed.
func (s *Store) DeleteRefreshToken(ctx context.Context, userID string) (deleted bool, err error) {
	err = s.observed("delete_refresh_token", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID)
		if err != nil {
			return fmt.Errorf("deleting refresh token: %w", err)
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

// PutUserProfile caches the userinfo JSON on the user's refresh-token row.
func (s *Store) PutUserProfile(ctx context.Context, userID string, profile []byte) error {
	return s.observed("put_user_profile", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE refresh_tokens
			SET user_profile = ?, profile_cached_at = ?, updated_at = ?
			WHERE user_id = ?`,
			string(profile), time.Now().Unix(), time.Now().Unix(), userID)
		if err != nil {
			return fmt.Errorf("updating user profile: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		if n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// GetUserProfile returns the cached userinfo JSON, or nil when absent.
func (s *Store) GetUserProfile(ctx context.Context, userID string) (profile []byte, err error) {
	err = s.observed("get_user_profile", func() error {
		var p sql.NullString
		row := s.db.QueryRowContext(ctx,
			`SELECT user_profile FROM refresh_tokens WHERE user_id = ?`, userID)
		if scanErr := row.Scan(&p); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("scanning user profile: %w", scanErr)
		}
		if p.Valid && p.String != "" {
			profile = []byte(p.String)
		}
		return nil
	})
	return profile, err
}

func (s *Store) scanRefreshToken(sc scanner) (*storage.RefreshTokenRecord, error) {
	var (
		rec           storage.RefreshTokenRecord
		sealed        []byte
		expiresAt     sql.NullInt64
		createdAt     int64
		updatedAt     int64
		flow          string
		provisionedAt sql.NullInt64
		scopesJSON    sql.NullString
		profile       sql.NullString
		profileCached sql.NullInt64
	)
	err := sc.Scan(
		&rec.UserID, &sealed, &expiresAt, &createdAt, &updatedAt,
		&flow, &rec.Audience, &provisionedAt, &rec.ProvisioningClientID,
		&scopesJSON, &profile, &profileCached,
	)
	if err != nil {
		return nil, err
	}
	token, ok := s.open("refresh_tokens.encrypted_token", sealed)
	if !ok {
		// Treat an unreadable token as missing; the user re-provisions.
		return nil, sql.ErrNoRows
	}
	rec.RefreshToken = token
	rec.ExpiresAt = timePtr(expiresAt)
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	rec.Flow = storage.FlowType(flow)
	rec.ProvisionedAt = timePtr(provisionedAt)
	if scopesJSON.Valid {
		scopes, err := decodeJSON([]byte(scopesJSON.String))
		if err != nil {
			return nil, err
		}
		rec.Scopes = scopes
	}
	if profile.Valid && profile.String != "" {
		rec.Profile = []byte(profile.String)
	}
	rec.ProfileCachedAt = timePtr(profileCached)
	return &rec, nil
}
