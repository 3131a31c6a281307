package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PutAppPassword upserts the provisioned app password for a user, preserving
// created_at on replacement.
func (s *Store) PutAppPassword(ctx context.Context, userID, password string) error {
	return s.observed("put_app_password", func() error {
		sealed, err := s.seal(password)
		if err != nil {
			return err
		}
		now := time.Now().Unix()
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO app_passwords (user_id, encrypted_password, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				encrypted_password = excluded.encrypted_password,
				updated_at = excluded.updated_at`,
			userID, sealed, now, now)
		if err != nil {
			return fmt.Errorf("upserting app password: %w", err)
		}
		return nil
	})
}

// GetAppPassword returns the stored app password, or "" when absent or
// unreadable.
func (s *Store) GetAppPassword(ctx context.Context, userID string) (password string, err error) {
	err = s.observed("get_app_password", func() error {
		var sealed []byte
		row := s.db.QueryRowContext(ctx,
			`SELECT encrypted_password FROM app_passwords WHERE user_id = ?`, userID)
		if scanErr := row.Scan(&sealed); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("scanning app password: %w", scanErr)
		}
		if plain, ok := s.open("app_passwords.encrypted_password", sealed); ok {
			password = plain
		}
		return nil
	})
	return password, err
}

// DeleteAppPassword removes a user's app password. Returns false when no
// row existed.
func (s *Store) DeleteAppPassword(ctx context.Context, userID string) (deleted bool, err error) {
	err = s.observed("delete_app_password", func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM app_passwords WHERE user_id = ?`, userID)
		if err != nil {
			return fmt.Errorf("deleting app password: %w", err)
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
