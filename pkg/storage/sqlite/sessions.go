package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nextbridge/nextcloud-mcp/pkg/storage"
)

// defaultSessionTTL bounds flow sessions that arrive without an expiry.
const defaultSessionTTL = 10 * time.Minute

const sessionColumns = `session_id, client_id, client_redirect_uri, state,
	code_challenge, code_challenge_method, mcp_authorization_code,
	idp_access_token, idp_refresh_token, user_id, created_at, expires_at,
	flow_type, requested_scopes, granted_scopes, is_provisioning`

// PutFlowSession stores a new in-flight authorization session. A zero
// ExpiresAt gets the default TTL.
func (s *Store) PutFlowSession(ctx context.Context, sess storage.FlowSession) error {
	return s.observed("put_flow_session", func() error {
		if sess.CreatedAt.IsZero() {
			sess.CreatedAt = time.Now()
		}
		if sess.ExpiresAt.IsZero() {
			sess.ExpiresAt = sess.CreatedAt.Add(defaultSessionTTL)
		}
		requested, err := encodeJSON(sess.RequestedScopes)
		if err != nil {
			return err
		}
		granted, err := encodeJSON(sess.GrantedScopes)
		if err != nil {
			return err
		}
		sealedAccess, err := s.sealNullable(sess.IdPAccessToken)
		if err != nil {
			return err
		}
		sealedRefresh, err := s.sealNullable(sess.IdPRefreshToken)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO oauth_sessions (
				session_id, client_id, client_redirect_uri, state,
				code_challenge, code_challenge_method, mcp_authorization_code,
				idp_access_token, idp_refresh_token, user_id, created_at,
				expires_at, flow_type, requested_scopes, granted_scopes,
				is_provisioning
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.SessionID, sess.ClientID, sess.ClientRedirectURI, sess.State,
			sess.CodeChallenge, sess.CodeChallengeMethod,
			nullString(sess.AuthorizationCode),
			sealedAccess, sealedRefresh, sess.UserID,
			sess.CreatedAt.Unix(), sess.ExpiresAt.Unix(),
			string(sess.Flow), requested, granted, boolInt(sess.IsProvisioning),
		)
		if err != nil {
			return fmt.Errorf("inserting flow session: %w", err)
		}
		return nil
	})
}

// GetFlowSession returns the session by id, or nil when absent or expired.
func (s *Store) GetFlowSession(ctx context.Context, sessionID string) (sess *storage.FlowSession, err error) {
	err = s.observed("get_flow_session", func() error {
		sess, err = s.getFlowSession(ctx, `session_id = ?`, sessionID)
		return err
	})
	return sess, err
}

// GetFlowSessionByCode returns the session holding the given server-issued
// authorization code, or nil when absent or expired.
func (s *Store) GetFlowSessionByCode(ctx context.Context, code string) (sess *storage.FlowSession, err error) {
	err = s.observed("get_flow_session_by_code", func() error {
		sess, err = s.getFlowSession(ctx, `mcp_authorization_code = ?`, code)
		return err
	})
	return sess, err
}

// GetFlowSessionByState returns the session by OAuth state value, or nil
// when absent or expired.
func (s *Store) GetFlowSessionByState(ctx context.Context, state string) (sess *storage.FlowSession, err error) {
	err = s.observed("get_flow_session_by_state", func() error {
		sess, err = s.getFlowSession(ctx, `state = ?`, state)
		return err
	})
	return sess, err
}

func (s *Store) getFlowSession(ctx context.Context, where string, arg any) (*storage.FlowSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM oauth_sessions WHERE `+where, arg)
	sess, err := s.scanFlowSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sess.ExpiresAt.Before(time.Now()) {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM oauth_sessions WHERE session_id = ?`, sess.SessionID); err != nil {
			return nil, fmt.Errorf("deleting expired flow session: %w", err)
		}
		return nil, nil
	}
	return sess, nil
}

// UpdateFlowSession applies a partial update; nil fields are untouched.
// Returns storage.ErrNotFound when the session does not exist.
func (s *Store) UpdateFlowSession(ctx context.Context, sessionID string, upd storage.SessionUpdate) error {
	return s.observed("update_flow_session", func() error {
		var (
			sets []string
			args []any
		)
		if upd.UserID != nil {
			sets = append(sets, "user_id = ?")
			args = append(args, *upd.UserID)
		}
		if upd.IdPAccessToken != nil {
			sealed, err := s.seal(*upd.IdPAccessToken)
			if err != nil {
				return err
			}
			sets = append(sets, "idp_access_token = ?")
			args = append(args, sealed)
		}
		if upd.IdPRefreshToken != nil {
			sealed, err := s.seal(*upd.IdPRefreshToken)
			if err != nil {
				return err
			}
			sets = append(sets, "idp_refresh_token = ?")
			args = append(args, sealed)
		}
		if upd.GrantedScopes != nil {
			granted, err := encodeJSON(upd.GrantedScopes)
			if err != nil {
				return err
			}
			sets = append(sets, "granted_scopes = ?")
			args = append(args, granted)
		}
		if upd.AuthorizationCode != nil {
			sets = append(sets, "mcp_authorization_code = ?")
			args = append(args, nullString(*upd.AuthorizationCode))
		}
		if len(sets) == 0 {
			return nil
		}
		args = append(args, sessionID)

		res, err := s.db.ExecContext(ctx,
			`UPDATE oauth_sessions SET `+strings.Join(sets, ", ")+` WHERE session_id = ?`,
			args...)
		if err != nil {
			return fmt.Errorf("updating flow session: %w", err)
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

// DeleteFlowSession removes a session. Returns false when no row existed.
func (s *Store) DeleteFlowSession(ctx context.Context, sessionID string) (deleted bool, err error) {
	err = s.observed("delete_flow_session", func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM oauth_sessions WHERE session_id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("deleting flow session: %w", err)
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

// CleanupExpiredSessions sweeps all expired sessions and reports how many
// were removed. Intended for a periodic background task.
func (s *Store) CleanupExpiredSessions(ctx context.Context) (removed int64, err error) {
	err = s.observed("cleanup_expired_sessions", func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM oauth_sessions WHERE expires_at < ?`, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("sweeping expired sessions: %w", err)
		}
		removed, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		return nil
	})
	return removed, err
}

func (s *Store) scanFlowSession(sc scanner) (*storage.FlowSession, error) {
	var (
		sess          storage.FlowSession
		code          sql.NullString
		sealedAccess  []byte
		sealedRefresh []byte
		createdAt     int64
		expiresAt     int64
		flow          string
		requested     sql.NullString
		granted       sql.NullString
		provisioning  int64
	)
	err := sc.Scan(
		&sess.SessionID, &sess.ClientID, &sess.ClientRedirectURI, &sess.State,
		&sess.CodeChallenge, &sess.CodeChallengeMethod, &code,
		&sealedAccess, &sealedRefresh, &sess.UserID, &createdAt, &expiresAt,
		&flow, &requested, &granted, &provisioning,
	)
	if err != nil {
		return nil, err
	}
	if code.Valid {
		sess.AuthorizationCode = code.String
	}
	if token, ok := s.open("oauth_sessions.idp_access_token", sealedAccess); ok {
		sess.IdPAccessToken = token
	}
	if token, ok := s.open("oauth_sessions.idp_refresh_token", sealedRefresh); ok {
		sess.IdPRefreshToken = token
	}
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	sess.Flow = storage.FlowType(flow)
	if requested.Valid {
		scopes, err := decodeJSON([]byte(requested.String))
		if err != nil {
			return nil, err
		}
		sess.RequestedScopes = scopes
	}
	if granted.Valid {
		scopes, err := decodeJSON([]byte(granted.String))
		if err != nil {
			return nil, err
		}
		sess.GrantedScopes = scopes
	}
	sess.IsProvisioning = provisioning != 0
	return &sess, nil
}

// sealNullable seals a value that may legitimately be empty, storing NULL
// instead of an encrypted empty string.
func (s *Store) sealNullable(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	return s.seal(plaintext)
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
