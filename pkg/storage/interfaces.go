// Package storage defines the persistence API for the bridge: refresh
// tokens, registered OAuth client credentials, OAuth flow sessions, app
// passwords, webhook registrations and the audit log.
//
// Sensitive columns are encrypted at rest; see the sqlite subpackage for the
// canonical implementation.
package storage

import (
	"context"
	"time"
)

// FlowType identifies how a refresh token or flow session was provisioned.
type FlowType string

// Flow types.
const (
	FlowDirect         FlowType = "direct"
	FlowServerMediated FlowType = "server-mediated"
	FlowHybrid         FlowType = "hybrid"
)

// RefreshTokenRecord is a persisted refresh token keyed by the stable user
// identifier (the sub claim). Exactly one record exists per user; writes
// replace the previous record.
type RefreshTokenRecord struct {
	UserID               string
	RefreshToken         string
	ExpiresAt            *time.Time
	Flow                 FlowType
	Audience             string
	ProvisionedAt        *time.Time
	ProvisioningClientID string
	Scopes               []string
	Profile              []byte // cached userinfo JSON, nil when absent
	ProfileCachedAt      *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// OAuthClientRecord holds the bridge's own registered client credentials.
// At most one row exists; expired rows are deleted on read.
type OAuthClientRecord struct {
	ClientID        string
	ClientSecret    string
	IssuedAt        time.Time
	ExpiresAt       *time.Time
	RedirectURIs    []string
	ManagementToken string // RFC 7592 registration access token, may be empty
	ManagementURI   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FlowSession tracks an in-flight OAuth authorization. Sessions are valid
// until ExpiresAt; any read past expiration deletes the row.
type FlowSession struct {
	SessionID           string
	ClientID            string
	ClientRedirectURI   string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	AuthorizationCode   string // server-issued code, unique when set
	IdPAccessToken      string
	IdPRefreshToken     string
	UserID              string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Flow                FlowType
	RequestedScopes     []string
	GrantedScopes       []string
	IsProvisioning      bool
}

// WebhookRegistration records an upstream-assigned webhook id under a preset.
type WebhookRegistration struct {
	WebhookID int64
	PresetID  string
	CreatedAt time.Time
}

// AuditEvent is one append-only audit row.
type AuditEvent struct {
	Event        string
	UserID       string
	ResourceType string
	ResourceID   string
	AuthMethod   string
}

// SessionUpdate carries the optional fields of UpdateFlowSession; nil fields
// are left untouched.
type SessionUpdate struct {
	UserID          *string
	IdPAccessToken  *string
	IdPRefreshToken *string
	GrantedScopes   []string
	AuthorizationCode *string
}

// Store is the persistence interface consumed by the auth and flow layers.
// All methods are safe for concurrent use and each wraps a single
// transaction.
type Store interface {
	// Refresh tokens.
	PutRefreshToken(ctx context.Context, rec RefreshTokenRecord) error
	GetRefreshToken(ctx context.Context, userID string) (*RefreshTokenRecord, error)
	GetRefreshTokenByProvisioningClientID(ctx context.Context, clientID string) (*RefreshTokenRecord, error)
	DeleteRefreshToken(ctx context.Context, userID string) (bool, error)
	PutUserProfile(ctx context.Context, userID string, profile []byte) error
	GetUserProfile(ctx context.Context, userID string) ([]byte, error)

	// Bridge OAuth client credentials (single row).
	PutOAuthClient(ctx context.Context, rec OAuthClientRecord) error
	GetOAuthClient(ctx context.Context) (*OAuthClientRecord, error)
	HasValidOAuthClient(ctx context.Context) (bool, error)
	DeleteOAuthClient(ctx context.Context) (bool, error)

	// Flow sessions.
	PutFlowSession(ctx context.Context, sess FlowSession) error
	GetFlowSession(ctx context.Context, sessionID string) (*FlowSession, error)
	GetFlowSessionByCode(ctx context.Context, code string) (*FlowSession, error)
	GetFlowSessionByState(ctx context.Context, state string) (*FlowSession, error)
	UpdateFlowSession(ctx context.Context, sessionID string, upd SessionUpdate) error
	DeleteFlowSession(ctx context.Context, sessionID string) (bool, error)
	CleanupExpiredSessions(ctx context.Context) (int64, error)

	// App passwords (multi-user Basic mode).
	PutAppPassword(ctx context.Context, userID, password string) error
	GetAppPassword(ctx context.Context, userID string) (string, error)
	DeleteAppPassword(ctx context.Context, userID string) (bool, error)

	// Webhooks.
	PutWebhook(ctx context.Context, webhookID int64, presetID string) error
	GetWebhooksByPreset(ctx context.Context, presetID string) ([]WebhookRegistration, error)
	DeleteWebhook(ctx context.Context, webhookID int64) (bool, error)
	ListWebhooks(ctx context.Context) ([]WebhookRegistration, error)
	ClearPreset(ctx context.Context, presetID string) (int64, error)

	// Audit log.
	Audit(ctx context.Context, ev AuditEvent) error

	Close() error
}
