package sqlite

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextbridge/nextcloud-mcp/pkg/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), key)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func timeIn(d time.Duration) *time.Time {
	t := time.Now().Add(d).UTC().Truncate(time.Second)
	return &t
}

func TestRefreshToken_RoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	exp := timeIn(time.Hour)
	prov := timeIn(0)
	require.NoError(t, s.PutRefreshToken(ctx, storage.RefreshTokenRecord{
		UserID:               "user-1",
		RefreshToken:         "rt-secret",
		ExpiresAt:            exp,
		Flow:                 storage.FlowServerMediated,
		Audience:             "bridge-client",
		ProvisionedAt:        prov,
		ProvisioningClientID: "cli-abc",
		Scopes:               []string{"notes:read", "files:read"},
	}))

	rec, err := s.GetRefreshToken(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "rt-secret", rec.RefreshToken)
	assert.Equal(t, storage.FlowServerMediated, rec.Flow)
	assert.Equal(t, "bridge-client", rec.Audience)
	assert.Equal(t, "cli-abc", rec.ProvisioningClientID)
	assert.Equal(t, []string{"notes:read", "files:read"}, rec.Scopes)
	assert.Equal(t, exp.Unix(), rec.ExpiresAt.Unix())
	assert.Equal(t, prov.Unix(), rec.ProvisionedAt.Unix())

	byClient, err := s.GetRefreshTokenByProvisioningClientID(ctx, "cli-abc")
	require.NoError(t, err)
	require.NotNil(t, byClient)
	assert.Equal(t, "user-1", byClient.UserID)

	missing, err := s.GetRefreshToken(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRefreshToken_ReplacePreservesCreatedAt(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRefreshToken(ctx, storage.RefreshTokenRecord{
		UserID: "user-1", RefreshToken: "first", Flow: storage.FlowDirect,
	}))
	first, err := s.GetRefreshToken(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, first)

	require.NoError(t, s.PutRefreshToken(ctx, storage.RefreshTokenRecord{
		UserID: "user-1", RefreshToken: "second", Flow: storage.FlowHybrid,
	}))
	second, err := s.GetRefreshToken(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, "second", second.RefreshToken, "the write replaces the token")
	assert.Equal(t, storage.FlowHybrid, second.Flow)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestRefreshToken_ExpiredDeletedOnRead(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRefreshToken(ctx, storage.RefreshTokenRecord{
		UserID:       "user-1",
		RefreshToken: "stale",
		ExpiresAt:    timeIn(-time.Minute),
	}))

	rec, err := s.GetRefreshToken(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, rec, "an expired record reads back as absent")

	deleted, err := s.DeleteRefreshToken(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, deleted, "the read already removed the row")
}

func TestRefreshToken_Delete(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRefreshToken(ctx, storage.RefreshTokenRecord{
		UserID: "user-1", RefreshToken: "rt",
	}))

	deleted, err := s.DeleteRefreshToken(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteRefreshToken(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestUserProfile(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	err := s.PutUserProfile(ctx, "user-1", []byte(`{"name":"Alice"}`))
	assert.ErrorIs(t, err, storage.ErrNotFound, "profiles attach to an existing token row")

	require.NoError(t, s.PutRefreshToken(ctx, storage.RefreshTokenRecord{
		UserID: "user-1", RefreshToken: "rt",
	}))
	require.NoError(t, s.PutUserProfile(ctx, "user-1", []byte(`{"name":"Alice"}`)))

	profile, err := s.GetUserProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Alice"}`, string(profile))

	rec, err := s.GetRefreshToken(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.NotNil(t, rec.ProfileCachedAt)
}

func TestOAuthClient_RoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	issued := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.PutOAuthClient(ctx, storage.OAuthClientRecord{
		ClientID:        "bridge-client",
		ClientSecret:    "s3cret",
		IssuedAt:        issued,
		RedirectURIs:    []string{"https://bridge.example.com/oauth/callback"},
		ManagementToken: "mgmt-token",
		ManagementURI:   "https://idp.example.com/register/bridge-client",
	}))

	rec, err := s.GetOAuthClient(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "bridge-client", rec.ClientID)
	assert.Equal(t, "s3cret", rec.ClientSecret)
	assert.Equal(t, issued, rec.IssuedAt)
	assert.Equal(t, []string{"https://bridge.example.com/oauth/callback"}, rec.RedirectURIs)
	assert.Equal(t, "mgmt-token", rec.ManagementToken)
	assert.Nil(t, rec.ExpiresAt)

	ok, err := s.HasValidOAuthClient(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOAuthClient_ExpiredDeletedOnRead(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutOAuthClient(ctx, storage.OAuthClientRecord{
		ClientID:     "bridge-client",
		ClientSecret: "s3cret",
		IssuedAt:     time.Now(),
		ExpiresAt:    timeIn(-time.Minute),
	}))

	rec, err := s.GetOAuthClient(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec)

	ok, err := s.HasValidOAuthClient(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err := s.DeleteOAuthClient(ctx)
	require.NoError(t, err)
	assert.False(t, deleted, "the read already removed the row")
}

func TestOAuthClient_ReRegisterPreservesCreatedAt(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutOAuthClient(ctx, storage.OAuthClientRecord{
		ClientID: "bridge-client", ClientSecret: "one", IssuedAt: time.Now(),
	}))
	first, err := s.GetOAuthClient(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	require.NoError(t, s.PutOAuthClient(ctx, storage.OAuthClientRecord{
		ClientID: "bridge-client", ClientSecret: "two", IssuedAt: time.Now(),
	}))
	second, err := s.GetOAuthClient(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "two", second.ClientSecret)
	assert.Equal(t, first.CreatedAt, second.CreatedAt,
		"re-registering the same client keeps its original created_at")
}

func testSession(id string) storage.FlowSession {
	return storage.FlowSession{
		SessionID:           id,
		ClientID:            "client-a",
		ClientRedirectURI:   "http://127.0.0.1:49152/callback",
		State:               "state-" + id,
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
		ExpiresAt:           time.Now().Add(10 * time.Minute),
		Flow:                storage.FlowDirect,
		RequestedScopes:     []string{"notes:read"},
	}
}

func TestFlowSession_Lifecycle(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutFlowSession(ctx, testSession("sess-1")))

	sess, err := s.GetFlowSession(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "client-a", sess.ClientID)
	assert.Equal(t, "challenge", sess.CodeChallenge)
	assert.Equal(t, []string{"notes:read"}, sess.RequestedScopes)
	assert.Empty(t, sess.AuthorizationCode)

	byState, err := s.GetFlowSessionByState(ctx, "state-sess-1")
	require.NoError(t, err)
	require.NotNil(t, byState)
	assert.Equal(t, "sess-1", byState.SessionID)

	user := "user-1"
	access := "idp-access"
	refresh := "idp-refresh"
	code := "srv-code-1"
	require.NoError(t, s.UpdateFlowSession(ctx, "sess-1", storage.SessionUpdate{
		UserID:            &user,
		IdPAccessToken:    &access,
		IdPRefreshToken:   &refresh,
		GrantedScopes:     []string{"notes:read"},
		AuthorizationCode: &code,
	}))

	byCode, err := s.GetFlowSessionByCode(ctx, "srv-code-1")
	require.NoError(t, err)
	require.NotNil(t, byCode)
	assert.Equal(t, "user-1", byCode.UserID)
	assert.Equal(t, "idp-access", byCode.IdPAccessToken)
	assert.Equal(t, "idp-refresh", byCode.IdPRefreshToken)
	assert.Equal(t, []string{"notes:read"}, byCode.GrantedScopes)
	assert.Equal(t, "challenge", byCode.CodeChallenge, "untouched fields survive partial updates")

	deleted, err := s.DeleteFlowSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	gone, err := s.GetFlowSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestFlowSession_ExpiredDeletedOnRead(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	sess := testSession("sess-old")
	sess.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, s.PutFlowSession(ctx, sess))

	got, err := s.GetFlowSession(ctx, "sess-old")
	require.NoError(t, err)
	assert.Nil(t, got)

	deleted, err := s.DeleteFlowSession(ctx, "sess-old")
	require.NoError(t, err)
	assert.False(t, deleted, "the read already removed the row")
}

func TestFlowSession_UpdateMissing(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	user := "user-1"
	err := s.UpdateFlowSession(context.Background(), "no-such-session",
		storage.SessionUpdate{UserID: &user})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFlowSession_CleanupExpired(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	live := testSession("sess-live")
	require.NoError(t, s.PutFlowSession(ctx, live))
	for _, id := range []string{"sess-a", "sess-b"} {
		sess := testSession(id)
		sess.ExpiresAt = time.Now().Add(-time.Hour)
		require.NoError(t, s.PutFlowSession(ctx, sess))
	}

	removed, err := s.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	kept, err := s.GetFlowSession(ctx, "sess-live")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestAppPassword_RoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.GetAppPassword(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.PutAppPassword(ctx, "user-1", "app:pass:word"))
	got, err = s.GetAppPassword(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "app:pass:word", got)

	require.NoError(t, s.PutAppPassword(ctx, "user-1", "rotated"))
	got, err = s.GetAppPassword(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "rotated", got)

	deleted, err := s.DeleteAppPassword(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteAppPassword(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestWebhooks(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutWebhook(ctx, 11, "preset-a"))
	require.NoError(t, s.PutWebhook(ctx, 12, "preset-a"))
	require.NoError(t, s.PutWebhook(ctx, 13, "preset-b"))
	require.NoError(t, s.PutWebhook(ctx, 11, "preset-a"), "re-recording the same id is a no-op")

	all, err := s.ListWebhooks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byPreset, err := s.GetWebhooksByPreset(ctx, "preset-a")
	require.NoError(t, err)
	require.Len(t, byPreset, 2)
	assert.Equal(t, int64(11), byPreset[0].WebhookID)
	assert.Equal(t, int64(12), byPreset[1].WebhookID)

	deleted, err := s.DeleteWebhook(ctx, 12)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.DeleteWebhook(ctx, 12)
	require.NoError(t, err)
	assert.False(t, deleted)

	removed, err := s.ClearPreset(ctx, "preset-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	remaining, err := s.ListWebhooks(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "preset-b", remaining[0].PresetID)
}

func TestAudit_Append(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, ev := range []storage.AuditEvent{
		{Event: "token.provisioned", UserID: "user-1", ResourceType: "refresh_token", AuthMethod: "bearer"},
		{Event: "webhook.created", UserID: "admin", ResourceType: "webhook", ResourceID: "42", AuthMethod: "cookie"},
	} {
		require.NoError(t, s.Audit(ctx, ev))
	}

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_logs`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestEncryptedWrites_RequireKey(t *testing.T) {
	t.Parallel()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	err = s.PutRefreshToken(ctx, storage.RefreshTokenRecord{UserID: "u", RefreshToken: "rt"})
	assert.ErrorIs(t, err, storage.ErrNoEncryptionKey)
	err = s.PutAppPassword(ctx, "u", "pw")
	assert.ErrorIs(t, err, storage.ErrNoEncryptionKey)

	// Unencrypted tables keep working without a key.
	assert.NoError(t, s.PutWebhook(ctx, 1, "preset-a"))
	assert.NoError(t, s.Audit(ctx, storage.AuditEvent{Event: "server.started"}))
}

func TestOpObserver(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	var ops []string
	s.SetOpObserver(func(op string, _ time.Duration, _ error) {
		ops = append(ops, op)
	})

	require.NoError(t, s.PutWebhook(context.Background(), 1, "preset-a"))
	_, err := s.ListWebhooks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"put_webhook", "list_webhooks"}, ops)
}
