package config

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextbridge/nextcloud-mcp/pkg/errors"
)

func newTestViper(settings map[string]any) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.Set("nextcloud_host", "https://cloud.example.com")
	for k, val := range settings {
		v.Set(k, val)
	}
	return v
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(newTestViper(nil))
	require.NoError(t, err)

	assert.Equal(t, "https://cloud.example.com", cfg.NextcloudHost)
	assert.Equal(t, "Bearer", cfg.OIDCTokenType)
	assert.Equal(t, DefaultStoragePath, cfg.TokenStorageDB)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultMetricsPort, cfg.MetricsPort)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, 5*time.Minute, cfg.ExchangeMaxTTL)
	assert.Equal(t, DefaultIndexTag, cfg.VectorSyncTag)
}

func TestAuthMode_Precedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want Mode
	}{
		{
			name: "fixed credentials select single-user",
			cfg:  Config{NextcloudUsername: "admin", NextcloudPassword: "pw"},
			want: ModeSingleUserBasic,
		},
		{
			name: "fixed credentials win over the multi-user flag",
			cfg:  Config{NextcloudUsername: "admin", NextcloudPassword: "pw", MultiUserBasic: true},
			want: ModeSingleUserBasic,
		},
		{
			name: "multi-user flag selects multi-user",
			cfg:  Config{MultiUserBasic: true},
			want: ModeMultiUserBasic,
		},
		{
			name: "oauth is the fallback",
			cfg:  Config{},
			want: ModeOAuthResourceServer,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.cfg.AuthMode())
		})
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settings map[string]any
	}{
		{"username without password", map[string]any{"nextcloud_username": "admin"}},
		{"password without username", map[string]any{"nextcloud_password": "pw"}},
		{"bad token type", map[string]any{"oidc_token_type": "opaque"}},
		{"empty server url", map[string]any{"mcp_server_url": ""}},
		{
			"vector sync without user outside single-user mode",
			map[string]any{"vector_sync_enabled": true},
		},
		{
			"vector sync with zero workers",
			map[string]any{
				"vector_sync_enabled":           true,
				"nextcloud_username":            "admin",
				"nextcloud_password":            "pw",
				"vector_sync_processor_workers": 0,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(newTestViper(tt.settings))
			require.Error(t, err)
			assert.True(t, errors.IsConfig(err))
		})
	}

	t.Run("missing host", func(t *testing.T) {
		t.Parallel()
		v := viper.New()
		SetDefaults(v)
		_, err := Load(v)
		require.Error(t, err)
		assert.True(t, errors.IsConfig(err))
	})
}

func TestLoad_EncryptionKey(t *testing.T) {
	t.Parallel()

	t.Run("valid 32-byte key", func(t *testing.T) {
		t.Parallel()
		key := make([]byte, 32)
		cfg, err := Load(newTestViper(map[string]any{
			"token_encryption_key": base64.StdEncoding.EncodeToString(key),
		}))
		require.NoError(t, err)
		assert.Len(t, cfg.TokenEncryptionKey, 32)
	})

	t.Run("not base64", func(t *testing.T) {
		t.Parallel()
		_, err := Load(newTestViper(map[string]any{"token_encryption_key": "!!!"}))
		require.Error(t, err)
		assert.True(t, errors.IsConfig(err))
	})

	t.Run("wrong length", func(t *testing.T) {
		t.Parallel()
		_, err := Load(newTestViper(map[string]any{
			"token_encryption_key": base64.StdEncoding.EncodeToString(make([]byte, 16)),
		}))
		require.Error(t, err)
		assert.True(t, errors.IsConfig(err))
	})
}

func TestMCPResourceURL(t *testing.T) {
	t.Parallel()
	cfg := Config{MCPServerURL: "https://bridge.example.com/"}
	assert.Equal(t, "https://bridge.example.com/mcp", cfg.MCPResourceURL())
}

func TestDiscoveryURL(t *testing.T) {
	t.Parallel()

	explicit := Config{
		NextcloudHost:    "https://cloud.example.com",
		OIDCDiscoveryURL: "https://idp.example.com/.well-known/openid-configuration",
	}
	assert.Equal(t, "https://idp.example.com/.well-known/openid-configuration", explicit.DiscoveryURL())

	integrated := Config{NextcloudHost: "https://cloud.example.com/"}
	assert.Equal(t, "https://cloud.example.com/.well-known/openid-configuration", integrated.DiscoveryURL())
}

func TestIndexingUser(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "indexer",
		(&Config{VectorSyncUser: "indexer", NextcloudUsername: "admin"}).IndexingUser())
	assert.Equal(t, "admin",
		(&Config{NextcloudUsername: "admin"}).IndexingUser())
}
