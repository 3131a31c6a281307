// Package config loads and validates the bridge configuration.
//
// Configuration is read once at startup through viper (flags, NCMCP_* env
// vars, optional config file) and frozen into an immutable Config value.
package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nextbridge/nextcloud-mcp/pkg/errors"
)

// Default values for tunable settings.
const (
	DefaultQueueMaxSize       = 100
	DefaultProcessorWorkers   = 4
	DefaultMetricsPort        = 9090
	DefaultFlowSessionTTL     = 600 * time.Second
	DefaultExchangeMaxTTL     = 5 * time.Minute
	DefaultUpstreamTimeout    = 10 * time.Second
	DefaultReadinessTimeout   = 2 * time.Second
	DefaultIndexTag           = "mcp-index"
	DefaultStoragePath        = "ncmcp.db"
	DefaultVectorStorePath    = "ncmcp-vectors"
	DefaultEmbedderModel      = "nomic-embed-text"
	DefaultListenAddr         = "0.0.0.0:8000"
	DefaultSessionCookieName  = "mcp_session"
	DefaultSessionCookieMaxAge = 30 * 24 * time.Hour
)

// Config is the validated, immutable bridge configuration.
type Config struct {
	// Upstream Nextcloud deployment.
	NextcloudHost     string
	NextcloudUsername string
	NextcloudPassword string

	// Multi-user Basic mode toggle. Ignored when fixed credentials are set.
	MultiUserBasic bool

	// OIDC / OAuth resource-server settings.
	OIDCDiscoveryURL string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCTokenType    string // "Bearer" or "jwt"
	OIDCJWKSURI      string // override for browser-unreachable hosts
	PublicIssuerURL  string // override for browser-unreachable hosts

	// MCPServerURL is the bridge's public URL (scheme + authority). The MCP
	// resource is this URL with /mcp appended.
	MCPServerURL string

	// NextcloudResourceURI is the upstream audience used for token exchange.
	NextcloudResourceURI string

	// TokenEncryptionKey is the decoded 32-byte cipher key, nil when unset.
	TokenEncryptionKey []byte

	// TokenStorageDB is the SQLite file path.
	TokenStorageDB string

	// Feature flags.
	EnableOfflineAccess bool
	EnableTokenExchange bool
	EnableDCR           bool

	// AllowedMCPClients is the allow-list of client ids for the direct flow.
	AllowedMCPClients []string

	// Vector sync pipeline.
	VectorSyncEnabled   bool
	VectorSyncQueueSize int
	VectorSyncWorkers   int
	VectorSyncUser      string
	VectorSyncTag       string
	VectorSyncInterval  time.Duration
	VectorStorePath     string
	EmbedderURL         string
	EmbedderModel       string

	// Observability.
	MetricsEnabled       bool
	MetricsPort          int
	OTLPEndpoint         string
	OTelServiceName      string
	OTelTracesSamplerArg float64

	// HTTP server.
	ListenAddr string

	// ExchangeMaxTTL caps how long exchanged upstream tokens are cached.
	ExchangeMaxTTL time.Duration
}

// Mode is the operating auth mode, decided once at startup.
type Mode int

const (
	// ModeSingleUserBasic serves every request with the configured credentials.
	ModeSingleUserBasic Mode = iota
	// ModeMultiUserBasic extracts Basic credentials from each inbound request.
	ModeMultiUserBasic
	// ModeOAuthResourceServer validates inbound bearer tokens against the IdP.
	ModeOAuthResourceServer
)

// String returns the mode name used in logs and readiness reports.
func (m Mode) String() string {
	switch m {
	case ModeSingleUserBasic:
		return "single-user-basic"
	case ModeMultiUserBasic:
		return "multi-user-basic"
	case ModeOAuthResourceServer:
		return "oauth-resource-server"
	default:
		return "unknown"
	}
}

// AuthMode selects the operating mode from the configuration. Fixed
// credentials win over the multi-user flag; OAuth is the fallback.
func (c *Config) AuthMode() Mode {
	if c.NextcloudUsername != "" && c.NextcloudPassword != "" {
		return ModeSingleUserBasic
	}
	if c.MultiUserBasic {
		return ModeMultiUserBasic
	}
	return ModeOAuthResourceServer
}

// MCPResourceURL returns the RFC 8707 resource identifier for the bridge.
func (c *Config) MCPResourceURL() string {
	return strings.TrimSuffix(c.MCPServerURL, "/") + "/mcp"
}

// DiscoveryURL returns the effective OIDC discovery URL, defaulting to the
// upstream's own well-known endpoint in integrated deployments.
func (c *Config) DiscoveryURL() string {
	if c.OIDCDiscoveryURL != "" {
		return c.OIDCDiscoveryURL
	}
	return strings.TrimSuffix(c.NextcloudHost, "/") + "/.well-known/openid-configuration"
}

// SetDefaults registers all defaults on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("oidc_token_type", "Bearer")
	v.SetDefault("token_storage_db", DefaultStoragePath)
	v.SetDefault("vector_sync_queue_max_size", DefaultQueueMaxSize)
	v.SetDefault("vector_sync_processor_workers", DefaultProcessorWorkers)
	v.SetDefault("vector_sync_tag", DefaultIndexTag)
	v.SetDefault("vector_sync_interval", "5m")
	v.SetDefault("vector_store_path", DefaultVectorStorePath)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("metrics_port", DefaultMetricsPort)
	v.SetDefault("otel_service_name", "nextcloud-mcp")
	v.SetDefault("otel_traces_sampler_arg", 1.0)
	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("token_exchange_max_ttl", "5m")
	v.SetDefault("mcp_server_url", "http://localhost:8000")
}

// Load reads the configuration from viper and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		NextcloudHost:        v.GetString("nextcloud_host"),
		NextcloudUsername:    v.GetString("nextcloud_username"),
		NextcloudPassword:    v.GetString("nextcloud_password"),
		MultiUserBasic:       v.GetBool("multi_user"),
		OIDCDiscoveryURL:     v.GetString("oidc_discovery_url"),
		OIDCClientID:         v.GetString("oidc_client_id"),
		OIDCClientSecret:     v.GetString("oidc_client_secret"),
		OIDCTokenType:        v.GetString("oidc_token_type"),
		OIDCJWKSURI:          v.GetString("oidc_jwks_uri"),
		PublicIssuerURL:      v.GetString("public_issuer_url"),
		MCPServerURL:         v.GetString("mcp_server_url"),
		NextcloudResourceURI: v.GetString("nextcloud_resource_uri"),
		TokenStorageDB:       v.GetString("token_storage_db"),
		EnableOfflineAccess:  v.GetBool("enable_offline_access"),
		EnableTokenExchange:  v.GetBool("enable_token_exchange"),
		EnableDCR:            v.GetBool("enable_dcr"),
		AllowedMCPClients:    v.GetStringSlice("allowed_mcp_clients"),
		VectorSyncEnabled:    v.GetBool("vector_sync_enabled"),
		VectorSyncQueueSize:  v.GetInt("vector_sync_queue_max_size"),
		VectorSyncWorkers:    v.GetInt("vector_sync_processor_workers"),
		VectorSyncUser:       v.GetString("vector_sync_user"),
		VectorSyncTag:        v.GetString("vector_sync_tag"),
		VectorSyncInterval:   v.GetDuration("vector_sync_interval"),
		VectorStorePath:      v.GetString("vector_store_path"),
		EmbedderURL:          v.GetString("embedder_url"),
		EmbedderModel:        v.GetString("embedder_model"),
		MetricsEnabled:       v.GetBool("metrics_enabled"),
		MetricsPort:          v.GetInt("metrics_port"),
		OTLPEndpoint:         v.GetString("otel_exporter_otlp_endpoint"),
		OTelServiceName:      v.GetString("otel_service_name"),
		OTelTracesSamplerArg: v.GetFloat64("otel_traces_sampler_arg"),
		ListenAddr:           v.GetString("listen_addr"),
		ExchangeMaxTTL:       v.GetDuration("token_exchange_max_ttl"),
	}

	if key := v.GetString("token_encryption_key"); key != "" {
		decoded, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return nil, errors.NewConfigError("token_encryption_key is not valid base64", err)
		}
		if len(decoded) != 32 {
			return nil, errors.NewConfigError(
				fmt.Sprintf("token_encryption_key must decode to 32 bytes, got %d", len(decoded)), nil)
		}
		cfg.TokenEncryptionKey = decoded
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.NextcloudHost == "" {
		return errors.NewConfigError("nextcloud_host is required", nil)
	}
	if _, err := url.Parse(c.NextcloudHost); err != nil {
		return errors.NewConfigError("nextcloud_host is not a valid URL", err)
	}
	if (c.NextcloudUsername == "") != (c.NextcloudPassword == "") {
		return errors.NewConfigError(
			"nextcloud_username and nextcloud_password must be set together", nil)
	}
	if c.OIDCTokenType != "Bearer" && c.OIDCTokenType != "jwt" {
		return errors.NewConfigError(
			fmt.Sprintf("oidc_token_type must be \"Bearer\" or \"jwt\", got %q", c.OIDCTokenType), nil)
	}
	if c.MCPServerURL == "" {
		return errors.NewConfigError("mcp_server_url is required", nil)
	}
	if c.VectorSyncEnabled {
		if c.VectorSyncUser == "" && c.AuthMode() != ModeSingleUserBasic {
			return errors.NewConfigError(
				"vector_sync_user is required when vector sync is enabled outside single-user mode", nil)
		}
		if c.VectorSyncQueueSize <= 0 {
			return errors.NewConfigError("vector_sync_queue_max_size must be positive", nil)
		}
		if c.VectorSyncWorkers <= 0 {
			return errors.NewConfigError("vector_sync_processor_workers must be positive", nil)
		}
	}
	return nil
}

// IndexingUser returns the user whose files the pipeline scans. In
// single-user mode the configured user is implied.
func (c *Config) IndexingUser() string {
	if c.VectorSyncUser != "" {
		return c.VectorSyncUser
	}
	return c.NextcloudUsername
}
