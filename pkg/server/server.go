// Package server assembles the bridge: storage, auth mode, OAuth
// endpoints, the MCP server, the indexing pipeline and the HTTP servers,
// with ordered startup and reverse-ordered teardown.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/nextbridge/nextcloud-mcp/pkg/auth"
	"github.com/nextbridge/nextcloud-mcp/pkg/auth/discovery"
	"github.com/nextbridge/nextcloud-mcp/pkg/auth/registration"
	"github.com/nextbridge/nextcloud-mcp/pkg/auth/tokenexchange"
	"github.com/nextbridge/nextcloud-mcp/pkg/authserver"
	"github.com/nextbridge/nextcloud-mcp/pkg/config"
	"github.com/nextbridge/nextcloud-mcp/pkg/health"
	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
	"github.com/nextbridge/nextcloud-mcp/pkg/scopes"
	"github.com/nextbridge/nextcloud-mcp/pkg/storage"
	"github.com/nextbridge/nextcloud-mcp/pkg/storage/sqlite"
	"github.com/nextbridge/nextcloud-mcp/pkg/telemetry"
	"github.com/nextbridge/nextcloud-mcp/pkg/tools"
	"github.com/nextbridge/nextcloud-mcp/pkg/upstream"
	"github.com/nextbridge/nextcloud-mcp/pkg/vectorsync"
	"github.com/nextbridge/nextcloud-mcp/pkg/vectorsync/embed"
	"github.com/nextbridge/nextcloud-mcp/pkg/vectorsync/extract"
	vstore "github.com/nextbridge/nextcloud-mcp/pkg/vectorsync/store"
)

const (
	serverName      = "nextcloud-mcp"
	shutdownTimeout = 10 * time.Second

	// sessionSweepInterval is the cadence of the expired flow-session sweep.
	sessionSweepInterval = 10 * time.Minute
)

// Server owns every long-lived component of the bridge.
type Server struct {
	cfg     *config.Config
	version string

	provider    *telemetry.Provider
	instruments *telemetry.Instruments
	store       *sqlite.Store
	registry    *scopes.Registry
	factory     *upstream.Factory
	validator   *auth.TokenValidator
	authSrv     *authserver.Server
	vectors     *vstore.Store
	pipeline    *vectorsync.Pipeline

	httpServer    *http.Server
	metricsServer *http.Server
}

// New builds the bridge in dependency order: observability, storage,
// auth configuration, pipeline, HTTP. A failure at any step tears down
// what was already started.
func New(ctx context.Context, cfg *config.Config, version string) (*Server, error) {
	s := &Server{cfg: cfg, version: version, registry: scopes.NewRegistry()}

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:    cfg.OTelServiceName,
		ServiceVersion: version,
		MetricsEnabled: cfg.MetricsEnabled,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplingRate:   cfg.OTelTracesSamplerArg,
	})
	if err != nil {
		return nil, err
	}
	s.provider = provider
	s.instruments = telemetry.NewInstruments(provider.MeterProvider())

	store, err := sqlite.Open(ctx, cfg.TokenStorageDB, cfg.TokenEncryptionKey)
	if err != nil {
		s.teardown(ctx)
		return nil, err
	}
	store.SetOpObserver(func(op string, d time.Duration, opErr error) {
		s.instruments.RecordDBOp(context.Background(), op, d, opErr)
	})
	s.store = store

	mode := cfg.AuthMode()
	logger.Infow("auth mode selected", "mode", mode.String())

	var doc *discovery.Document
	var creds *registration.Credentials
	var exchanger *tokenexchange.Exchanger
	if mode == config.ModeOAuthResourceServer {
		doc, creds, exchanger, err = s.configureOAuth(ctx)
		if err != nil {
			s.teardown(ctx)
			return nil, err
		}
	}

	s.factory = upstream.NewFactory(cfg.NextcloudHost, exchanger,
		func(app, method string, status int, d time.Duration) {
			s.instruments.RecordUpstreamCall(context.Background(), app, method, status, d)
		})

	if cfg.VectorSyncEnabled {
		if err := s.configureVectorSync(); err != nil {
			s.teardown(ctx)
			return nil, err
		}
	}

	s.authSrv = authserver.New(cfg, doc, creds, store, s.registry, s.factory)
	s.buildHTTPServers(doc)
	return s, nil
}

// configureOAuth runs discovery, resolves client credentials and builds
// the token validator and (optionally) the exchanger.
func (s *Server) configureOAuth(ctx context.Context) (
	*discovery.Document, *registration.Credentials, *tokenexchange.Exchanger, error,
) {
	cfg := s.cfg
	httpClient := &http.Client{Timeout: 10 * time.Second}

	doc, err := discovery.Detect(ctx, httpClient, cfg.DiscoveryURL(), cfg.NextcloudHost)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("OIDC discovery failed: %w", err)
	}
	if cfg.PublicIssuerURL != "" || cfg.OIDCJWKSURI != "" {
		doc = doc.Rewritten(cfg.PublicIssuerURL, cfg.OIDCJWKSURI)
	}

	creds, err := registration.Resolve(ctx, registration.Config{
		ClientID:     cfg.OIDCClientID,
		ClientSecret: cfg.OIDCClientSecret,
		EnableDCR:    cfg.EnableDCR,
		ServerURL:    cfg.MCPServerURL,
		Scopes:       tools.AllScopes(),
		TokenType:    cfg.OIDCTokenType,
		HTTPClient:   httpClient,
	}, doc, s.store)
	if err != nil {
		return nil, nil, nil, err
	}

	validator, err := auth.NewTokenValidator(ctx, auth.TokenValidatorConfig{
		Issuer:              doc.Issuer,
		ClientID:            creds.ClientID,
		ClientSecret:        creds.ClientSecret,
		JWKSURL:             doc.JWKSURI,
		IntrospectionURL:    doc.IntrospectionEndpoint,
		ServerURL:           cfg.MCPServerURL,
		ResourceMetadataURL: prmURL(cfg.MCPServerURL),
		HTTPClient:          httpClient,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	s.validator = validator

	var exchanger *tokenexchange.Exchanger
	if cfg.EnableTokenExchange {
		exchanger, err = tokenexchange.New(tokenexchange.Config{
			TokenURL:     doc.TokenEndpoint,
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Audience:     cfg.NextcloudResourceURI,
			Resource:     cfg.NextcloudResourceURI,
			MaxTTL:       cfg.ExchangeMaxTTL,
			HTTPClient:   httpClient,
		})
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return doc, creds, exchanger, nil
}

// configureVectorSync builds the vector store, the embedder and the
// pipeline, wired to an upstream client for the indexing user.
func (s *Server) configureVectorSync() error {
	cfg := s.cfg
	embedder := embed.NewOllamaEmbedder(cfg.EmbedderURL, cfg.EmbedderModel)
	vectors, err := vstore.New(cfg.VectorStorePath, embed.ChromemFunc(embedder))
	if err != nil {
		return err
	}
	s.vectors = vectors

	user := cfg.IndexingUser()
	client := &indexerClient{cfg: cfg, store: s.store, factory: s.factory, user: user}
	s.pipeline = vectorsync.New(vectorsync.Config{
		User:      user,
		Tag:       cfg.VectorSyncTag,
		QueueSize: cfg.VectorSyncQueueSize,
		Workers:   cfg.VectorSyncWorkers,
		Interval:  cfg.VectorSyncInterval,
	}, client, vectors, extract.NewRegistry(),
		func(ctx context.Context, err error) {
			s.instruments.RecordDocumentIndexed(ctx, err)
		})
	return nil
}

// prmURL returns the RFC 9728 protected-resource-metadata URL for the
// bridge's MCP resource.
func prmURL(serverURL string) string {
	return strings.TrimSuffix(serverURL, "/") + "/.well-known/oauth-protected-resource/mcp"
}

// buildHTTPServers assembles the router, the MCP endpoint and the
// dedicated metrics listener.
func (s *Server) buildHTTPServers(doc *discovery.Document) {
	cfg := s.cfg

	mcpSrv := mcpserver.NewMCPServer(serverName, s.version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
		mcpserver.WithToolFilter(scopes.ToolFilter(s.registry)),
		mcpserver.WithToolHandlerMiddleware(s.toolMetricsMiddleware()),
		mcpserver.WithToolHandlerMiddleware(scopes.EnforceMiddleware(s.registry)),
	)
	tools.Register(mcpSrv, s.registry, tools.NewHandler(s.factory, s.vectors))

	streamable := mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithEndpointPath("/mcp"),
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if identity, ok := auth.IdentityFromContext(r.Context()); ok {
				return auth.WithIdentity(ctx, identity)
			}
			return ctx
		}),
	)

	r := chi.NewRouter()
	r.Use(telemetry.Middleware(s.provider, cfg.OTelServiceName))

	h := s.buildHealth()
	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)

	if doc != nil {
		prm := scopes.NewPRMHandler(s.registry, doc.Issuer, doc.JWKSURI, cfg.MCPResourceURL())
		r.Handle("/.well-known/oauth-protected-resource", prm)
		r.Handle("/.well-known/oauth-protected-resource/mcp", prm)
	}

	s.authSrv.Routes(r)

	r.Group(func(r chi.Router) {
		r.Use(s.modeMiddleware())
		if s.validator != nil {
			r.Use(scopes.HTTPEnforcer(s.registry, s.validator.InsufficientScopeChallenge))
		}
		r.Handle("/mcp", streamable)
	})

	r.Post("/webhooks/incoming", s.handleWebhookIncoming)

	r.Group(func(r chi.Router) {
		r.Use(s.authSrv.RequireSession)
		r.Get("/app/", s.handleApp)
		s.webhookRoutes(r)
	})

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.MetricsEnabled && s.provider.PrometheusHandler() != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.provider.PrometheusHandler())
		s.metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
}

// modeMiddleware returns the inbound auth middleware for the selected
// operating mode.
func (s *Server) modeMiddleware() func(http.Handler) http.Handler {
	switch s.cfg.AuthMode() {
	case config.ModeSingleUserBasic:
		return auth.SingleUserMiddleware(s.cfg.NextcloudUsername, s.cfg.NextcloudPassword)
	case config.ModeMultiUserBasic:
		return auth.MultiUserBasicMiddleware()
	default:
		return s.validator.Middleware
	}
}

// buildHealth registers the readiness checks: upstream reachability, auth
// configuration and, when enabled, the vector store.
func (s *Server) buildHealth() *health.Handler {
	h := health.NewHandler(s.instruments.RecordReadinessProbe)

	var probeCred upstream.Credential = upstream.Anonymous{}
	if s.cfg.AuthMode() == config.ModeSingleUserBasic {
		probeCred = upstream.BasicAuth{
			Username: s.cfg.NextcloudUsername,
			Password: s.cfg.NextcloudPassword,
		}
	}
	probe := s.factory.ForCredential(probeCred, s.cfg.NextcloudUsername)
	h.Register("upstream", func(ctx context.Context) error {
		_, err := probe.Status(ctx)
		return err
	})

	h.Register("auth", func(context.Context) error {
		if s.cfg.AuthMode() == config.ModeOAuthResourceServer && s.validator == nil {
			return fmt.Errorf("token validator not configured")
		}
		return nil
	})

	if s.vectors != nil {
		h.Register("vector_store", s.vectors.Ready)
	}
	return h
}

// toolMetricsMiddleware records one metric sample per tool call.
func (s *Server) toolMetricsMiddleware() mcpserver.ToolHandlerMiddleware {
	return func(next mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
		return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			start := time.Now()
			result, err := next(ctx, request)
			s.instruments.RecordToolCall(ctx, request.Params.Name, time.Since(start), err)
			return result, err
		}
	}
}

// handleApp is the minimal admin landing page behind the session cookie.
func (s *Server) handleApp(w http.ResponseWriter, r *http.Request) {
	user := r.Header.Get("X-Session-User")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!DOCTYPE html><html><body><h1>%s</h1><p>Signed in as %s.</p>"+
		"<p><a href=\"/oauth/logout\">Log out</a></p></body></html>",
		serverName, user)
}

// Run serves until ctx is cancelled, then shuts everything down in
// reverse startup order: HTTP first, then the pipeline, storage and
// telemetry.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.pipeline != nil {
		g.Go(func() error { return s.pipeline.Run(ctx) })
	}

	g.Go(func() error { return sweepFlowSessions(ctx, s.store, sessionSweepInterval) })

	g.Go(func() error {
		logger.Infof("HTTP server listening on %s", s.cfg.ListenAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	if s.metricsServer != nil {
		g.Go(func() error {
			logger.Infof("Metrics server listening on %s", s.metricsServer.Addr)
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("HTTP server shutdown failed", "error", err)
		}
		if s.metricsServer != nil {
			if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warnw("metrics server shutdown failed", "error", err)
			}
		}
		return nil
	})

	err := g.Wait()
	s.teardown(context.Background())
	return err
}

// sweepFlowSessions periodically deletes expired OAuth flow sessions so
// abandoned flows do not accumulate between reads.
func sweepFlowSessions(ctx context.Context, store storage.Store, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := store.CleanupExpiredSessions(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Warnw("flow session cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Infow("removed expired flow sessions", "count", removed)
			}
		}
	}
}

// teardown releases storage and telemetry. Safe to call with partially
// constructed state.
func (s *Server) teardown(ctx context.Context) {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			logger.Warnw("closing storage failed", "error", err)
		}
	}
	if s.provider != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := s.provider.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("telemetry shutdown failed", "error", err)
		}
	}
}
