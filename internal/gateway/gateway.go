// ABOUTME: Gateway that wires the chat engine to its HTTP server
// ABOUTME: Owns the store, delivery backend and listener lifecycle, including the optional tailnet node

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/serviceos-chat/internal/auth"
	"github.com/2389/serviceos-chat/internal/confidence"
	"github.com/2389/serviceos-chat/internal/config"
	"github.com/2389/serviceos-chat/internal/conversation"
	"github.com/2389/serviceos-chat/internal/dedupe"
	"github.com/2389/serviceos-chat/internal/llm"
	"github.com/2389/serviceos-chat/internal/resumable"
	"github.com/2389/serviceos-chat/internal/store"
	"github.com/2389/serviceos-chat/internal/tools"
	"github.com/2389/serviceos-chat/internal/turn"
)

// Version is reported to the tool service. Binaries overwrite it at startup.
var Version = "dev"

// Guard settings for in-flight submissions.
const (
	guardTTL     = 10 * time.Minute
	guardMaxSize = 10_000
)

// Gateway serves the chat API.
type Gateway struct {
	config      *config.Config
	store       store.Store
	service     *conversation.Service
	delivery    *resumable.Manager
	guard       *dedupe.Guard
	verifier    auth.TokenVerifier
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// now is used for request hints; tests pin it.
	now func() time.Time
}

// Components are the collaborators New builds from config. Tests supply
// their own.
type Components struct {
	Store    store.Store
	Provider llm.Provider
	// Registry overrides the tool registry built from config.
	Registry *tools.Registry
	// Delivery may be nil, which disables resumption.
	Delivery *resumable.Manager
	Verifier auth.TokenVerifier
}

// initStore opens the configured database. SERVICEOS_DB_PATH overrides the
// configured path.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	path := cfg.Database.Path
	if env := os.Getenv("SERVICEOS_DB_PATH"); env != "" {
		path = env
	}
	s, err := store.Open(cfg.Database.Driver, path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initDelivery builds the resumable delivery backend, or nil when
// resumption is disabled.
func initDelivery(cfg *config.Config, handles resumable.Handles, logger *slog.Logger) (*resumable.Manager, error) {
	rc := cfg.Resumable
	var backend resumable.Backend
	switch rc.Backend {
	case config.BackendRedis:
		b, err := resumable.NewRedisBackend(resumable.RedisConfig{
			URL:       rc.RedisURL,
			KeyPrefix: rc.KeyPrefix,
			TTL:       rc.TTL,
			MaxLen:    rc.MaxLen,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.Ping(ctx); err != nil {
			logger.Warn("redis not reachable yet, streams will not be resumable until it is", "error", err)
		}
		backend = b
	case config.BackendMemory:
		backend = resumable.NewMemoryBackend(rc.TTL, logger)
	default:
		logger.Info("resumable streams disabled")
		return nil, nil
	}
	logger.Info("resumable streams enabled", "backend", rc.Backend, "ttl", rc.TTL)
	return resumable.NewManager(backend, handles, logger), nil
}

// New creates a Gateway from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	delivery, err := initDelivery(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		verifier = v
	} else {
		logger.Warn("auth disabled - no jwt_secret configured, every request is anonymous")
	}

	provider := llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:  cfg.Model.APIKey,
		BaseURL: cfg.Model.BaseURL,
	}, logger)

	return NewWithComponents(cfg, Components{
		Store:    s,
		Provider: provider,
		Delivery: delivery,
		Verifier: verifier,
	}, logger), nil
}

// NewWithComponents assembles a Gateway around the given collaborators.
func NewWithComponents(cfg *config.Config, c Components, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	registry := c.Registry
	if registry == nil {
		registry = tools.NewRegistry(tools.RegistryConfig{
			URL:             cfg.Tools.MCPURL,
			Headers:         cfg.Tools.Headers,
			CallTimeout:     cfg.Tools.Timeout,
			RequireApproval: cfg.Tools.RequireApproval,
			Version:         Version,
			Logger:          logger,
		})
	}
	guard := dedupe.New(guardTTL, guardMaxSize)

	svc := conversation.New(conversation.Config{
		Store:    c.Store,
		Registry: registry,
		Router:   confidence.NewRouter(cfg.Tools.ConfidenceTimeout, logger),
		Driver: turn.NewDriver(turn.Config{
			Provider:    c.Provider,
			MaxSteps:    cfg.Model.MaxSteps,
			Temperature: cfg.Model.Temperature,
			Logger:      logger,
		}),
		Titles:       c.Provider,
		TitleModel:   cfg.Model.TitleModel,
		DefaultModel: cfg.Model.Default,
		Delivery:     c.Delivery,
		Guard:        guard,
		Logger:       logger,
	})

	gw := &Gateway{
		config:   cfg,
		store:    c.Store,
		service:  svc,
		delivery: c.Delivery,
		guard:    guard,
		verifier: c.Verifier,
		logger:   logger.With("component", "gateway"),
		now:      time.Now,
	}
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw
}

// Handler returns the HTTP handler serving every route.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/chat", g.handleSubmit)
	api.HandleFunc("DELETE /api/chat", g.handleDeleteChat)
	api.HandleFunc("GET /api/chat/{id}/stream", g.handleResume)
	api.HandleFunc("GET /api/chat/{id}/messages", g.handleMessages)
	api.HandleFunc("PATCH /api/chat/{id}/visibility", g.handleVisibility)
	api.HandleFunc("GET /api/history", g.handleHistory)
	api.HandleFunc("DELETE /api/history", g.handleDeleteHistory)
	api.HandleFunc("GET /api/vote", g.handleGetVotes)
	api.HandleFunc("PATCH /api/vote", g.handleVote)

	mux.Handle("/api/", auth.OptionalAuthMiddleware(g.verifier, g.logger)(api))
	return mux
}

// setupListener creates the HTTP listener, on the tailnet when enabled.
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// Run serves until ctx is canceled, then shuts down gracefully. It returns
// nil on graceful shutdown or the error that stopped the server.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	// The run context is already canceled here.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "serviceos-chat", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and listens on :80, or :443
// with the tailnet certificate when HTTPS is enabled.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	if !tsCfg.HTTPS {
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}

	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases resources. Turns still
// running keep their detached contexts and finish persisting on their own
// unless the process exits first.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "delivery close", g.delivery.Close())
	g.guard.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := g.service.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (resumable=%t)", g.delivery.Enabled())
}
