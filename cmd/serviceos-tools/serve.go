// ABOUTME: serve subcommand: runs the workflow MCP server until interrupted
// ABOUTME: Bearer tokens are checked when the shared config carries a JWT secret

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/serviceos-chat/internal/auth"
	"github.com/2389/serviceos-chat/internal/config"
	"github.com/2389/serviceos-chat/internal/mcp"
	"github.com/2389/serviceos-chat/internal/workflows"
)

var (
	addrFlag    string
	requireAuth bool
	stateless   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the workflow catalog over MCP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (overrides toolserver.http_addr)")
	serveCmd.Flags().BoolVar(&requireAuth, "require-auth", false, "reject sessions without a valid bearer token")
	serveCmd.Flags().BoolVar(&stateless, "stateless", false, "do not issue MCP session ids")
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(cfg.Level))
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// scorerFor picks the meta-tool scorer: the remote classifier when one is
// configured, with the keyword model as its fallback.
func scorerFor(cfg config.ToolServerConfig, logger *slog.Logger) workflows.Scorer {
	keywords := workflows.NewKeywordModel(cfg.Temperature)
	if cfg.ScorerURL == "" {
		return keywords
	}
	return workflows.NewRemoteModel(workflows.RemoteConfig{
		Endpoint: cfg.ScorerURL,
		Timeout:  cfg.ScorerTimeout,
		Fallback: keywords,
		Logger:   logger,
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)

	addr := cfg.ToolServer.HTTPAddr
	if addrFlag != "" {
		addr = addrFlag
	}

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating token verifier: %w", err)
		}
		verifier = v
	}

	handler := workflows.NewServer(nil, workflows.Config{
		Threshold:   cfg.ToolServer.Threshold,
		Temperature: cfg.ToolServer.Temperature,
		TopK:        cfg.ToolServer.TopK,
		Scorer:      scorerFor(cfg.ToolServer, logger),
		Logger:      logger,
	})
	srv, err := mcp.NewServer(mcp.ServerConfig{
		Handler:       handler,
		Info:          mcp.ServerInfo{Name: "serviceos-tools", Version: version},
		Logger:        logger,
		TokenVerifier: verifier,
		RequireAuth:   requireAuth,
		Stateless:     stateless,
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving workflows", "addr", addr, "tools", len(handler.Tools()), "threshold", cfg.ToolServer.Threshold, "remote_scorer", cfg.ToolServer.ScorerURL != "")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
