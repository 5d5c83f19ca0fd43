// ABOUTME: Entry point for the serviceos-chat server binary
// ABOUTME: Subcommands: serve, init, token, health and ready

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/2389/serviceos-chat/internal/auth"
	"github.com/2389/serviceos-chat/internal/config"
	"github.com/2389/serviceos-chat/internal/gateway"
)

var version = "dev"

var (
	cyan  = color.New(color.FgCyan, color.Bold)
	green = color.New(color.FgGreen)
	gray  = color.New(color.FgHiBlack)
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := "serve"
	var args []string
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(args)
	case "token":
		err = runToken(args)
	case "health":
		err = runHealthCheck(ctx, "/health")
	case "ready":
		err = runHealthCheck(ctx, "/health/ready")
	case "version", "--version", "-v":
		fmt.Println(version)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
	default:
		printUsage(os.Stderr)
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `serviceos-chat %s

Usage:
  serviceos-chat serve             start the chat server (default)
  serviceos-chat init [-force]     write a starter config with a fresh JWT secret
  serviceos-chat token -user ID    print a signed token for a user
  serviceos-chat health            check the running server is up
  serviceos-chat ready             check the running server can reach storage

The config path is $SERVICEOS_CONFIG or %s.
`, version, config.DefaultPath())
}

func runServe(ctx context.Context) error {
	cyan.Println("serviceos-chat")
	gray.Printf("version %s\n\n", version)

	path := config.DefaultPath()
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	green.Print("▶ ")
	fmt.Printf("config %s\n", path)

	logger := setupLogger(cfg.Logging)
	gateway.Version = version

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	green.Print("▶ ")
	if cfg.Tailscale.Enabled {
		fmt.Printf("listening on tailnet as %s\n", cfg.Tailscale.Hostname)
	} else {
		fmt.Printf("listening on %s\n", cfg.Server.HTTPAddr)
	}
	if cfg.Tools.MCPURL != "" {
		green.Print("▶ ")
		fmt.Printf("tools from %s\n", cfg.Tools.MCPURL)
	}
	if cfg.Resumable.Enabled() {
		green.Print("▶ ")
		fmt.Printf("resumable streams via %s\n", cfg.Resumable.Backend)
	}
	fmt.Println()

	if err := gw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// starterConfig is the file written by init. Secrets are generated, the
// model key is read from the environment at load time.
type starterConfig struct {
	Server struct {
		HTTPAddr string `yaml:"http_addr"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Model struct {
		APIKey  string `yaml:"api_key"`
		Default string `yaml:"default"`
	} `yaml:"model"`
	Tools struct {
		MCPURL string `yaml:"mcp_url"`
	} `yaml:"tools"`
	Resumable struct {
		Backend string `yaml:"backend"`
	} `yaml:"resumable"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	force := fs.Bool("force", false, "overwrite an existing config")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := config.DefaultPath()
	if _, err := os.Stat(path); err == nil && !*force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", path)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating secret: %w", err)
	}

	var cfg starterConfig
	cfg.Server.HTTPAddr = "127.0.0.1:8000"
	cfg.Database.Driver = config.DefaultDatabaseDriver
	cfg.Database.Path = filepath.Join(filepath.Dir(path), "chat.db")
	cfg.Auth.JWTSecret = base64.StdEncoding.EncodeToString(secret)
	cfg.Model.APIKey = "${OPENAI_API_KEY}"
	cfg.Model.Default = config.DefaultModel
	cfg.Tools.MCPURL = "http://" + config.DefaultToolServerAddr + "/mcp"
	cfg.Resumable.Backend = config.BackendMemory
	cfg.Logging.Level = "info"

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green.Print("✓ ")
	fmt.Printf("wrote %s\n", path)
	gray.Println("  set OPENAI_API_KEY, start serviceos-tools, then run serviceos-chat serve")
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	user := fs.String("user", "", "user id to sign for")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*user) == "" {
		return errors.New("-user is required")
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not set")
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return err
	}
	token, err := verifier.Generate(*user, *ttl)
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runHealthCheck(ctx context.Context, path string) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	green.Print("✓ ")
	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}
