package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/serviceos-chat/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestRunInit_WritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serviceos", "chat.yaml")
	t.Setenv("SERVICEOS_CONFIG", path)

	require.NoError(t, runInit(nil))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8000", cfg.Server.HTTPAddr)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "chat.db"), cfg.Database.Path)
	assert.GreaterOrEqual(t, len(cfg.Auth.JWTSecret), 32)
	assert.Equal(t, config.BackendMemory, cfg.Resumable.Backend)

	assert.Error(t, runInit(nil), "refuses to overwrite")
	require.NoError(t, runInit([]string{"-force"}))

	again, err := config.Load(path)
	require.NoError(t, err)
	assert.NotEqual(t, cfg.Auth.JWTSecret, again.Auth.JWTSecret)
}

func TestRunToken_RequiresUser(t *testing.T) {
	assert.Error(t, runToken(nil))
}
