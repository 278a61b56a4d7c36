package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, "", cfg.Backend)
	assert.Equal(t, 30, cfg.NoChangeTimeoutSeconds)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.HistoryEnabled)
	assert.Equal(t, 30*time.Second, cfg.NoChangeTimeout())
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("file values are applied", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := "backend: tmux\nwork_dir: /workspace\nno_change_timeout_seconds: 10\nhistory_enabled: false\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "tmux", cfg.Backend)
		assert.Equal(t, "/workspace", cfg.WorkDir)
		assert.Equal(t, 10*time.Second, cfg.NoChangeTimeout())
		assert.False(t, cfg.HistoryEnabled)
	})

	t.Run("malformed yaml is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("backend: [unclosed"), 0644))

		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("backend: tmux\nno_change_timeout_seconds: 10\n"), 0644))

		t.Setenv("OHSH_BACKEND", "subprocess")
		t.Setenv("OHSH_NO_CHANGE_TIMEOUT", "45")

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "subprocess", cfg.Backend)
		assert.Equal(t, 45*time.Second, cfg.NoChangeTimeout())
	})
}
