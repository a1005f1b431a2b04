package domain

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	require.NotNil(t, config)
	assert.Equal(t, slog.LevelInfo, config.LogLevel)
	assert.Equal(t, DefaultListenAddr, config.ListenAddr)
	assert.Equal(t, DefaultListenPort, config.ListenPort)
	assert.Equal(t, DefaultCapacity, config.Capacity)
	assert.Equal(t, AuthAcceptAny, config.AuthStrategy)
	assert.Equal(t, DefaultConnectionTimeout, config.ConnectionTimeout)
	assert.Equal(t, DefaultAuthRejectionDelay, config.AuthRejectionDelay)
	assert.Empty(t, config.HostKeyPath)
	assert.NoError(t, config.Validate())
}

func TestConfigLoad(t *testing.T) {
	t.Run("creates config file if not exists", func(t *testing.T) {
		tmpDir := t.TempDir()

		config := &Config{}
		require.NoError(t, config.Load(tmpDir))

		assert.FileExists(t, filepath.Join(tmpDir, "config.json"))
		assert.Equal(t, tmpDir, config.ConfigDir)
		assert.Equal(t, DefaultCapacity, config.Capacity)
	})

	t.Run("loads existing config file", func(t *testing.T) {
		tmpDir := t.TempDir()

		custom := NewDefaultConfig()
		custom.ConfigDir = tmpDir
		custom.Capacity = 42
		custom.AuthStrategy = AuthReject
		custom.ListenPort = 2022
		custom.LogLevel = slog.LevelDebug
		data, err := json.Marshal(custom)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.json"), data, 0600))

		config := &Config{}
		require.NoError(t, config.Load(tmpDir))

		assert.Equal(t, 42, config.Capacity)
		assert.Equal(t, AuthReject, config.AuthStrategy)
		assert.Equal(t, 2022, config.ListenPort)
		assert.Equal(t, slog.LevelDebug, config.LogLevel)
	})

	t.Run("rejects unknown auth strategy in file", func(t *testing.T) {
		tmpDir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.json"), []byte(`{"AuthStrategy":"maybe"}`), 0600))

		config := &Config{}
		assert.Error(t, config.Load(tmpDir))
	})

	t.Run("errors when config path is a directory", func(t *testing.T) {
		tmpDir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(tmpDir, "config.json"), 0755))

		config := &Config{}
		err := config.Load(tmpDir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "is a directory")
	})

	t.Run("environment overrides file", func(t *testing.T) {
		tmpDir := t.TempDir()
		t.Setenv(EnvCapacity, "3")
		t.Setenv(EnvAuthStrategy, "reject")
		t.Setenv(EnvConnectionTimeout, "30s")
		t.Setenv(EnvListenPort, "2200")
		t.Setenv(EnvLogLevel, "warn")

		config := &Config{}
		require.NoError(t, config.Load(tmpDir))

		assert.Equal(t, 3, config.Capacity)
		assert.Equal(t, AuthReject, config.AuthStrategy)
		assert.Equal(t, 30*time.Second, config.ConnectionTimeout)
		assert.Equal(t, 2200, config.ListenPort)
		assert.Equal(t, slog.LevelWarn, config.LogLevel)
	})

	t.Run("invalid environment values", func(t *testing.T) {
		for env, value := range map[string]string{
			EnvCapacity:          "ten",
			EnvListenPort:        "port",
			EnvAuthStrategy:      "nope",
			EnvConnectionTimeout: "soon",
			EnvLogLevel:          "loud",
		} {
			t.Run(env, func(t *testing.T) {
				t.Setenv(env, value)
				config := &Config{}
				assert.Error(t, config.Load(t.TempDir()))
			})
		}
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{
			name:    "zero capacity",
			modify:  func(c *Config) { c.Capacity = 0 },
			wantErr: "capacity",
		},
		{
			name:    "port out of range",
			modify:  func(c *Config) { c.ListenPort = 70000 },
			wantErr: "listen port",
		},
		{
			name:    "unknown strategy",
			modify:  func(c *Config) { c.AuthStrategy = "sometimes" },
			wantErr: "unknown auth strategy",
		},
		{
			name:    "rate without burst",
			modify:  func(c *Config) { c.BroadcastRate = 1024 },
			wantErr: "burst",
		},
		{
			name:    "empty allow list",
			modify:  func(c *Config) { c.AuthStrategy = AuthAllowList },
			wantErr: "allow-list",
		},
		{
			name: "allow list with passwords",
			modify: func(c *Config) {
				c.AuthStrategy = AuthAllowList
				c.AllowedPasswords = map[string]string{"root": "toor"}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			tt.modify(config)
			err := config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
