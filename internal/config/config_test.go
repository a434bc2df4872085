package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 2, cfg.Lobby.MinPlayers)
	assert.Equal(t, 3, cfg.Lobby.MaxPlayers)
	assert.Equal(t, 30*time.Second, cfg.Lobby.Countdown)
	assert.Equal(t, 10*time.Second, cfg.Match.ModeChoice)
	assert.Equal(t, 8*time.Second, cfg.Match.Turn)
	assert.Equal(t, 30, cfg.Flood.MaxRequestsPerSecond)
	assert.Equal(t, 300*time.Second, cfg.Flood.BanDuration)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("TILEFALL_MAX_PLAYERS", "4")
	t.Setenv("TILEFALL_TURN", "3s")
	t.Setenv("TILEFALL_LOG_FORMAT", "JSON")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Lobby.MaxPlayers)
	assert.Equal(t, 3*time.Second, cfg.Match.Turn)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TILEFALL_ADDR=:9999\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TILEFALL_ADDR") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr)
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"min below two", func(c *Config) { c.Lobby.MinPlayers = 1 }, ErrInvalidPlayerBounds},
		{"max below min", func(c *Config) { c.Lobby.MaxPlayers = 1 }, ErrInvalidPlayerBounds},
		{"zero turn", func(c *Config) { c.Match.Turn = 0 }, ErrInvalidValue},
		{"tiny grid", func(c *Config) { c.Match.GridRows, c.Match.GridCols = 1, 2 }, ErrInvalidValue},
		{"zero threshold", func(c *Config) { c.Flood.MaxRequestsPerSecond = 0 }, ErrInvalidValue},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, ErrInvalidValue},
		{"valid", func(c *Config) {}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}
