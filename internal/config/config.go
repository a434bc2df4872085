// Package config loads server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "TILEFALL"

var ErrInvalidPlayerBounds = errors.New("invalid player bounds")
var ErrInvalidValue = errors.New("invalid config value")

type Config struct {
	Addr        string
	DatabaseURL string
	Logging     LoggingConfig
	Lobby       LobbyConfig
	Match       MatchConfig
	Flood       FloodConfig
	Transport   TransportConfig
}

type LoggingConfig struct {
	Level  string
	Format string
}

type LobbyConfig struct {
	MinPlayers int
	MaxPlayers int
	Countdown  time.Duration
}

type MatchConfig struct {
	ModeChoice time.Duration
	Turn       time.Duration
	GridRows   int
	GridCols   int
	Retention  time.Duration
	PendingTTL time.Duration
}

type FloodConfig struct {
	MaxRequestsPerSecond  int
	MaxResponsesPerSecond int
	BanDuration           time.Duration
}

type TransportConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	OutboxSize   int
}

func defaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("database_url", "")
	v.SetDefault("min_players", 2)
	v.SetDefault("max_players", 3)
	v.SetDefault("countdown", "30s")
	v.SetDefault("mode_choice", "10s")
	v.SetDefault("turn", "8s")
	v.SetDefault("grid_rows", 5)
	v.SetDefault("grid_cols", 5)
	v.SetDefault("max_requests_per_second", 30)
	v.SetDefault("max_responses_per_second", 30)
	v.SetDefault("ban_duration", "300s")
	v.SetDefault("read_timeout", "60s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("outbox_size", 32)
	v.SetDefault("match_retention", "2m")
	v.SetDefault("pending_match_ttl", "5m")
}

// Load reads envFile if it exists, then the TILEFALL_* environment.
// Pass "" to skip the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		// A missing file is fine; the environment alone is enough.
		_ = godotenv.Load(envFile)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults(v)

	cfg := Config{
		Addr:        v.GetString("addr"),
		DatabaseURL: v.GetString("database_url"),
		Logging: LoggingConfig{
			Level:  strings.ToLower(v.GetString("log_level")),
			Format: strings.ToLower(v.GetString("log_format")),
		},
		Lobby: LobbyConfig{
			MinPlayers: v.GetInt("min_players"),
			MaxPlayers: v.GetInt("max_players"),
			Countdown:  v.GetDuration("countdown"),
		},
		Match: MatchConfig{
			ModeChoice: v.GetDuration("mode_choice"),
			Turn:       v.GetDuration("turn"),
			GridRows:   v.GetInt("grid_rows"),
			GridCols:   v.GetInt("grid_cols"),
			Retention:  v.GetDuration("match_retention"),
			PendingTTL: v.GetDuration("pending_match_ttl"),
		},
		Flood: FloodConfig{
			MaxRequestsPerSecond:  v.GetInt("max_requests_per_second"),
			MaxResponsesPerSecond: v.GetInt("max_responses_per_second"),
			BanDuration:           v.GetDuration("ban_duration"),
		},
		Transport: TransportConfig{
			ReadTimeout:  v.GetDuration("read_timeout"),
			WriteTimeout: v.GetDuration("write_timeout"),
			OutboxSize:   v.GetInt("outbox_size"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Lobby.MinPlayers < 2 || c.Lobby.MaxPlayers < c.Lobby.MinPlayers {
		return fmt.Errorf("%w: min=%d max=%d", ErrInvalidPlayerBounds, c.Lobby.MinPlayers, c.Lobby.MaxPlayers)
	}
	if c.Match.GridRows <= 0 || c.Match.GridCols <= 0 {
		return fmt.Errorf("%w: grid %dx%d", ErrInvalidValue, c.Match.GridRows, c.Match.GridCols)
	}
	if c.Match.GridRows*c.Match.GridCols <= c.Lobby.MaxPlayers {
		return fmt.Errorf("%w: grid %dx%d too small for %d players", ErrInvalidValue, c.Match.GridRows, c.Match.GridCols, c.Lobby.MaxPlayers)
	}

	durations := map[string]time.Duration{
		"countdown":         c.Lobby.Countdown,
		"mode_choice":       c.Match.ModeChoice,
		"turn":              c.Match.Turn,
		"match_retention":   c.Match.Retention,
		"pending_match_ttl": c.Match.PendingTTL,
		"ban_duration":      c.Flood.BanDuration,
		"read_timeout":      c.Transport.ReadTimeout,
		"write_timeout":     c.Transport.WriteTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidValue, name)
		}
	}

	counts := map[string]int{
		"max_requests_per_second":  c.Flood.MaxRequestsPerSecond,
		"max_responses_per_second": c.Flood.MaxResponsesPerSecond,
		"outbox_size":              c.Transport.OutboxSize,
	}
	for name, n := range counts {
		if n <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidValue, name)
		}
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: log_format %q", ErrInvalidValue, c.Logging.Format)
	}
	return nil
}
