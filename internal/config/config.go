package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/logging"
)

const (
	defaultChannel        = "livestream"
	defaultRequestTimeout = 10 * time.Second
	defaultConnectTimeout = 5 * time.Second
	defaultPollInterval   = time.Second
	defaultStatsInterval  = 5 * time.Second
	defaultFPS            = 25
)

// Config holds the application configuration.
type Config struct {
	Server         string
	Channel        string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	PollInterval   time.Duration
	// StatsInterval of 0 disables network stats reporting.
	StatsInterval time.Duration
	ICEServers    []string
	FPS           int
	LogLevel      logging.LogLevel
}

// Load reads configuration from a .env file (if present) and environment variables.
// Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, which reports whether a key is set.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := &Config{
		Server:         get("KRTC_SERVER"),
		Channel:        get("KRTC_CHANNEL"),
		RequestTimeout: defaultRequestTimeout,
		ConnectTimeout: defaultConnectTimeout,
		PollInterval:   defaultPollInterval,
		StatsInterval:  defaultStatsInterval,
		FPS:            defaultFPS,
		LogLevel:       logging.LogLevelInfo,
	}
	if cfg.Server == "" {
		return nil, fmt.Errorf("config: KRTC_SERVER environment variable is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = defaultChannel
	}

	durations := []struct {
		key      string
		dst      *time.Duration
		allowOff bool
	}{
		{"KRTC_REQUEST_TIMEOUT", &cfg.RequestTimeout, false},
		{"KRTC_CONNECT_TIMEOUT", &cfg.ConnectTimeout, false},
		{"KRTC_POLL_INTERVAL", &cfg.PollInterval, false},
		{"KRTC_STATS_INTERVAL", &cfg.StatsInterval, true},
	}
	for _, d := range durations {
		raw := get(d.key)
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", d.key, err)
		}
		if v < 0 || (v == 0 && !d.allowOff) {
			return nil, fmt.Errorf("config: %s: must be positive, got %s", d.key, raw)
		}
		*d.dst = v
	}

	if raw := get("KRTC_ICE_SERVERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.ICEServers = append(cfg.ICEServers, s)
			}
		}
	}

	if raw := get("KRTC_FPS"); raw != "" {
		fps, err := strconv.Atoi(raw)
		if err != nil || fps <= 0 {
			return nil, fmt.Errorf("config: KRTC_FPS: invalid frame rate %q", raw)
		}
		cfg.FPS = fps
	}

	if raw := get("KRTC_LOG_LEVEL"); raw != "" {
		lvl, err := parseLogLevel(raw)
		if err != nil {
			return nil, fmt.Errorf("config: KRTC_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = lvl
	}

	return cfg, nil
}

func parseLogLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(s) {
	case "trace":
		return logging.LogLevelTrace, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "warn":
		return logging.LogLevelWarn, nil
	case "error":
		return logging.LogLevelError, nil
	case "disabled":
		return logging.LogLevelDisabled, nil
	}
	return logging.LogLevelDisabled, fmt.Errorf("unknown level %q", s)
}

// LoggerFactory returns a pion logger factory at the configured level.
func (c *Config) LoggerFactory() logging.LoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = c.LogLevel
	return f
}
