package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"meetscribe-server/internal/platform/errors"
)

// DefaultPath is where Load looks when no path is set.
const DefaultPath = "config.yaml"

// Loader layers config sources: defaults, then the YAML file, then the
// environment.
type Loader struct {
	useDotEnv bool
	path      string
}

// NewLoader creates a loader reading DefaultPath and .env.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		path:      DefaultPath,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath overrides the YAML file location.
func (l *Loader) WithPath(path string) *Loader {
	if path != "" {
		l.path = path
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load builds the effective configuration. A missing file is not an error;
// defaults plus environment are used and Path reports "defaults".
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// .env is optional
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	path := l.path

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.KindConfig, "config.parse", fmt.Sprintf("parse %s", path), err)
		}
	case os.IsNotExist(err):
		path = "defaults"
	default:
		return nil, errors.Wrap(errors.KindConfig, "config.read", fmt.Sprintf("read %s", path), err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: path}, nil
}

type envBinding struct {
	key   string
	apply func(cfg *Config, value string) error
}

var envBindings = []envBinding{
	{"MEETSCRIBE_LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = v; return nil }},
	{"MEETSCRIBE_HTTP_PORT", func(c *Config, v string) error { return setInt(&c.Server.Port, v) }},
	{"MEETSCRIBE_WS_PORT", func(c *Config, v string) error { return setInt(&c.Transport.WebSocket.Port, v) }},
	{"MEETSCRIBE_STORAGE_DRIVER", func(c *Config, v string) error { c.Storage.Driver = v; return nil }},
	{"MEETSCRIBE_SQLITE_DSN", func(c *Config, v string) error { c.Storage.SQLite.DSN = v; return nil }},
	{"MEETSCRIBE_REDIS_ADDR", func(c *Config, v string) error { c.Storage.Redis.Addr = v; return nil }},
	{"MEETSCRIBE_REDIS_PASSWORD", func(c *Config, v string) error { c.Storage.Redis.Password = v; return nil }},
	{"MEETSCRIBE_AUTH_SECRET", func(c *Config, v string) error {
		c.Server.Auth.Secret = v
		c.Server.Auth.Enabled = v != ""
		return nil
	}},
	{"MEETSCRIBE_RECOGNIZER", func(c *Config, v string) error { c.Recognizer.Provider = v; return nil }},
	{"GOOGLE_APPLICATION_CREDENTIALS", func(c *Config, v string) error { c.Recognizer.CredentialsFile = v; return nil }},
	{"DOUBAO_APP_ID", func(c *Config, v string) error { c.Recognizer.Doubao.AppID = v; return nil }},
	{"DOUBAO_ACCESS_TOKEN", func(c *Config, v string) error { c.Recognizer.Doubao.AccessToken = v; return nil }},
	{"OPENAI_API_KEY", func(c *Config, v string) error {
		c.Insight.APIKey = v
		c.Insight.Enabled = v != ""
		return nil
	}},
	{"GPT_MODEL", func(c *Config, v string) error { c.Insight.Model = v; return nil }},
	{"MAX_TOKENS", func(c *Config, v string) error { return setInt(&c.Insight.MaxTokens, v) }},
}

func applyEnv(cfg *Config) error {
	for _, b := range envBindings {
		value, ok := os.LookupEnv(b.key)
		if !ok {
			continue
		}
		if err := b.apply(cfg, strings.TrimSpace(value)); err != nil {
			return errors.Wrap(errors.KindConfig, "config.env", "invalid "+b.key, err)
		}
	}
	return nil
}

func setInt(dst *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}

func (l *Loader) validate(cfg *Config) error {
	const op = "config.validate"
	if !validPort(cfg.Server.Port) {
		return errors.New(errors.KindConfig, op, fmt.Sprintf("invalid server port %d", cfg.Server.Port))
	}
	if cfg.Transport.WebSocket.Enabled && !validPort(cfg.Transport.WebSocket.Port) {
		return errors.New(errors.KindConfig, op, fmt.Sprintf("invalid websocket port %d", cfg.Transport.WebSocket.Port))
	}
	if cfg.Audio.NoiseThreshold <= 0 || cfg.Audio.NoiseThreshold >= 1 {
		return errors.New(errors.KindConfig, op, "audio.noise_threshold must be in (0,1)")
	}
	if cfg.Audio.TargetPeak <= 0 || cfg.Audio.TargetPeak > 1 {
		return errors.New(errors.KindConfig, op, "audio.target_peak must be in (0,1]")
	}
	if cfg.Audio.MaxDelay <= 0 {
		return errors.New(errors.KindConfig, op, "audio.max_delay must be positive")
	}
	if cfg.Session.QueueSize <= 0 {
		return errors.New(errors.KindConfig, op, "session.queue_size must be positive")
	}
	if cfg.Session.PollInterval <= 0 || cfg.Session.AudioTimeout <= 0 {
		return errors.New(errors.KindConfig, op, "session timers must be positive")
	}
	switch cfg.Storage.Driver {
	case "memory", "sqlite", "redis":
	default:
		return errors.New(errors.KindConfig, op, fmt.Sprintf("unsupported storage driver %q", cfg.Storage.Driver))
	}
	if cfg.Server.Auth.Enabled && cfg.Server.Auth.Secret == "" {
		return errors.New(errors.KindConfig, op, "server.auth.secret is required when auth is enabled")
	}
	return nil
}
