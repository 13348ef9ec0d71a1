// Package config loads liveagent configuration.
//
// Sources, lowest to highest precedence: built-in defaults, the YAML file
// (~/.config/liveagent/config.yaml unless a path is given), a .env file in the
// working directory, LIVEAGENT_* environment variables. Command-line flags are
// applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the client.
type Config struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`

	// Chat server
	BaseURL        string        `yaml:"base_url"`
	Nonce          string        `yaml:"nonce"`
	NonceHeader    string        `yaml:"nonce_header"`
	Greeting       string        `yaml:"greeting"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Polling
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollFailures int           `yaml:"max_poll_failures"`

	Store StoreConfig `yaml:"store"`

	// VisitorIDFile holds the stable visitor id used to key the session record.
	VisitorIDFile string `yaml:"visitor_id_file"`

	// Local status server; disabled when empty.
	StatusAddr  string   `yaml:"status_addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// StoreConfig selects where the session record is kept.
type StoreConfig struct {
	Backend     string        `yaml:"backend"` // file | memory | redis | sqlite | postgres
	Path        string        `yaml:"path"`
	RedisURL    string        `yaml:"redis_url"`
	DatabaseURL string        `yaml:"database_url"`
	TTL         time.Duration `yaml:"ttl"`

	// EncryptionKey seals records at rest when set.
	EncryptionKey string `yaml:"encryption_key"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Env:             "development",
		LogLevel:        "info",
		NonceHeader:     "X-WP-Nonce",
		Greeting:        "Hi! I'd like to chat with an agent.",
		RequestTimeout:  15 * time.Second,
		PollInterval:    2500 * time.Millisecond,
		MaxPollFailures: 3,
		Store: StoreConfig{
			Backend: "file",
			TTL:     24 * time.Hour,
		},
		VisitorIDFile: filepath.Join(configDir(), "visitor_id"),
	}
}

// Load reads the YAML file at path, then .env and environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = filepath.Join(configDir(), "config.yaml")
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects values the client cannot run with.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		if !c.IsDevelopment() {
			return errors.New("base_url is required in production")
		}
		return errors.New("base_url is required (set LIVEAGENT_BASE_URL or --base-url)")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("base_url %q is not an http(s) URL", c.BaseURL)
	}
	if c.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("poll_interval %s is too short", c.PollInterval)
	}
	if c.MaxPollFailures < 1 {
		return fmt.Errorf("max_poll_failures must be at least 1, got %d", c.MaxPollFailures)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.Store.TTL <= 0 {
		return fmt.Errorf("store.ttl must be positive, got %s", c.Store.TTL)
	}

	switch c.Store.Backend {
	case "file", "memory", "sqlite":
	case "redis":
		if c.Store.RedisURL == "" {
			return errors.New("store.redis_url is required for the redis backend")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return errors.New("store.database_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func applyEnvOverrides(cfg *Config) error {
	setString(&cfg.Env, "LIVEAGENT_ENV")
	setString(&cfg.LogLevel, "LIVEAGENT_LOG_LEVEL")
	setString(&cfg.BaseURL, "LIVEAGENT_BASE_URL")
	setString(&cfg.Nonce, "LIVEAGENT_NONCE")
	setString(&cfg.NonceHeader, "LIVEAGENT_NONCE_HEADER")
	setString(&cfg.Greeting, "LIVEAGENT_GREETING")
	setString(&cfg.Store.Backend, "LIVEAGENT_STORE")
	setString(&cfg.Store.Path, "LIVEAGENT_STORE_PATH")
	setString(&cfg.Store.RedisURL, "LIVEAGENT_REDIS_URL")
	setString(&cfg.Store.DatabaseURL, "LIVEAGENT_DATABASE_URL")
	setString(&cfg.Store.EncryptionKey, "LIVEAGENT_STORE_KEY")
	setString(&cfg.VisitorIDFile, "LIVEAGENT_VISITOR_ID_FILE")
	setString(&cfg.StatusAddr, "LIVEAGENT_STATUS_ADDR")

	for key, dst := range map[string]*time.Duration{
		"LIVEAGENT_POLL_INTERVAL":   &cfg.PollInterval,
		"LIVEAGENT_REQUEST_TIMEOUT": &cfg.RequestTimeout,
		"LIVEAGENT_SESSION_TTL":     &cfg.Store.TTL,
	} {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv("LIVEAGENT_MAX_POLL_FAILURES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LIVEAGENT_MAX_POLL_FAILURES: %w", err)
		}
		cfg.MaxPollFailures = n
	}

	// Comma-separated origins
	if v := os.Getenv("LIVEAGENT_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
			}
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".liveagent"
	}
	return filepath.Join(home, ".config", "liveagent")
}
