package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/eldtechnologies/liveagent/clients/go/liveagent"
	"github.com/eldtechnologies/liveagent/internal/config"
	"github.com/eldtechnologies/liveagent/internal/store"
)

var (
	cfgFile          string
	baseURLFlag      string
	nonceFlag        string
	storeFlag        string
	statusAddrFlag   string
	logLevelFlag     string
	pollIntervalFlag time.Duration
)

// execute is the main entry point called from main.
func execute(version, commit, date string) {
	rootCmd := &cobra.Command{
		Use:   "liveagent",
		Short: "Chat with a live support agent from the terminal",
		Long: "liveagent opens a live chat session with a site's support desk, waits for an agent\n" +
			"to accept it and relays messages both ways. Running it with no subcommand starts chat mode.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), version)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ~/.config/liveagent/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&baseURLFlag, "base-url", "", "chat server REST base URL, e.g. https://example.com/wp-json")
	rootCmd.PersistentFlags().StringVar(&nonceFlag, "nonce", "", "anti-forgery token sent with every request")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "session record backend: file, memory, redis, sqlite, postgres")
	rootCmd.PersistentFlags().StringVar(&statusAddrFlag, "status-addr", "", "serve local status endpoints on this address, e.g. 127.0.0.1:8089")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().DurationVar(&pollIntervalFlag, "poll-interval", 0, "delay between status polls")

	// Subcommands
	rootCmd.AddCommand(newChatCmd(version))
	rootCmd.AddCommand(newOnlineCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd(version, commit, date))

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig loads configuration, applying CLI flag overrides.
func initConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override config values
	if baseURLFlag != "" {
		cfg.BaseURL = baseURLFlag
	}
	if nonceFlag != "" {
		cfg.Nonce = nonceFlag
	}
	if storeFlag != "" {
		cfg.Store.Backend = storeFlag
	}
	if statusAddrFlag != "" {
		cfg.StatusAddr = statusAddrFlag
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	if pollIntervalFlag > 0 {
		cfg.PollInterval = pollIntervalFlag
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger writes to stderr so log lines never interleave with the transcript.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stderr).
			With().
			Timestamp().
			Logger()
	}
	return logger.Level(level)
}

func newClient(cfg *config.Config, logger zerolog.Logger) *liveagent.Client {
	client := liveagent.NewClient(cfg.BaseURL, cfg.Nonce)
	client.NonceHeader = cfg.NonceHeader
	client.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	client.Logger = logger.With().Str("component", "client").Logger()
	return client
}

// openSessionStore connects the configured backend and keys the record by
// this installation's visitor id.
func openSessionStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*liveagent.SessionStore, error) {
	backend, err := store.Open(ctx, store.Options{
		Kind:          cfg.Store.Backend,
		Path:          cfg.Store.Path,
		RedisURL:      cfg.Store.RedisURL,
		DatabaseURL:   cfg.Store.DatabaseURL,
		EncryptionKey: cfg.Store.EncryptionKey,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s session store: %w", cfg.Store.Backend, err)
	}

	visitorID, err := loadVisitorID(cfg.VisitorIDFile)
	if err != nil {
		backend.Close()
		return nil, err
	}

	logger.Debug().Str("backend", cfg.Store.Backend).Str("visitor_id", visitorID).Msg("session store ready")
	return liveagent.NewSessionStore(
		backend,
		liveagent.SessionKey(visitorID),
		cfg.Store.TTL,
		logger.With().Str("component", "store").Logger(),
	), nil
}

// loadVisitorID returns the id stored at path, creating one on first use.
func loadVisitorID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if id, perr := uuid.Parse(strings.TrimSpace(string(data))); perr == nil {
			return id.String(), nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("reading visitor id: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("creating visitor id directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("writing visitor id: %w", err)
	}
	return id, nil
}

func closeQuietly(c io.Closer) {
	_ = c.Close()
}
