package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jdziat/harvest-tasks/pkg/chain"
	"github.com/jdziat/harvest-tasks/pkg/core"
	"github.com/jdziat/harvest-tasks/pkg/kv"
)

// Version is reported by --version, the API index and node heartbeats.
var Version = "0.1.0"

var (
	dsn          string
	redisURL     string
	logLevel     string
	logFormat    string
	templatesDir string
)

var rootCmd = &cobra.Command{
	Use:     "harvest",
	Short:   "Queue, run and inspect task chains",
	Long:    `Harvest queues task chains in a shared key-value store, runs them on worker agents and reports their status and results.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		logger, err := newLogger(cmd.ErrOrStderr(), logLevel, logFormat)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&dsn, "dsn", envOr("HARVEST_DSN", "harvest.db"), "SQLite path or postgres:// URL of the store (env HARVEST_DSN)")
	flags.StringVar(&redisURL, "redis", envOr("HARVEST_REDIS", ""), "redis:// URL; takes precedence over --dsn (env HARVEST_REDIS)")
	flags.StringVar(&logLevel, "log-level", envOr("HARVEST_LOG_LEVEL", "info"), "debug, info, warn or error (env HARVEST_LOG_LEVEL)")
	flags.StringVar(&logFormat, "log-format", envOr("HARVEST_LOG_FORMAT", "text"), "text or json (env HARVEST_LOG_FORMAT)")
	flags.StringVar(&templatesDir, "templates", envOr("HARVEST_TEMPLATES", ""), "directory of chain template JSON files (env HARVEST_TEMPLATES)")

	rootCmd.AddCommand(serveCmd, workerCmd, enqueueCmd, statusCmd, resultCmd, awaitCmd, templatesCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

// store is a KV backend the CLI owns and must close.
type store interface {
	core.KVStore
	io.Closer
}

func openStore(ctx context.Context) (store, error) {
	if redisURL != "" {
		s, err := kv.OpenRedis(ctx, redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return s, nil
	}
	s, err := kv.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", dsn, err)
	}
	return s, nil
}

func loadTemplates() (*chain.Templates, error) {
	templates := chain.NewTemplates()
	if templatesDir == "" {
		return templates, nil
	}
	if err := templates.LoadFS(os.DirFS(templatesDir)); err != nil {
		return nil, fmt.Errorf("failed to load templates from %s: %w", templatesDir, err)
	}
	return templates, nil
}
