// Command recordsearch indexes entity records and searches them with hybrid
// vector and keyword retrieval. It also serves the same operations over MCP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dshills/recordsearch-mcp/internal/config"
	"github.com/dshills/recordsearch-mcp/internal/engine"
	"github.com/dshills/recordsearch-mcp/internal/logging"
	"github.com/dshills/recordsearch-mcp/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	configPath string
	indexDir   string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "recordsearch",
	Short: "Hybrid search over entity records",
	Long: `recordsearch chunks entity records (one directory per entity, one text
file per document), embeds them into a flat vector index and a SQLite FTS5
keyword index, and answers queries by fusing both rankings.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.recordsearch/config.toml)")
	rootCmd.PersistentFlags().StringVar(&indexDir, "index-dir", "", "index directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error[%s]:", failureKind(err)), err)
		stop()
		os.Exit(exitCode(err))
	}
}

// loadConfig resolves the configuration with flag overrides applied
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if indexDir != "" {
		cfg.IndexDir = indexDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// setup loads the configuration and builds the logger. The logger also
// becomes the slog default.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openEngine opens the engine for a command; callers must Close it
func openEngine(ctx context.Context) (*engine.Engine, *slog.Logger, error) {
	cfg, logger, err := setup()
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.Open(ctx, cfg, engine.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return eng, logger, nil
}

func failureKind(err error) types.FailureKind {
	if kind := types.Classify(err); kind != "" {
		return kind
	}
	return types.FailureInternal
}

// exitCode maps failure kinds to distinct process exit codes
func exitCode(err error) int {
	switch types.Classify(err) {
	case types.FailureInput:
		return 2
	case types.FailureConfiguration, types.FailureLoad:
		return 3
	case types.FailureEmpty:
		return 4
	case types.FailureBusy:
		return 5
	case types.FailureCanceled:
		return 130
	default:
		return 1
	}
}
