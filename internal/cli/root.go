// Package cli provides the command-line interface for parley.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/parley/internal/config"
	"github.com/raphaelgruber/parley/internal/metrics"
	"github.com/raphaelgruber/parley/internal/provider"
	"github.com/raphaelgruber/parley/internal/session"
	"github.com/raphaelgruber/parley/internal/store"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global state shared by subcommands
	cfg         config.Config
	logger      *slog.Logger
	closeLogger func() error
	registry    *provider.Registry
	collector   *metrics.Collector
	storeClient *store.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Local chat front-end for hosted and local language models",
	Long: `Parley is a local chat front-end that talks to hosted APIs (OpenAI,
Anthropic, Together, Bedrock), local daemons (Ollama, vLLM), and in-process
GGUF models through one conversation interface.

Model identifiers use a namespace prefix: "anthropic:claude-sonnet-4-5",
"ollama:llama3.1", "local:/path/to/weights.gguf". Identifiers without a
known prefix go to the OpenAI backend unchanged.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}

		logger, closeLogger = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		slog.SetDefault(logger)

		collector = metrics.NewCollector()
		registry = provider.NewDefaultRegistry(cmd.Context(), cfg)

		if cfg.StoreEnabled {
			storeClient, err = store.NewClient(cmd.Context(), store.Config{
				URL:       cfg.SurrealDBURL,
				Namespace: cfg.SurrealDBNamespace,
				Database:  cfg.SurrealDBDatabase,
				Username:  cfg.SurrealDBUser,
				Password:  cfg.SurrealDBPass,
			}, logger)
			if err != nil {
				// Chatting works without history; only the history command
				// hard-requires the store.
				logger.Warn("conversation store unavailable", "error", err)
				storeClient = nil
			} else if err := storeClient.InitSchema(cmd.Context()); err != nil {
				return fmt.Errorf("initialize schema: %w", err)
			}
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if storeClient != nil {
			if err := storeClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
			}
		}
		if closeLogger != nil {
			_ = closeLogger()
		}
	},
}

// sessionStore adapts the nullable store client to the session interface.
func sessionStore() session.Store {
	if storeClient == nil {
		return nil
	}
	return storeClient
}

// newSession builds a session from the shared registry with per-command
// overrides layered over the configured defaults.
func newSession(model, system string, temperature float64, maxTokens int, streaming bool) (*session.Session, error) {
	if model == "" {
		model = cfg.DefaultModel
	}
	if temperature == 0 {
		temperature = cfg.Temperature
	}
	if maxTokens == 0 {
		maxTokens = cfg.MaxTokens
	}

	return session.NewFromRegistry(registry, model, session.Options{
		Params: provider.Params{
			Temperature: temperature,
			MaxTokens:   maxTokens,
			Seed:        cfg.Seed,
		},
		Stream: streaming,
		Retry: session.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			InitialWait: cfg.RetryInitialWait,
			MaxWait:     cfg.RetryMaxWait,
			Multiplier:  cfg.RetryMultiplier,
		},
		Collector: collector,
		Store:     sessionStore(),
		Logger:    logger,
		System:    system,
	})
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
}
