package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cosmossdk.io/log"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rollkit/l1-committer/node"
	rollconf "github.com/rollkit/l1-committer/pkg/config"
)

const shutdownTimeout = 5 * time.Second

// StartCmd runs the committer until it is interrupted.
var StartCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"run"},
	Short:   "Run the L2 to L1 committer",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := ParseConfig(cmd)
		if err != nil {
			return err
		}
		return StartNode(SetupLogger(cfg.Log), cmd, cfg)
	},
}

// ParseConfig is an helpers that loads the committer configuration and validates it.
func ParseConfig(cmd *cobra.Command) (rollconf.Config, error) {
	cfg, err := rollconf.Load(cmd)
	if err != nil {
		return rollconf.Config{}, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return rollconf.Config{}, fmt.Errorf("failed to validate config: %w", err)
	}

	return cfg, nil
}

// SetupLogger configures and returns a logger based on the provided configuration.
// It applies the following settings from the config:
//   - Log format (text or JSON)
//   - Log level (debug, info, warn, error)
//   - Stack traces for error logs
//
// The returned logger is already configured with the "module" field set to "main".
func SetupLogger(config rollconf.LogConfig) log.Logger {
	var opts []log.Option

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil {
		// Default to info if parsing fails
		level = zerolog.InfoLevel
	}
	opts = append(opts, log.LevelOption(level))

	if config.Format == "json" {
		opts = append(opts, log.OutputJSONOption())
	}
	if config.Trace {
		opts = append(opts, log.TraceOption(true))
	}

	return log.NewLogger(os.Stderr, opts...).With("module", "main")
}

// StartNode opens storage, connects to the chains and runs the committer
// until SIGINT or SIGTERM.
func StartNode(logger log.Logger, cmd *cobra.Command, cfg rollconf.Config) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	storage, err := node.OpenStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := storage.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()

	chains, err := node.SetupChains(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer chains.Close()

	metrics, gatherer := node.DefaultMetricsProvider(cfg.Instrumentation)()

	committer, err := node.NewNode(cfg, storage, chains.L1, chains.L2, metrics, gatherer, logger)
	if err != nil {
		return fmt.Errorf("failed to create committer: %w", err)
	}

	// Run the committer with graceful shutdown
	errCh := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("committer panicked: %v", r)
				logger.Error("Recovered from panic in committer", "panic", r)
				select {
				case errCh <- err:
				default:
					logger.Error("Error channel full", "error", err)
				}
			}
		}()

		err := committer.Run(ctx)
		select {
		case errCh <- err:
		default:
			logger.Error("Error channel full", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		logger.Info("shutting down committer...")
		cancel()
	case err := <-errCh:
		if err != nil {
			logger.Error("committer error", "error", err)
		}
		cancel()
		return err
	}

	// Wait for the committer to finish shutting down
	select {
	case <-time.After(shutdownTimeout):
		logger.Info("Committer shutdown timed out")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error during shutdown", "error", err)
			return err
		}
	}

	return nil
}
