// Package cli provides the command-line interface for photodedup.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/photodedup/internal/config"
	"github.com/thebtf/photodedup/internal/worker"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Global flags
	configPath string
	logLevel   string
	libraryDir string

	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "photodedup",
	Short: "Find and review near-duplicate photos",
	Long: `photodedup groups photos taken close together in time whose visual
neighborhoods overlap, and lets you keep or remove each group.

Settings are read from ~/.photodedup/settings.yaml and PHOTODEDUP_* variables.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if libraryDir != "" {
			cfg.LibraryDir = libraryDir
		}
		return setupLogging(cfg.LogLevel, os.Stderr)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file (default ~/.photodedup/settings.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&libraryDir, "library", "l", "", "photo library directory")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func setupLogging(level string, out io.Writer) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// withRuntime builds the runtime for a one-shot command and closes it afterwards.
func withRuntime(fn func(ctx context.Context, rt *worker.Runtime) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := worker.Build(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close runtime")
		}
	}()
	return fn(ctx, rt)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
