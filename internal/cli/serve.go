package cli

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/photodedup/internal/worker"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the review service",
	Long: `Run the HTTP review service. On an empty store the first page of the
library is ingested at startup; new photos are picked up by the library
watcher.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (overrides settings)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if servePort > 0 {
		cfg.Port = servePort
	}

	log.Info().
		Str("version", Version).
		Msg("Starting photodedup")

	svc, err := worker.NewService(Version, cfg, log.Logger)
	if err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	<-ctx.Done()

	log.Info().Msg("Received shutdown signal")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
		return err
	}
	return nil
}
