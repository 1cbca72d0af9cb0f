package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/curioshelf/curio/errors"
	"github.com/curioshelf/curio/logger"
)

// WorkerCmd runs the job queue without the HTTP server.
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job queue without the HTTP server",
	Long: `Run a dedicated worker process: the job queue dispatches from the
configured database but no HTTP traffic is served. Run at most one process
with an active queue per database; SQLite has no cross-process claim.

Example:
  curio worker`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(cmd)
	},
}

func runWorker(cmd *cobra.Command) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	log := logger.Named("worker")

	if err := a.queue.Start(context.Background()); err != nil {
		return errors.Wrap(err, "failed to start job queue")
	}

	log.Infow("Worker running",
		"slots", a.cfg.Queue.MaxConcurrentJobs,
		"database", a.cfg.Database.Path)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infow("Shutdown signal received", "signal", sig.String())

	a.queue.Stop()
	return nil
}
