package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/curioshelf/curio/errors"
	"github.com/curioshelf/curio/logger"
	"github.com/curioshelf/curio/server"
)

// ServeCmd starts the HTTP server with the embedded job queue.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server with the embedded job queue",
	Long: `Start the curio API server. The background job queue runs in-process:
jobs submitted through the API are dispatched by this process's worker slots.

The server shuts down gracefully on SIGINT/SIGTERM: the listener drains,
then the queue stops and in-flight jobs return to pending.

Example:
  curio serve
  curio serve --json-logs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func runServe(cmd *cobra.Command) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	log := logger.Named("serve")

	if err := a.queue.Start(context.Background()); err != nil {
		return errors.Wrap(err, "failed to start job queue")
	}
	defer a.queue.Stop()

	srv := server.New(a.cfg.Server, a.queue)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infow("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	}

	if err := srv.Shutdown(); err != nil {
		log.Errorw("HTTP shutdown failed", "error", err)
	}
	return nil
}
