package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/curioshelf/curio/cmd/curio/commands"
	"github.com/curioshelf/curio/logger"
)

var rootCmd = &cobra.Command{
	Use:   "curio",
	Short: "curio - collectibles marketplace backend",
	Long: `curio - collectibles marketplace backend.

Runs the curio API server and its background job queue, and provides
administrative commands for inspecting and managing jobs.

Available commands:
  serve  - Start the HTTP server with the embedded job queue
  worker - Run the job queue without the HTTP server
  jobs   - Inspect and manage background jobs

Examples:
  curio serve                      # API + job queue
  curio worker                     # dedicated worker process
  curio jobs list --status failed  # inspect failed jobs
  curio jobs retry-failed          # requeue all failed jobs`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit JSON logs instead of console output")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: curio.toml, searched upward)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.WorkerCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
