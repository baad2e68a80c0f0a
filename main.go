package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "donation-service",
		Short:   "Cart checkout, payment reconciliation and withdrawal settlement",
		Version: Version,
		// Without a subcommand the HTTP API is started.
		RunE: runServe,
	}
	rootCmd.Flags().BoolVar(&serveWithWorker, "with-worker", false, "also consume the job queue in this process")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
