// Gmail attachment bulk downloader CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vishnu0414/email-attachment-download/internal/app"
)

var rootCmd = &cobra.Command{
	Use:   "attachment-downloader",
	Short: "Bulk-download Gmail attachments",
	Long: `Search a Gmail account for messages with attachments and retrieve
them in bulk: concurrent fetches with retry and backoff, content
deduplication, download history, and optional zip assembly.`,
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// Config resolves from the standard search locations (config.yaml,
	// config/config.yaml) with defaults as fallback.
	application, err := app.New("", logger)
	if err != nil {
		logger.Fatal("initialization failed", zap.Error(err))
	}

	rootCmd.AddCommand(application.AuthCommand())
	rootCmd.AddCommand(application.SearchCommand())
	rootCmd.AddCommand(application.DownloadCommand())
	rootCmd.AddCommand(application.HistoryCommand())
	rootCmd.AddCommand(application.ConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
