package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chunkupload/internal/app"
	"chunkupload/internal/config"
	"chunkupload/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "chunkupload [flags] <file|dir>...",
	Short: "Upload files to a chunked upload service",
	Long: `A resumable chunked file uploader. Files are split into fixed-size chunks,
deduplicated by content hash, uploaded with bounded concurrency and merged on the
server. Interrupted uploads resume from the checkpoint database.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (YAML)")

	// Remote flags
	rootCmd.Flags().String("backend", "http", "Upload backend (http/s3)")
	rootCmd.Flags().String("base-url", "", "Upload service base URL")
	rootCmd.Flags().String("token", "", "Bearer token for the upload service")
	rootCmd.Flags().Duration("timeout", 10*time.Minute, "Per-request timeout")
	rootCmd.Flags().Int("retries", 0, "Transport-level retries per request")

	// S3 flags
	rootCmd.Flags().String("s3-endpoint", "", "S3 endpoint")
	rootCmd.Flags().String("s3-access-key", "", "S3 access key")
	rootCmd.Flags().String("s3-secret-key", "", "S3 secret key")
	rootCmd.Flags().Bool("s3-secure", false, "Use HTTPS for S3")
	rootCmd.Flags().String("bucket", "", "S3 bucket")
	rootCmd.Flags().String("prefix", "uploads", "S3 key prefix")

	// Upload flags
	rootCmd.Flags().String("chunk-size", "5MiB", "Chunk size (e.g. 5MiB)")
	rootCmd.Flags().Int("concurrency", 3, "Maximum number of files uploading at once")
	rootCmd.Flags().String("org-tag", "", "Organisation tag sent with every chunk")
	rootCmd.Flags().Bool("public", false, "Mark uploaded files as public")
	rootCmd.Flags().StringSlice("accept", nil, "Accepted file extensions (e.g. .pdf,.docx)")
	rootCmd.Flags().String("checkpoint", "./checkpoint.db", "Checkpoint database file (empty disables)")
	rootCmd.Flags().Bool("show-progress", true, "Show progress display")

	rootCmd.Flags().String("log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	uploader, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create uploader: %w", err)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Received shutdown signal, stopping uploads...")
		cancel()
	}()

	_, err = uploader.Run(ctx, args)

	if closeErr := uploader.Close(); closeErr != nil {
		log.Error("Error closing uploader", zap.Error(closeErr))
	}

	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
