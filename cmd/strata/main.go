// Package main provides the entry point for the Strata spatial catalog.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/strata-gis/strata/internal/adapters/catalogdb"
	"github.com/strata-gis/strata/internal/app"
	"github.com/strata-gis/strata/internal/config"
	"github.com/strata-gis/strata/internal/migrate"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Strata - Versioned Spatial Catalog",
	Long: `Strata is a versioned spatial catalog service.

It stores vector layers and raster tile pyramids behind a REST API, with
an envelope index for spatial region queries and a reversible schema
migration engine for the catalog database.

Features:
  - Vector feature and raster tile ingest
  - Region queries backed by an R-tree envelope index
  - Power-of-two tile pyramids with level-0 completeness checks
  - Bundle ingest from local, AWS S3, Azure or HTTP storage
  - Versioned, reversible catalog schema migrations
  - TLS with automatic certificate management
  - Prometheus metrics`,
	RunE: runServer,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the catalog server",
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("Strata %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

var migrateTargetVersion int64

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Advance the catalog schema",
	Long:  "Applies pending schema migrations, up to --to or to the latest version.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, engine *migrate.Engine) error {
			target := engine.Plan().Latest()
			if cmd.Flags().Changed("to") {
				target = migrateTargetVersion
			}
			if err := engine.MigrateTo(ctx, target); err != nil {
				return err
			}
			current, err := engine.Current(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("schema at version %d\n", current)
			return nil
		})
	},
}

var revertCmd = &cobra.Command{
	Use:   "revert",
	Short: "Revert the catalog schema",
	Long:  "Walks applied migrations back to --to, failing if any lacks a reverse script.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !cmd.Flags().Changed("to") {
			return fmt.Errorf("revert requires an explicit --to version")
		}
		return withEngine(cmd.Context(), func(ctx context.Context, engine *migrate.Engine) error {
			if err := engine.Revert(ctx, migrateTargetVersion); err != nil {
				return err
			}
			current, err := engine.Current(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("schema at version %d\n", current)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the applied schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, engine *migrate.Engine) error {
			current, err := engine.Current(ctx)
			if err != nil {
				return err
			}
			records, err := engine.Records(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("current version: %d (latest: %d)\n", current, engine.Plan().Latest())
			for _, rec := range records {
				reverse := "irreversible"
				if rec.HasReverse {
					reverse = "reversible"
				}
				fmt.Printf("  %3d  %-40s  %s  %s\n",
					rec.Version, rec.Name, rec.AppliedAt.Format(time.RFC3339), reverse)
			}
			return nil
		})
	},
}

// withEngine opens the catalog database and hands a migration engine to
// the callback.
func withEngine(ctx context.Context, fn func(context.Context, *migrate.Engine) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	store, err := catalogdb.Open(ctx, cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("opening catalog database: %w", err)
	}
	defer func() { _ = store.Close() }()

	engine := migrate.NewEngine(store.DB(), catalogdb.MigrationPlan(), logger)
	if err := engine.EnsureRecordTable(ctx); err != nil {
		return err
	}
	return fn(ctx, engine)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")

	// Server flags
	rootCmd.Flags().String("host", "0.0.0.0", "server host")
	rootCmd.Flags().Int("port", 8080, "server port")
	rootCmd.Flags().Bool("tls", false, "enable TLS")
	rootCmd.Flags().StringSlice("tls-domains", nil, "TLS domains")
	rootCmd.Flags().String("tls-email", "", "TLS email for Let's Encrypt")

	// Catalog flags
	rootCmd.Flags().String("catalog", "./strata.db", "catalog database path")
	rootCmd.Flags().Bool("auto-migrate", true, "apply pending schema migrations on startup")

	// Storage flags
	rootCmd.Flags().String("storage-type", "local", "storage type (local, s3, azure, http)")
	rootCmd.Flags().String("storage-path", "./data", "local storage path")

	// CORS flags
	rootCmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("server.host", rootCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("tls.enabled", rootCmd.Flags().Lookup("tls"))
	_ = viper.BindPFlag("tls.domains", rootCmd.Flags().Lookup("tls-domains"))
	_ = viper.BindPFlag("tls.email", rootCmd.Flags().Lookup("tls-email"))
	_ = viper.BindPFlag("catalog.path", rootCmd.Flags().Lookup("catalog"))
	_ = viper.BindPFlag("catalog.auto_migrate", rootCmd.Flags().Lookup("auto-migrate"))
	_ = viper.BindPFlag("storage.type", rootCmd.Flags().Lookup("storage-type"))
	_ = viper.BindPFlag("storage.local_path", rootCmd.Flags().Lookup("storage-path"))
	_ = viper.BindPFlag("server.cors.allowed_origins", rootCmd.Flags().Lookup("cors"))

	migrateCmd.Flags().Int64Var(&migrateTargetVersion, "to", 0, "target schema version (default: latest)")
	revertCmd.Flags().Int64Var(&migrateTargetVersion, "to", 0, "target schema version")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(revertCmd)
	rootCmd.AddCommand(statusCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting Strata",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"catalog", cfg.Catalog.Path,
		"storage_type", cfg.Storage.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize application
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address())
		if err := application.Start(ctx); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		cancel()
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	logger.Info("shutting down server")
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(time.Now().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
