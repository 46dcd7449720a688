// Package app provides application initialization and wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/strata-gis/strata/internal/adapters/catalogdb"
	httpAdapter "github.com/strata-gis/strata/internal/adapters/http"
	"github.com/strata-gis/strata/internal/adapters/metrics"
	"github.com/strata-gis/strata/internal/adapters/rastercodec"
	"github.com/strata-gis/strata/internal/adapters/storage"
	tlsAdapter "github.com/strata-gis/strata/internal/adapters/tls"
	"github.com/strata-gis/strata/internal/adapters/watcher"
	"github.com/strata-gis/strata/internal/application"
	"github.com/strata-gis/strata/internal/config"
	"github.com/strata-gis/strata/internal/crs"
	"github.com/strata-gis/strata/internal/envindex"
	"github.com/strata-gis/strata/internal/migrate"
	"github.com/strata-gis/strata/internal/ports/output"
	"github.com/strata-gis/strata/internal/pyramid"
)

// App holds all application components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Store         *catalogdb.Store
	Catalog       *application.Catalog
	HealthService *application.HealthService
	IngestService *application.IngestService
	Storage       output.ObjectStorage
	HTTPServer    *httpAdapter.Server
	TLSServer     *tlsAdapter.Server
	Watcher       *watcher.Watcher
	Metrics       *metrics.Collector
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("strata")
		metricsCollector = app.Metrics
	}

	// Open the catalog database
	store, err := catalogdb.Open(ctx, cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog database: %w", err)
	}
	app.Store = store

	// Wire the catalog facade. The nil check on the concrete provider
	// matters: assigning a nil *CRSProvider to the interface directly
	// would make the registry's provider non-nil and panic on lookup.
	var crsProvider crs.Provider
	if p := store.NewCRSProvider(); p != nil {
		crsProvider = p
	}
	index := envindex.New()
	engine := migrate.NewEngine(store.DB(), catalogdb.MigrationPlan(), logger)
	pyr := pyramid.NewStore(store, index, rastercodec.New(), logger)
	app.Catalog = application.NewCatalog(
		store,
		crs.NewRegistry(crsProvider),
		index,
		pyr,
		engine,
		metricsCollector,
		logger,
	)

	if cfg.Catalog.AutoMigrate {
		if err := app.Catalog.MigrateUp(ctx); err != nil {
			return nil, fmt.Errorf("migrating schema: %w", err)
		}
	}
	if err := app.Catalog.Open(ctx); err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	app.HealthService = application.NewHealthService(app.Catalog)

	// Initialize bundle ingest if enabled
	if cfg.Ingest.Enabled {
		objStore, err := initStorage(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("initializing storage: %w", err)
		}
		app.Storage = objStore
		app.IngestService = application.NewIngestService(
			app.Catalog,
			objStore,
			cfg.Ingest.Interval,
			logger,
		)
	}

	// Initialize HTTP server
	app.HTTPServer = httpAdapter.NewServer(
		cfg.Server,
		app.Catalog,
		app.HealthService,
		app.IngestService,
		logger,
	)

	// Mount metrics on the main router
	if app.Metrics != nil {
		app.HTTPServer.Router().Use(app.Metrics.Middleware)
		app.HTTPServer.Router().Handle(cfg.Metrics.Path, metrics.Handler())
	}

	// Initialize TLS server if enabled
	if cfg.TLS.Enabled {
		tlsServer, err := tlsAdapter.NewServer(
			tlsAdapter.Config{
				Enabled:  cfg.TLS.Enabled,
				Domains:  cfg.TLS.Domains,
				Email:    cfg.TLS.Email,
				CacheDir: cfg.TLS.CacheDir,
				Staging:  cfg.TLS.Staging,
				DNS: tlsAdapter.DNSConfig{
					SubscriptionID:    cfg.TLS.DNS.SubscriptionID,
					ResourceGroupName: cfg.TLS.DNS.ResourceGroupName,
					ClientID:          cfg.TLS.DNS.ClientID,
				},
			},
			app.HTTPServer.Router(),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("initializing TLS: %w", err)
		}
		app.TLSServer = tlsServer
	}

	// Initialize the bundle drop watcher
	if cfg.Ingest.Enabled && cfg.Ingest.WatchEnabled && cfg.Storage.Type == "local" {
		w, err := watcher.New(
			watcher.Config{
				Paths:    []string{cfg.Storage.LocalPath},
				Debounce: cfg.Ingest.WatchDebounce,
			},
			app.handleBundleEvent,
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize file watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// Start starts all application components.
func (a *App) Start(ctx context.Context) error {
	// Run an initial ingest pass, then the scheduler
	if a.IngestService != nil {
		if _, err := a.IngestService.Sync(ctx); err != nil {
			a.Logger.Warn("initial ingest pass failed", "error", err)
		}
		a.IngestService.Start(ctx)
	}

	// Start the bundle drop watcher
	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}

	// Start server
	if a.Config.TLS.Enabled && a.TLSServer != nil {
		return a.TLSServer.ListenAndServe(a.Config.Server.Address())
	}
	return a.HTTPServer.Start()
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	if a.IngestService != nil {
		a.IngestService.Stop()
	}

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
	}

	a.Catalog.Close()

	if err := a.Store.Close(); err != nil {
		a.Logger.Error("catalog database close error", "error", err)
	}

	return nil
}

// handleBundleEvent triggers an ingest pass when bundle files change in
// the local drop directory. The pass itself decides which manifests are
// new or changed.
func (a *App) handleBundleEvent(ctx context.Context, event watcher.Event) error {
	a.Logger.Info("bundle file event", "path", event.Path, "operation", event.Operation.String())

	if event.Operation == watcher.OpDelete {
		return nil
	}
	_, err := a.IngestService.Sync(ctx)
	return err
}

// initStorage initializes the appropriate storage adapter.
func initStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStorage, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocalStorage(cfg.LocalPath), nil

	case "s3":
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case "azure":
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		})

	case "http":
		return storage.NewHTTPStorage(storage.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		}), nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
