// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"

	"github.com/jobrunner/verdant/internal/adapters/geopackage"
	"github.com/jobrunner/verdant/internal/adapters/geotiff"
	httpAdapter "github.com/jobrunner/verdant/internal/adapters/http"
	"github.com/jobrunner/verdant/internal/adapters/metrics"
	"github.com/jobrunner/verdant/internal/adapters/plot"
	"github.com/jobrunner/verdant/internal/adapters/shapefile"
	"github.com/jobrunner/verdant/internal/adapters/storage"
	tlsAdapter "github.com/jobrunner/verdant/internal/adapters/tls"
	"github.com/jobrunner/verdant/internal/adapters/vectorstore"
	"github.com/jobrunner/verdant/internal/adapters/watcher"
	"github.com/jobrunner/verdant/internal/application"
	"github.com/jobrunner/verdant/internal/config"
	"github.com/jobrunner/verdant/internal/domain"
	"github.com/jobrunner/verdant/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Storage       output.ObjectStorage
	Rasters       *geotiff.Repository
	Vectors       *vectorstore.Store
	Plotter       *plot.Plotter
	Workspace     *application.Workspace
	Pipeline      *application.PipelineService
	Runs          *application.RunService
	Layers        *application.LayerService
	HealthService *application.HealthService
	HTTPServer    *httpAdapter.Server
	TLSServer     *tlsAdapter.Server
	Watcher       *watcher.Watcher
	Metrics       *metrics.Collector
	MetricsServer *metrics.Server
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize metrics
	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector(cfg.Metrics.Namespace)
		app.MetricsServer = metrics.NewServer(
			cfg.Metrics.Port,
			cfg.Metrics.Path,
			app.Metrics.Gatherer(),
			logger,
		)
		metricsCollector = app.Metrics
	}

	// Initialize storage adapter
	if cfg.Storage.Enabled() {
		store, err := initStorage(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("initializing storage: %w", err)
		}
		app.Storage = store
	}

	// Raster and vector adapters
	app.Rasters = geotiff.NewRepository(cfg.Raster.CreateOptions...)
	gpkg := geopackage.NewRepository(geopackage.Options{
		LayerName:    cfg.Output.LayerName,
		SpatialIndex: cfg.Output.SpatialIndex,
	})
	app.Vectors = vectorstore.New(map[string]output.VectorRepository{
		".gpkg": gpkg,
		".shp":  shapefile.NewRepository(),
	})
	app.Plotter = plot.New(cfg.Plot.Width, cfg.Plot.Height)

	// Application services
	workDir := cfg.Storage.WorkDir
	if !cfg.Storage.Enabled() {
		workDir = ""
	}
	app.Workspace = application.NewWorkspace(app.Storage, metricsCollector, logger, workDir)
	app.Pipeline = application.NewPipelineService(
		app.Rasters,
		app.Rasters,
		app.Vectors,
		app.Plotter,
		app.Workspace,
		metricsCollector,
		logger,
	)
	app.Runs = application.NewRunService(app.Pipeline, cfg.RunRequest(), cfg.Schedule.Interval, logger)
	app.Layers = application.NewLayerService(app.Runs, app.Vectors, logger)
	app.HealthService = application.NewHealthService(app.Runs, app.Storage)

	// Initialize HTTP server
	var middleware []mux.MiddlewareFunc
	if app.Metrics != nil {
		middleware = append(middleware, app.Metrics.Middleware)
	}
	app.HTTPServer = httpAdapter.NewServer(
		cfg.Server,
		app.HealthService,
		app.Runs,
		app.Layers,
		logger,
		middleware...,
	)

	// HTTPS replaces the plain listener when enabled
	if cfg.TLS.Enabled {
		srv, err := tlsAdapter.NewServer(cfg.TLS, cfg.Server, app.HTTPServer.Router(), logger)
		if err != nil {
			return nil, fmt.Errorf("initializing TLS: %w", err)
		}
		app.TLSServer = srv
	}

	// Initialize file watcher for re-runs on input changes
	if cfg.Watch.Enabled {
		w, err := watcher.New(
			app.watchConfig(),
			app.handleInputChange,
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

// RunOnce runs the configured pipeline a single time and exports metrics to
// the textfile when one is configured.
func (a *App) RunOnce(ctx context.Context) domain.RunReport {
	report := a.Runs.RunNow(ctx)

	if a.Metrics != nil && a.Config.Metrics.Textfile != "" {
		if err := a.Metrics.WriteToTextfile(a.Config.Metrics.Textfile); err != nil {
			a.Logger.Warn("failed to write metrics textfile", "path", a.Config.Metrics.Textfile, "error", err)
		}
	}
	return report
}

// Start starts all application components and blocks serving HTTP.
func (a *App) Start(ctx context.Context) error {
	// Start file watcher
	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}

	// Start metrics server in background
	if a.MetricsServer != nil {
		go func() {
			if err := a.MetricsServer.Start(); err != nil {
				a.Logger.Error("metrics server error", "error", err)
			}
		}()
	}

	// Initial run, then the scheduler
	if a.Config.Schedule.RunOnStart {
		go a.Runs.RunNow(ctx)
	}
	a.Runs.Start(ctx)

	if a.TLSServer != nil {
		return a.TLSServer.Start(ctx)
	}
	return a.HTTPServer.Start()
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	// Stop watcher
	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	// Stop scheduler
	a.Runs.Stop()

	// Shutdown metrics server
	if a.MetricsServer != nil {
		if err := a.MetricsServer.Shutdown(ctx); err != nil {
			a.Logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Shutdown HTTP server
	if a.TLSServer != nil {
		if err := a.TLSServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("HTTPS server shutdown error", "error", err)
		}
	} else if err := a.HTTPServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.Logger.Error("HTTP server shutdown error", "error", err)
	}

	// Remove staged copies of inputs that left storage
	if _, err := a.Workspace.Clean(ctx); err != nil {
		a.Logger.Warn("failed to clean workspace", "error", err)
	}

	return nil
}

// watchConfig watches the local inputs and ignores everything the pipeline writes.
func (a *App) watchConfig() watcher.Config {
	cfg := a.Config
	resolve := func(p string) string {
		if output.StorageType(cfg.Storage.Type) == output.StorageTypeLocal && !filepath.IsAbs(p) {
			return filepath.Join(cfg.Storage.LocalPath, p)
		}
		return p
	}

	var paths []string
	for _, p := range []string{cfg.Raster.Input, cfg.Vector.Input, cfg.Plot.ControlFile} {
		if p != "" {
			paths = append(paths, resolve(p))
		}
	}

	var ignore []string
	for _, p := range []string{cfg.Raster.IndexOutput, cfg.Output.Path, cfg.Plot.Choropleth} {
		if p != "" {
			ignore = append(ignore, a.Workspace.LocalPath(p), resolve(p))
		}
	}

	return watcher.Config{
		Paths:    paths,
		Ignore:   ignore,
		Match:    storage.IsDataFile,
		Debounce: cfg.Watch.Debounce,
	}
}

// handleInputChange re-runs the pipeline after inputs settled.
func (a *App) handleInputChange(ctx context.Context, events []watcher.Event) error {
	for _, e := range events {
		a.Logger.Info("input changed", "path", e.Path, "operation", e.Operation.String())
	}

	report := a.Runs.RunNow(ctx)
	if !report.Success {
		return fmt.Errorf("run %s halted at %s", report.ID, report.FailedStep)
	}
	return nil
}

// initStorage initializes the appropriate storage adapter.
func initStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStorage, error) {
	switch output.StorageType(cfg.Type) {
	case output.StorageTypeLocal:
		return storage.NewLocalStorage(cfg.LocalPath), nil

	case output.StorageTypeS3:
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case output.StorageTypeAzure:
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		})

	case output.StorageTypeHTTP:
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
