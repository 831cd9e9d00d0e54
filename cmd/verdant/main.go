// Package main provides the entry point for the verdant vegetation index pipeline.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	httpAdapter "github.com/jobrunner/verdant/internal/adapters/http"
	"github.com/jobrunner/verdant/internal/app"
	"github.com/jobrunner/verdant/internal/application"
	"github.com/jobrunner/verdant/internal/config"
	"github.com/jobrunner/verdant/internal/domain"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

// errRunFailed makes the process exit non-zero after diagnostics were logged.
var errRunFailed = errors.New("run failed")

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "verdant",
	Short: "verdant - vegetation index zonal statistics",
	Long: `verdant derives a normalized-difference vegetation index from a multi-band
raster and aggregates it over polygon features.

Pipeline:
  - read bands 4 (NIR) and 3 (red) and compute (NIR - red) / (NIR + red)
  - write the index as a single-band Float32 GeoTIFF
  - compute a zonal statistic per polygon and store it as a new attribute
  - write the layer as a GeoPackage, optionally with a map and scatter plot

Inputs can be staged from local disk, AWS S3, Azure Blob Storage or HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once",
	RunE:  runOnce,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the status API and run the pipeline on schedule or on input changes",
	RunE:  runServer,
}

var fieldsCmd = &cobra.Command{
	Use:   "fields <layer> [field...]",
	Short: "Print attribute columns of a vector layer as CSV",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFields,
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize <layer> <field>",
	Short: "Print the mean of a numeric column",
	Args:  cobra.ExactArgs(2),
	RunE:  runSummarize,
}

var plotCmd = &cobra.Command{
	Use:   "plot <layer> <control-file>",
	Short: "Draw the scatter plot described by a Param,Value control file",
	Args:  cobra.ExactArgs(2),
	RunE:  runPlot,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("verdant %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

func init() {
	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "json", "log format (json, text)")

	// Pipeline flags
	pf.String("raster", "", "input multi-band raster")
	pf.String("vector", "", "input polygon layer (.shp or .gpkg)")
	pf.Int("nir-band", domain.DefaultPositiveBand, "band subtracted from (NIR)")
	pf.Int("red-band", domain.DefaultNegativeBand, "band subtracted (red)")
	pf.String("index-output", "ndvi.tif", "index raster output")
	pf.String("statistic", domain.StatMean, "zonal statistic (count, min, max, mean, sum, std, median, majority, minority, unique, range, nodata, nan, percentile_<q>)")
	pf.String("field", "mean_ndvi", "output attribute field")
	pf.StringP("output", "o", "parcels_ndvi.gpkg", "output vector layer")
	pf.String("map", "", "choropleth image of the output field")
	pf.String("control-file", "", "scatter plot control file")

	// Storage flags
	pf.String("storage-type", "none", "storage type (none, local, s3, azure, http)")
	pf.String("storage-path", "./data", "local storage path")
	pf.String("work-dir", "./work", "directory for staged inputs and outputs")

	// Server flags
	serveCmd.Flags().String("host", "0.0.0.0", "server host")
	serveCmd.Flags().Int("port", 8080, "server port")
	serveCmd.Flags().Duration("interval", 0, "run interval (0 disables the scheduler)")
	serveCmd.Flags().Bool("watch", false, "re-run when local inputs change")
	serveCmd.Flags().Bool("tls", false, "serve HTTPS with ACME certificates")
	serveCmd.Flags().StringSlice("tls-domains", nil, "domains for the TLS certificate")
	serveCmd.Flags().String("tls-email", "", "ACME account email")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", pf.Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", pf.Lookup("log-format"))
	_ = viper.BindPFlag("raster.input", pf.Lookup("raster"))
	_ = viper.BindPFlag("vector.input", pf.Lookup("vector"))
	_ = viper.BindPFlag("raster.positive_band", pf.Lookup("nir-band"))
	_ = viper.BindPFlag("raster.negative_band", pf.Lookup("red-band"))
	_ = viper.BindPFlag("raster.index_output", pf.Lookup("index-output"))
	_ = viper.BindPFlag("zonal.statistic", pf.Lookup("statistic"))
	_ = viper.BindPFlag("zonal.output_field", pf.Lookup("field"))
	_ = viper.BindPFlag("output.path", pf.Lookup("output"))
	_ = viper.BindPFlag("plot.choropleth", pf.Lookup("map"))
	_ = viper.BindPFlag("plot.control_file", pf.Lookup("control-file"))
	_ = viper.BindPFlag("storage.type", pf.Lookup("storage-type"))
	_ = viper.BindPFlag("storage.local_path", pf.Lookup("storage-path"))
	_ = viper.BindPFlag("storage.work_dir", pf.Lookup("work-dir"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("schedule.interval", serveCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("watch.enabled", serveCmd.Flags().Lookup("watch"))
	_ = viper.BindPFlag("tls.enabled", serveCmd.Flags().Lookup("tls"))
	_ = viper.BindPFlag("tls.domains", serveCmd.Flags().Lookup("tls-domains"))
	_ = viper.BindPFlag("tls.email", serveCmd.Flags().Lookup("tls-email"))

	rootCmd.AddCommand(runCmd, serveCmd, fieldsCmd, summarizeCmd, plotCmd, versionCmd)
}

// bootstrap loads the configuration, installs the logger and wires the application.
func bootstrap(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)
	httpAdapter.APIVersion = version

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing application: %w", err)
	}
	return a, nil
}

func runOnce(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	if err := a.Config.RequireInputs(); err != nil {
		return err
	}

	report := a.RunOnce(ctx)
	if !report.Success {
		return errRunFailed
	}

	if report.FieldMean != nil {
		fmt.Printf("mean %s: %g\n", report.OutputField, *report.FieldMean)
	}
	fmt.Printf("wrote %s (%d features, %d covered)\n", report.OutputPath, report.Features, report.Covered)
	return nil
}

func runServer(_ *cobra.Command, _ []string) error {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	cfg, logger := a.Config, a.Logger

	logger.Info("starting verdant",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"storage_type", cfg.Storage.Type,
		"tls", cfg.TLS.Enabled,
		"interval", cfg.Schedule.Interval,
	)

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address())
		if err := a.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("server error", "error", err)
	}
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

func runFields(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}

	agg, ok := application.NewZonalAggregator(cmd.Context(), args[0], a.Vectors, a.Rasters, a.Logger)
	if !ok {
		return errRunFailed
	}

	var fields []string
	if len(args) > 1 {
		fields = args[1:]
	}
	table, ok := application.NewAttributeTable(agg.Layer(), a.Logger).ExtractFields(fields)
	if !ok {
		return errRunFailed
	}

	w := csv.NewWriter(os.Stdout)
	_ = w.Write(table.Columns)
	for _, row := range table.Rows {
		rec := make([]string, len(row))
		for i, v := range row {
			rec[i] = formatValue(v)
		}
		_ = w.Write(rec)
	}
	w.Flush()
	return w.Error()
}

func runSummarize(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}

	agg, ok := application.NewZonalAggregator(cmd.Context(), args[0], a.Vectors, a.Rasters, a.Logger)
	if !ok {
		return errRunFailed
	}
	mean, ok := agg.SummarizeField(args[1])
	if !ok {
		return errRunFailed
	}

	fmt.Println(formatValue(mean))
	return nil
}

func runPlot(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}

	agg, ok := application.NewZonalAggregator(cmd.Context(), args[0], a.Vectors, a.Rasters, a.Logger)
	if !ok {
		return errRunFailed
	}
	table, ok := application.NewAttributeTable(agg.Layer(), a.Logger).ExtractFields(nil)
	if !ok {
		return errRunFailed
	}
	if !a.Pipeline.PlotFromControlFile(cmd.Context(), table, args[1]) {
		return errRunFailed
	}
	return nil
}

// formatValue renders an attribute for CSV output; missing values are empty.
func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		if math.IsNaN(x) {
			return "NaN"
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case string:
		return x
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
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
