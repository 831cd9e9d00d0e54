// Package config provides configuration management using Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/jobrunner/verdant/internal/domain"
	"github.com/jobrunner/verdant/internal/ports/output"
)

// Config holds all application configuration.
type Config struct {
	Raster   RasterConfig   `mapstructure:"raster"`
	Vector   VectorConfig   `mapstructure:"vector"`
	Zonal    ZonalConfig    `mapstructure:"zonal"`
	Output   OutputConfig   `mapstructure:"output"`
	Plot     PlotConfig     `mapstructure:"plot"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	TLS      TLSConfig      `mapstructure:"tls"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// RasterConfig describes the input scene and the derived index raster.
type RasterConfig struct {
	Input         string   `mapstructure:"input"`
	PositiveBand  int      `mapstructure:"positive_band"` // NIR
	NegativeBand  int      `mapstructure:"negative_band"` // red
	IndexOutput   string   `mapstructure:"index_output"`
	CreateOptions []string `mapstructure:"create_options"` // GDAL creation options, e.g. COMPRESS=DEFLATE
}

// VectorConfig describes the polygon layer to aggregate into.
type VectorConfig struct {
	Input string `mapstructure:"input"`
}

// ZonalConfig selects the statistic and the column it is written to.
type ZonalConfig struct {
	Statistic   string `mapstructure:"statistic"`
	OutputField string `mapstructure:"output_field"`
}

// OutputConfig describes the persisted vector layer.
type OutputConfig struct {
	Path         string `mapstructure:"path"`
	LayerName    string `mapstructure:"layer_name"`
	SpatialIndex bool   `mapstructure:"spatial_index"`
}

// PlotConfig holds the optional rendering steps.
type PlotConfig struct {
	Choropleth  string  `mapstructure:"choropleth"`   // output image of the map, empty to skip
	ControlFile string  `mapstructure:"control_file"` // scatter plot control file, empty to skip
	Width       float64 `mapstructure:"width"`        // inches
	Height      float64 `mapstructure:"height"`       // inches
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type      string      `mapstructure:"type"` // none, s3, azure, http, local
	LocalPath string      `mapstructure:"local_path"`
	WorkDir   string      `mapstructure:"work_dir"` // where inputs are staged and outputs written
	S3        S3Config    `mapstructure:"s3"`
	Azure     AzureConfig `mapstructure:"azure"`
	HTTP      HTTPConfig  `mapstructure:"http"`
}

// Enabled reports whether inputs are staged through an object store.
func (c *StorageConfig) Enabled() bool {
	return c.Type != "" && output.StorageType(c.Type) != output.StorageTypeNone
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxFeatures     int           `mapstructure:"max_features"` // cap of /api/v1/features
}

// TLSConfig serves the API over HTTPS with certificates obtained by CertMagic.
type TLSConfig struct {
	Enabled  bool         `mapstructure:"enabled"`
	Domains  []string     `mapstructure:"domains"`
	Email    string       `mapstructure:"email"`
	CacheDir string       `mapstructure:"cache_dir"`
	Staging  bool         `mapstructure:"staging"` // Let's Encrypt staging CA
	DNS      TLSDNSConfig `mapstructure:"dns"`
}

// TLSDNSConfig selects the Azure DNS-01 solver. Without a subscription the
// TLS-ALPN challenge on the server port is used.
type TLSDNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"` // user-assigned managed identity
}

// ScheduleConfig holds the periodic run configuration.
type ScheduleConfig struct {
	Interval   time.Duration `mapstructure:"interval"` // 0 disables the scheduler
	RunOnStart bool          `mapstructure:"run_on_start"`
}

// WatchConfig re-runs the pipeline when local inputs change.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Port      int    `mapstructure:"port"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
	Textfile  string `mapstructure:"textfile"` // node_exporter textfile written after one-shot runs
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Raster defaults
	viper.SetDefault("raster.positive_band", domain.DefaultPositiveBand)
	viper.SetDefault("raster.negative_band", domain.DefaultNegativeBand)
	viper.SetDefault("raster.index_output", "ndvi.tif")
	viper.SetDefault("raster.create_options", []string{})

	// Zonal defaults
	viper.SetDefault("zonal.statistic", domain.StatMean)
	viper.SetDefault("zonal.output_field", "mean_ndvi")

	// Output defaults
	viper.SetDefault("output.path", "parcels_ndvi.gpkg")
	viper.SetDefault("output.spatial_index", true)

	// Plot defaults
	viper.SetDefault("plot.width", 8.0)
	viper.SetDefault("plot.height", 6.0)

	// Storage defaults
	viper.SetDefault("storage.type", "none")
	viper.SetDefault("storage.local_path", "./data")
	viper.SetDefault("storage.work_dir", "./work")
	viper.SetDefault("storage.http.index_file", "index.txt")
	viper.SetDefault("storage.http.timeout", 5*time.Minute)

	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 5*time.Minute)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.max_features", 1000)

	// TLS defaults
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cache_dir", "./.certmagic")
	viper.SetDefault("tls.staging", false)

	// Schedule defaults
	viper.SetDefault("schedule.interval", time.Duration(0))
	viper.SetDefault("schedule.run_on_start", true)

	// Watch defaults
	viper.SetDefault("watch.enabled", false)
	viper.SetDefault("watch.debounce", 2*time.Second)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.namespace", "verdant")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix("VERDANT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/verdant")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(field, msg string) {
		result = multierror.Append(result, &domain.ConfigError{Field: field, Message: msg})
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", fmt.Sprintf("invalid port: %d", c.Server.Port))
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		add("metrics.port", fmt.Sprintf("invalid port: %d", c.Metrics.Port))
	}
	if c.Metrics.Enabled && c.Metrics.Port == c.Server.Port {
		add("metrics.port", "must differ from server.port")
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			add("tls.domains", "at least one domain is required")
		}
		if c.TLS.Email == "" {
			add("tls.email", "ACME account email is required")
		}
		if (c.TLS.DNS.SubscriptionID == "") != (c.TLS.DNS.ResourceGroupName == "") {
			add("tls.dns", "subscription_id and resource_group_name go together")
		}
	}

	if c.Raster.PositiveBand < 1 || c.Raster.NegativeBand < 1 {
		add("raster", "band numbers are 1-based")
	}
	if c.Raster.PositiveBand == c.Raster.NegativeBand {
		add("raster", "positive and negative band must differ")
	}
	if _, err := domain.ParseStatistic(c.Zonal.Statistic); err != nil {
		add("zonal.statistic", err.Error())
	}
	if strings.TrimSpace(c.Zonal.OutputField) == "" || domain.IsGeometryColumn(c.Zonal.OutputField) {
		add("zonal.output_field", "must be a non-empty attribute name")
	}
	if ext := strings.ToLower(filepath.Ext(c.Output.Path)); ext != ".gpkg" && ext != ".shp" {
		add("output.path", "must end in .gpkg or .shp")
	}

	if c.Watch.Enabled && c.Watch.Debounce <= 0 {
		add("watch.debounce", "must be positive")
	}
	if c.Schedule.Interval < 0 {
		add("schedule.interval", "must not be negative")
	}

	switch output.StorageType(c.Storage.Type) {
	case "", output.StorageTypeNone:
	case output.StorageTypeLocal:
		if c.Storage.LocalPath == "" {
			add("storage.local_path", "local storage path is required")
		}
	case output.StorageTypeS3:
		if c.Storage.S3.Bucket == "" {
			add("storage.s3.bucket", "S3 bucket is required")
		}
		if c.Storage.S3.Region == "" {
			add("storage.s3.region", "S3 region is required")
		}
	case output.StorageTypeAzure:
		if c.Storage.Azure.Container == "" {
			add("storage.azure.container", "azure container is required")
		}
		if c.Storage.Azure.AccountName == "" && c.Storage.Azure.ConnectionString == "" {
			add("storage.azure", "azure account name or connection string is required")
		}
	case output.StorageTypeHTTP:
		if c.Storage.HTTP.BaseURL == "" {
			add("storage.http.base_url", "HTTP base URL is required")
		}
	default:
		add("storage.type", fmt.Sprintf("unknown storage type: %s", c.Storage.Type))
	}

	return result.ErrorOrNil()
}

// RequireInputs checks that a run has something to read.
func (c *Config) RequireInputs() error {
	var result *multierror.Error
	if c.Raster.Input == "" {
		result = multierror.Append(result, &domain.ConfigError{Field: "raster.input", Message: "input raster is required"})
	}
	if c.Vector.Input == "" {
		result = multierror.Append(result, &domain.ConfigError{Field: "vector.input", Message: "input vector layer is required"})
	}
	return result.ErrorOrNil()
}

// RunRequest builds the pipeline request described by the configuration.
func (c *Config) RunRequest() domain.RunRequest {
	return domain.RunRequest{
		RasterPath:     c.Raster.Input,
		PositiveBand:   c.Raster.PositiveBand,
		NegativeBand:   c.Raster.NegativeBand,
		IndexPath:      c.Raster.IndexOutput,
		VectorPath:     c.Vector.Input,
		Statistic:      c.Zonal.Statistic,
		OutputField:    c.Zonal.OutputField,
		OutputPath:     c.Output.Path,
		LayerName:      c.Output.LayerName,
		ChoroplethPath: c.Plot.Choropleth,
		ControlFile:    c.Plot.ControlFile,
	}
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
