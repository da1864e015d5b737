// Package config loads the process configuration from defaults, an
// optional YAML file, and MEETINGSCRAPER_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g.
// MEETINGSCRAPER_SERVER_PORT=9000.
const EnvPrefix = "MEETINGSCRAPER"

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Store    StoreConfig    `mapstructure:"store"`
	Feeds    FeedsConfig    `mapstructure:"feeds"`
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	Cluster  ClusterConfig  `mapstructure:"cluster"`
	Geocode  GeocodeConfig  `mapstructure:"geocode"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Coverage CoverageConfig `mapstructure:"coverage"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type FeedsConfig struct {
	// File is the path to the feed-list YAML.
	File string `mapstructure:"file"`
}

type ScrapeConfig struct {
	Geocode         bool          `mapstructure:"geocode"`
	GeocodeTimeout  time.Duration `mapstructure:"geocode_timeout"`
	StoreRetries    int           `mapstructure:"store_retries"`
	StoreRetryDelay time.Duration `mapstructure:"store_retry_delay"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	FetchRetries    int           `mapstructure:"fetch_retries"`
}

type ClusterConfig struct {
	// CellSizeDegrees is the indicator grid cell edge.
	CellSizeDegrees float64 `mapstructure:"cell_size_degrees"`
	// AttachThresholdKm is how far a new meeting may sit from an
	// existing indicator and still join it in incremental mode.
	AttachThresholdKm float64 `mapstructure:"attach_threshold_km"`
}

type GeocodeConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
}

type ArchiveConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Directory selects a local filesystem archive. Mutually exclusive
	// with Bucket.
	Directory       string `mapstructure:"directory"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

type CoverageConfig struct {
	// PopulationFile overrides the embedded census table when set.
	PopulationFile string `mapstructure:"population_file"`
}

// Load builds the configuration. path names a YAML config file and may
// be empty, in which case defaults plus environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	decode := func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
	if err := v.Unmarshal(&cfg, decode); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Geocode.RequestsPerSecond <= 0 {
		return fmt.Errorf("geocode.requests_per_second must be positive")
	}
	if c.Cluster.CellSizeDegrees <= 0 {
		return fmt.Errorf("cluster.cell_size_degrees must be positive")
	}
	if c.Cluster.AttachThresholdKm <= 0 {
		return fmt.Errorf("cluster.attach_threshold_km must be positive")
	}
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" && c.Archive.Directory == "" {
			return fmt.Errorf("archive.bucket or archive.directory is required when archive.enabled")
		}
		if c.Archive.Bucket != "" && c.Archive.Directory != "" {
			return fmt.Errorf("archive.bucket and archive.directory are mutually exclusive")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)

	v.SetDefault("store.path", "data/meetings.db")
	v.SetDefault("feeds.file", "feeds.yaml")

	v.SetDefault("scrape.geocode", true)
	v.SetDefault("scrape.geocode_timeout", 10*time.Second)
	v.SetDefault("scrape.store_retries", 3)
	v.SetDefault("scrape.store_retry_delay", 200*time.Millisecond)
	v.SetDefault("scrape.fetch_timeout", 60*time.Second)
	v.SetDefault("scrape.fetch_retries", 3)

	v.SetDefault("cluster.cell_size_degrees", 0.1)
	v.SetDefault("cluster.attach_threshold_km", 25.0)

	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.requests_per_second", 1.0)
	v.SetDefault("geocode.timeout", 10*time.Second)
	v.SetDefault("geocode.user_agent", "meeting-scraper/1.0")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.prefix", "meeting-scraper")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.region", "")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.profile", "")
	v.SetDefault("archive.access_key_id", "")
	v.SetDefault("archive.secret_access_key", "")
	v.SetDefault("archive.force_path_style", false)
	v.SetDefault("archive.directory", "")

	v.SetDefault("coverage.population_file", "")
}
