// Package config provides configuration management for paperfetch.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for paperfetch.
type Config struct {
	// Sources contains the external bibliographic API configurations.
	Sources SourcesConfig `mapstructure:"sources"`
	// Download contains PDF acquisition settings.
	Download DownloadConfig `mapstructure:"download"`
	// Resolver contains identifier resolution settings.
	Resolver ResolverConfig `mapstructure:"resolver"`
	// Cache contains the filesystem cache settings.
	Cache CacheConfig `mapstructure:"cache"`
	// Storage contains the download manifest database settings.
	Storage StorageConfig `mapstructure:"storage"`
	// Server contains HTTP server settings for serve mode.
	Server ServerConfig `mapstructure:"server"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
}

// SourcesConfig holds configuration for all external bibliographic APIs.
type SourcesConfig struct {
	// PubMed contains E-utilities settings (esearch/esummary).
	PubMed PubMedConfig `mapstructure:"pubmed"`
	// EuropePMC contains Europe PMC REST settings.
	EuropePMC SourceConfig `mapstructure:"europepmc"`
	// CrossRef contains CrossRef works API settings.
	CrossRef CrossRefConfig `mapstructure:"crossref"`
}

// SourceConfig holds configuration for a single bibliographic API.
type SourceConfig struct {
	// Enabled controls whether this source is used.
	Enabled bool `mapstructure:"enabled"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the per-request timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// BurstSize is the token bucket burst size.
	BurstSize int `mapstructure:"burst_size"`
	// MaxResults is the maximum results per query.
	MaxResults int `mapstructure:"max_results"`
}

// PubMedConfig holds PubMed E-utilities settings.
type PubMedConfig struct {
	SourceConfig `mapstructure:",squash"`

	// APIKey raises the unauthenticated 3 req/s ceiling to 10 req/s
	// (loaded from PAPERFETCH_SOURCES_PUBMED_API_KEY, never from file).
	APIKey string `mapstructure:"-"`
	// Email identifies the caller to NCBI as requested by their usage policy.
	Email string `mapstructure:"email"`
}

// CrossRefConfig holds CrossRef works API settings.
type CrossRefConfig struct {
	SourceConfig `mapstructure:",squash"`

	// Mailto routes requests to the CrossRef polite pool. Optional.
	Mailto string `mapstructure:"mailto"`
}

// DownloadConfig holds PDF acquisition settings.
type DownloadConfig struct {
	// OutputDir is the directory PDFs are written to.
	OutputDir string `mapstructure:"output_dir"`
	// MaxWorkers bounds concurrent downloads (clamped to [1, 10]).
	MaxWorkers int `mapstructure:"max_workers"`
	// BaseDelay is the fixed pause before each download task.
	BaseDelay time.Duration `mapstructure:"base_delay"`
	// RandomDelay is the extra uniformly random pause added to BaseDelay.
	RandomDelay time.Duration `mapstructure:"random_delay"`
	// Timeout is the per-request timeout for PDF fetches.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum PDF requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxRetries is the retry budget for a single PDF request.
	MaxRetries int `mapstructure:"max_retries"`
	// MaxPDFSize caps a fetched document in bytes.
	MaxPDFSize int64 `mapstructure:"max_pdf_size"`
}

// ResolverConfig holds identifier resolution settings.
type ResolverConfig struct {
	// Rounds is the total number of PMID lookup rounds (1 initial + retries).
	Rounds int `mapstructure:"rounds"`
	// DOIFallback enables the CrossRef title fallback for DOI resolution.
	DOIFallback bool `mapstructure:"doi_fallback"`
	// MemoSize bounds the per-process DOI resolution memo.
	MemoSize int `mapstructure:"memo_size"`
}

// CacheConfig holds filesystem cache settings.
type CacheConfig struct {
	// Dir is the cache directory.
	Dir string `mapstructure:"dir"`
	// SearchTTL is how long search and fetch results are reused.
	SearchTTL time.Duration `mapstructure:"search_ttl"`
}

// StorageConfig holds download manifest database settings.
type StorageConfig struct {
	// Path is the SQLite database file path.
	Path string `mapstructure:"path"`
	// AutoMigrate runs pending schema migrations on open.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// ServerConfig holds HTTP server configuration for serve mode.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 127.0.0.1).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP API server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading the request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing the response.
	// SSE progress streams are exempted via per-route response controllers.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads configuration, preferring the given config file when set.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("PAPERFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/paperfetch")

		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// Config file not found is OK, we'll use env vars and defaults
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.Sources.PubMed.APIKey = os.Getenv("PAPERFETCH_SOURCES_PUBMED_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Sources defaults - PubMed.
	// NCBI allows at most 3 req/s without an API key; the pubmed client
	// raises this to 10 req/s on its own when a key is present.
	v.SetDefault("sources.pubmed.enabled", true)
	v.SetDefault("sources.pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("sources.pubmed.timeout", "30s")
	v.SetDefault("sources.pubmed.rate_limit", 3.0)
	v.SetDefault("sources.pubmed.burst_size", 1)
	v.SetDefault("sources.pubmed.max_results", 200)
	v.SetDefault("sources.pubmed.email", "")

	// Sources defaults - Europe PMC
	v.SetDefault("sources.europepmc.enabled", true)
	v.SetDefault("sources.europepmc.base_url", "https://www.ebi.ac.uk/europepmc/webservices/rest")
	v.SetDefault("sources.europepmc.timeout", "30s")
	v.SetDefault("sources.europepmc.rate_limit", 3.0)
	v.SetDefault("sources.europepmc.burst_size", 1)
	v.SetDefault("sources.europepmc.max_results", 200)

	// Sources defaults - CrossRef (used only for the DOI title fallback,
	// so the rate is the conservative 1 req/s of the original tool)
	v.SetDefault("sources.crossref.enabled", true)
	v.SetDefault("sources.crossref.base_url", "https://api.crossref.org")
	v.SetDefault("sources.crossref.timeout", "10s")
	v.SetDefault("sources.crossref.rate_limit", 1.0)
	v.SetDefault("sources.crossref.burst_size", 1)
	v.SetDefault("sources.crossref.mailto", "")

	// Download defaults
	v.SetDefault("download.output_dir", "data/pdfs")
	v.SetDefault("download.max_workers", 3)
	v.SetDefault("download.base_delay", "1s")
	v.SetDefault("download.random_delay", "500ms")
	v.SetDefault("download.timeout", "30s")
	v.SetDefault("download.rate_limit", 3.0)
	v.SetDefault("download.max_retries", 3)
	v.SetDefault("download.max_pdf_size", 100*1024*1024)

	// Resolver defaults
	v.SetDefault("resolver.rounds", 3)
	v.SetDefault("resolver.doi_fallback", true)
	v.SetDefault("resolver.memo_size", 10000)

	// Cache defaults
	v.SetDefault("cache.dir", "data/cache")
	v.SetDefault("cache.search_ttl", "24h")

	// Storage defaults
	v.SetDefault("storage.path", "data/paperfetch.db")
	v.SetDefault("storage.auto_migrate", true)

	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate sources
	for _, src := range []struct {
		name string
		cfg  SourceConfig
	}{
		{"pubmed", c.Sources.PubMed.SourceConfig},
		{"europepmc", c.Sources.EuropePMC},
		{"crossref", c.Sources.CrossRef.SourceConfig},
	} {
		if src.cfg.Enabled && src.cfg.BaseURL == "" {
			return fmt.Errorf("%s base_url is required when the source is enabled", src.name)
		}
		if src.cfg.RateLimit < 0 {
			return fmt.Errorf("%s rate_limit must not be negative", src.name)
		}
	}

	// Validate download config
	if c.Download.OutputDir == "" {
		return fmt.Errorf("download output_dir is required")
	}
	if c.Download.MaxWorkers < 0 {
		return fmt.Errorf("download max_workers must not be negative")
	}
	if c.Download.MaxPDFSize < 0 {
		return fmt.Errorf("download max_pdf_size must not be negative")
	}

	// Validate resolver config
	if c.Resolver.Rounds < 1 {
		return fmt.Errorf("resolver rounds must be at least 1")
	}

	// Validate storage config
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}
