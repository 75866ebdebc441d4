// File: internal/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config holds the entire application configuration for both the intake API
// and the scan worker. It is populated by viper (config.yaml plus FORTRESS_
// prefixed environment variables) in cmd/root.go.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Worker   WorkerConfig   `mapstructure:"worker" yaml:"worker"`
	Scanner  ScannerConfig  `mapstructure:"scanner" yaml:"scanner"`
	Crawler  CrawlerConfig  `mapstructure:"crawler" yaml:"crawler"`
	Probes   ProbesConfig   `mapstructure:"probes" yaml:"probes"`
	Mailer   MailerConfig   `mapstructure:"mailer" yaml:"mailer"`
	Report   ReportConfig   `mapstructure:"report" yaml:"report"`
}

// LoggerConfig holds all the configuration for the zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig holds the Postgres connection details. Jobs, findings and
// the work queue all live in the same database.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ServerConfig configures the intake HTTP API.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// JobsPageSize bounds the admin job listing.
	JobsPageSize int `mapstructure:"jobs_page_size" yaml:"jobs_page_size"`
}

// WorkerConfig configures the queue consumer process.
type WorkerConfig struct {
	Concurrency  int           `mapstructure:"concurrency" yaml:"concurrency"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// ScannerConfig tunes external tool execution.
type ScannerConfig struct {
	// ScratchDir is bind-mounted into tool containers for file output.
	ScratchDir string `mapstructure:"scratch_dir" yaml:"scratch_dir"`

	StageTimeout   time.Duration `mapstructure:"stage_timeout" yaml:"stage_timeout"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes" yaml:"max_output_bytes"`

	// MaxBulkTargets caps how many discovered URLs the heavy stages visit.
	MaxBulkTargets int `mapstructure:"max_bulk_targets" yaml:"max_bulk_targets"`
}

// CrawlerConfig bounds the built-in crawl fallback.
type CrawlerConfig struct {
	MaxDepth       int           `mapstructure:"max_depth" yaml:"max_depth"`
	MaxPages       int           `mapstructure:"max_pages" yaml:"max_pages"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// Budget is the overall wall-clock cap for one crawl, independent of
	// the per-request timeout.
	Budget time.Duration `mapstructure:"budget" yaml:"budget"`
}

// ProbesConfig tunes the active-probe stages.
type ProbesConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec" yaml:"requests_per_sec"`
	MaxProbeURLs   int           `mapstructure:"max_probe_urls" yaml:"max_probe_urls"`
}

// MailerConfig holds SMTP settings for report and decline notifications.
type MailerConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"-"`
	From     string `mapstructure:"from" yaml:"from"`
}

// ReportConfig configures PDF report generation.
type ReportConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// Default returns a configuration with every tunable at its production
// default. Viper overlays file and environment values on top of this.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			ServiceName: "fortress",
			MaxSize:     50,
			MaxBackups:  3,
			MaxAge:      14,
		},
		Server: ServerConfig{
			Addr:         ":3001",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			JobsPageSize: 50,
		},
		Worker: WorkerConfig{
			Concurrency:  2,
			PollInterval: 2 * time.Second,
		},
		Scanner: ScannerConfig{
			ScratchDir:     "scans",
			StageTimeout:   10 * time.Minute,
			MaxOutputBytes: 8 << 20,
			MaxBulkTargets: 15,
		},
		Crawler: CrawlerConfig{
			MaxDepth:       3,
			MaxPages:       50,
			RequestTimeout: 5 * time.Second,
			Budget:         60 * time.Second,
		},
		Probes: ProbesConfig{
			RequestTimeout: 5 * time.Second,
			RequestsPerSec: 10,
			MaxProbeURLs:   10,
		},
		Mailer: MailerConfig{
			Port: 587,
		},
		Report: ReportConfig{
			Dir: "reports",
		},
	}
}

// Validate rejects configurations that can only fail at runtime.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (FORTRESS_DATABASE_URL)")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Scanner.StageTimeout <= 0 {
		return fmt.Errorf("scanner.stage_timeout must be positive")
	}
	if c.Scanner.MaxOutputBytes <= 0 {
		return fmt.Errorf("scanner.max_output_bytes must be positive")
	}
	if c.Crawler.Budget <= 0 {
		return fmt.Errorf("crawler.budget must be positive")
	}
	if c.Server.JobsPageSize < 1 {
		return fmt.Errorf("server.jobs_page_size must be at least 1")
	}
	return nil
}
