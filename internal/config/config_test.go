package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidatesWithDatabaseURL(t *testing.T) {
	cfg := Default()
	cfg.Database.URL = "postgres://localhost:5432/fortress"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"missing database url", func(c *Config) { c.Database.URL = "" }, "database.url"},
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "worker.concurrency"},
		{"zero stage timeout", func(c *Config) { c.Scanner.StageTimeout = 0 }, "stage_timeout"},
		{"zero output cap", func(c *Config) { c.Scanner.MaxOutputBytes = 0 }, "max_output_bytes"},
		{"zero crawl budget", func(c *Config) { c.Crawler.Budget = 0 }, "crawler.budget"},
		{"zero page size", func(c *Config) { c.Server.JobsPageSize = 0 }, "jobs_page_size"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Database.URL = "postgres://localhost:5432/fortress"
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestDefaultBounds(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 60*time.Second, cfg.Crawler.Budget, "crawl must be wall-clock bounded by default")
	assert.Positive(t, cfg.Scanner.StageTimeout)
	assert.Positive(t, cfg.Probes.RequestTimeout)
}
