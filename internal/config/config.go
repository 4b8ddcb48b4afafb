// Package config loads application configuration from file and environment
// and surfaces runtime-mutable enrichment settings.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bull/docsnip/internal/enrich"
)

// Config is the application configuration resolved at startup.
type Config struct {
	StoreDSN string

	QdrantHost   string
	QdrantPort   int
	IndexEnabled bool

	FetchTimeout time.Duration
	MaxAttempts  int
	DelayFloor   time.Duration

	Concurrency int

	EnrichConcurrency int

	v *viper.Viper
}

// Load resolves configuration: defaults, then an optional docsnip.yaml in
// the working directory, then DOCSNIP_* environment overrides. Secrets
// (OPENAI_API_KEY) come from the environment only.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("store.dsn", "docsnip.db")
	v.SetDefault("index.enabled", false)
	v.SetDefault("index.qdrant_host", "localhost")
	v.SetDefault("index.qdrant_port", 6334)
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.delay_floor", "1s")
	v.SetDefault("crawl.concurrency", 3)
	v.SetDefault("enrich.enabled", false)
	v.SetDefault("enrich.model", enrich.DefaultModel)
	v.SetDefault("enrich.batch_size", enrich.DefaultBatchSize)
	v.SetDefault("enrich.concurrency", enrich.DefaultConcurrency)

	v.SetConfigName("docsnip")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DOCSNIP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := v.BindEnv("enrich.api_key", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind api key: %w", err)
	}
	if err := v.BindEnv("enrich.base_url", "OPENAI_BASE_URL"); err != nil {
		return nil, fmt.Errorf("bind base url: %w", err)
	}

	return &Config{
		StoreDSN:          v.GetString("store.dsn"),
		QdrantHost:        v.GetString("index.qdrant_host"),
		QdrantPort:        v.GetInt("index.qdrant_port"),
		IndexEnabled:      v.GetBool("index.enabled"),
		FetchTimeout:      v.GetDuration("fetch.timeout"),
		MaxAttempts:       v.GetInt("fetch.max_attempts"),
		DelayFloor:        v.GetDuration("fetch.delay_floor"),
		Concurrency:       v.GetInt("crawl.concurrency"),
		EnrichConcurrency: v.GetInt("enrich.concurrency"),
		v:                 v,
	}, nil
}

// EnrichmentSettings implements enrich.SettingsProvider. Values are re-read
// from viper (and through it, the environment) on every call, so a changed
// API key or model is observed by the next dispatched batch without restart.
func (c *Config) EnrichmentSettings() enrich.Settings {
	return enrich.Settings{
		Enabled:   c.v.GetBool("enrich.enabled"),
		APIKey:    c.v.GetString("enrich.api_key"),
		BaseURL:   c.v.GetString("enrich.base_url"),
		Model:     c.v.GetString("enrich.model"),
		BatchSize: c.v.GetInt("enrich.batch_size"),
	}
}
