package enrich

// Settings are the mutable enrichment parameters. They are re-read from the
// provider at every batch dispatch, so a changed API key or model takes
// effect for subsequent batches without a component restart; in-flight
// batches complete under the configuration they were dispatched with.
type Settings struct {
	Enabled   bool
	APIKey    string
	BaseURL   string // overrides the service endpoint, empty means the default
	Model     string
	BatchSize int
}

// DefaultModel is used when the provider returns no model.
const DefaultModel = "gpt-4o-mini"

// DefaultBatchSize bounds how many snippets one request describes.
const DefaultBatchSize = 10

// SettingsProvider surfaces the current enrichment settings. Implementations
// must not cache externally mutable values between calls.
type SettingsProvider interface {
	EnrichmentSettings() Settings
}

// StaticSettings is a SettingsProvider returning fixed values, for tests and
// one-shot CLI runs.
type StaticSettings Settings

func (s StaticSettings) EnrichmentSettings() Settings { return Settings(s) }

func (s Settings) withDefaults() Settings {
	if s.Model == "" {
		s.Model = DefaultModel
	}
	if s.BatchSize <= 0 {
		s.BatchSize = DefaultBatchSize
	}
	return s
}
