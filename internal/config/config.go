// Package config defines the JSON configuration model for a geolocation
// ingestion run. A pipeline file is decoded with encoding/json into Pipeline;
// Load then layers a .env file and process environment on top and fills in
// defaults, so callers receive a fully resolved value.
//
// Example (trimmed):
//
//	{
//	  "job":      "geo_ingest",
//	  "source":   { "kind": "file", "file": { "path": "data/dump.csv" } },
//	  "parser":   { "kind": "csv", "options": { "comma": "," } },
//	  "validate": { "country_policy": "iso" },
//	  "storage":  { "kind": "postgres", "db": { "dsn": "...", "auto_create_table": true } },
//	  "runtime":  { "chunk_size": 10000, "validate_workers": 4 }
//	}
package config

import "time"

// Defaults applied by Resolve when a value is unset.
const (
	DefaultJob             = "geo_ingest"
	DefaultChunkSize       = 10000
	DefaultValidateWorkers = 1
	DefaultConnectAttempts = 5
	DefaultConnectDelay    = 5 * time.Second
	DefaultTable           = "geolocation_records"
)

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	// Job names the run; used for metrics labeling and logs.
	Job string `json:"job"`

	Source   Source         `json:"source"`
	Parser   Parser         `json:"parser"`
	Validate ValidateConfig `json:"validate"`
	Storage  Storage        `json:"storage"`
	Runtime  RuntimeConfig  `json:"runtime"`
	Connect  ConnectConfig  `json:"connect"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// Source identifies where the CSV comes from.
type Source struct {
	// Kind selects the source implementation: "file" or "http".
	Kind string `json:"kind"`

	File SourceFile `json:"file"`
	HTTP SourceHTTP `json:"http"`
}

// SourceFile holds configuration for the "file" source kind.
type SourceFile struct {
	Path string `json:"path"`
}

// SourceHTTP holds configuration for the "http" source kind.
type SourceHTTP struct {
	URL            string            `json:"url"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	MaxRetries     int               `json:"max_retries"`
	Headers        map[string]string `json:"headers"`
}

// Parser selects how raw bytes become rows. Only "csv" exists.
//
// Options keys for csv: comma (string), lazy_quotes (bool),
// header_map (object), extra_column (string).
type Parser struct {
	Kind    string  `json:"kind"`
	Options Options `json:"options"`
}

// ValidateConfig tunes the row validator.
type ValidateConfig struct {
	// CountryPolicy is "iso" (ISO 3166-1 alpha-2 membership) or "lenient"
	// (non-empty only). Empty means iso.
	CountryPolicy string `json:"country_policy"`
}

// Storage selects the sink for validated records.
type Storage struct {
	// Kind selects the backend: postgres, sqlite, mysql, mssql.
	Kind string   `json:"kind"`
	DB   DBConfig `json:"db"`
}

// DBConfig configures the DB sink.
type DBConfig struct {
	// DSN is the driver-specific connection string.
	DSN string `json:"dsn"`

	// Table defaults to geolocation_records.
	Table string `json:"table"`

	// AutoCreateTable creates the table and its unique key on startup.
	AutoCreateTable bool `json:"auto_create_table"`
}

// RuntimeConfig controls batching and validation fan-out.
type RuntimeConfig struct {
	ChunkSize       int `json:"chunk_size"`
	ValidateWorkers int `json:"validate_workers"`
}

// ConnectConfig is the store connection retry policy.
type ConnectConfig struct {
	Attempts    int  `json:"attempts"`
	DelayMillis int  `json:"delay_ms"`
	Exponential bool `json:"exponential"`
}

// Delay returns DelayMillis as a duration.
func (c ConnectConfig) Delay() time.Duration {
	return time.Duration(c.DelayMillis) * time.Millisecond
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	// Backend is "none", "pushgateway" or "datadog".
	Backend        string `json:"backend"`
	PushgatewayURL string `json:"pushgateway_url"`
	DatadogAddr    string `json:"datadog_addr"`
}
