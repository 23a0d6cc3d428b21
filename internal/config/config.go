// Package config provides configuration management for trace-latency.
package config

// DefaultWorkers is used when no worker count is given or the given one is
// not a positive integer.
const DefaultWorkers = 4

// Config holds all configuration options for an analysis run.
type Config struct {
	// Inputs
	Inputs  []string `json:"inputs" validate:"min=1,dive,required"`
	Pattern string   `json:"pattern"` // custom event regexp; empty = built-in tracer format

	// Analysis
	Workers     int    `json:"workers" validate:"gte=1"`
	Strategy    string `json:"strategy" validate:"oneof=private shared"`
	KeyMode     string `json:"key_mode" validate:"oneof=local-remote peer"`
	MatchPolicy string `json:"match_policy" validate:"oneof=cross ordered"`
	SortRecords bool   `json:"sort_records"`

	// Outputs
	OutputCSV  string `json:"out"`       // "" disables
	OutputXLSX string `json:"xlsx"`      // "" disables
	StatsOut   string `json:"stats_out"` // .json, .yaml or .yml
	Detailed   bool   `json:"detailed"`  // percentile table in the report

	// MongoDB sink
	MongoURI       string `json:"mongo_uri" validate:"omitempty,uri"`
	MongoDatabase  string `json:"mongo_db"`
	MongoBatchSize int    `json:"mongo_batch_size" validate:"gte=1"`

	// Observability
	MetricsAddr     string `json:"metrics_addr" validate:"omitempty,hostname_port"`
	MetricsFile     string `json:"metrics_file"`
	PromPairMetrics bool   `json:"prom_pair_metrics"`
	Verbose         bool   `json:"verbose"`
	LogFormat       string `json:"log_format" validate:"oneof=json text"`
	LogLevel        string `json:"log_level" validate:"oneof=debug info warn error"`

	// Dashboard
	TUIEnabled bool `json:"tui"`

	// Diagnostic modes
	SkipPreflight bool `json:"skip_preflight"`
	ShowVersion   bool `json:"-"`

	// Warnings collected while parsing, logged once a logger exists.
	Warnings []string `json:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Analysis
		Workers:     DefaultWorkers,
		Strategy:    "private",
		KeyMode:     "local-remote",
		MatchPolicy: "cross",
		SortRecords: true,

		// Outputs
		OutputCSV: "messages.csv",

		// MongoDB
		MongoDatabase:  "trace_latency",
		MongoBatchSize: 1000,

		// Observability
		LogFormat: "json",
		LogLevel:  "info",

		// Dashboard
		TUIEnabled: true,
	}
}
