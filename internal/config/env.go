package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "TRACE_LATENCY_"

// DefaultEnvFile is loaded when present.
const DefaultEnvFile = ".env"

// LoadEnvFile loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. An empty path means
// DefaultEnvFile, which may be absent; an explicit path must exist.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg fields from TRACE_LATENCY_* variables. Malformed
// values are reported as warnings and leave the field unchanged, except
// the worker count which falls back to DefaultWorkers.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return v, ok && v != ""
	}

	strVars := []struct {
		name string
		dst  *string
	}{
		{"STRATEGY", &cfg.Strategy},
		{"KEY_MODE", &cfg.KeyMode},
		{"MATCH", &cfg.MatchPolicy},
		{"PATTERN", &cfg.Pattern},
		{"OUT", &cfg.OutputCSV},
		{"XLSX", &cfg.OutputXLSX},
		{"STATS_OUT", &cfg.StatsOut},
		{"MONGO_URI", &cfg.MongoURI},
		{"MONGO_DB", &cfg.MongoDatabase},
		{"METRICS_ADDR", &cfg.MetricsAddr},
		{"METRICS_FILE", &cfg.MetricsFile},
		{"LOG_FORMAT", &cfg.LogFormat},
		{"LOG_LEVEL", &cfg.LogLevel},
	}
	for _, sv := range strVars {
		if v, ok := get(sv.name); ok {
			*sv.dst = v
		}
	}

	boolVars := []struct {
		name string
		dst  *bool
	}{
		{"SORT", &cfg.SortRecords},
		{"DETAILED", &cfg.Detailed},
		{"PROM_PAIR_METRICS", &cfg.PromPairMetrics},
		{"VERBOSE", &cfg.Verbose},
		{"TUI", &cfg.TUIEnabled},
	}
	for _, bv := range boolVars {
		v, ok := get(bv.name)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring %s%s=%q: not a boolean", EnvPrefix, bv.name, v))
			continue
		}
		*bv.dst = b
	}

	if v, ok := get("WORKERS"); ok {
		cfg.setWorkers(v)
	}
	if v, ok := get("MONGO_BATCH"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring %sMONGO_BATCH=%q: not an integer", EnvPrefix, v))
		} else {
			cfg.MongoBatchSize = n
		}
	}
}
