package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/randomizedcoder/go-trace-latency/internal/trace"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names, matching ValidationError.Field.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or the joined ValidationErrors.
func Validate(cfg *Config) error {
	var errs []error

	// Struct tag rules
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, ValidationError{
				Field:   fieldName(fe),
				Message: tagMessage(fe),
			})
		}
	}

	// Custom event pattern must compile with the expected groups
	if cfg.Pattern != "" {
		if _, err := trace.NewExtractor(cfg.Pattern); err != nil {
			errs = append(errs, ValidationError{
				Field:   "pattern",
				Message: err.Error(),
			})
		}
	}

	// Statistics document format comes from the extension
	if cfg.StatsOut != "" {
		switch strings.ToLower(filepath.Ext(cfg.StatsOut)) {
		case ".json", ".yaml", ".yml":
		default:
			errs = append(errs, ValidationError{
				Field:   "stats_out",
				Message: fmt.Sprintf("must end in .json, .yaml or .yml (got %q)", cfg.StatsOut),
			})
		}
	}

	// The MongoDB sink needs a database
	if cfg.MongoURI != "" && cfg.MongoDatabase == "" {
		errs = append(errs, ValidationError{
			Field:   "mongo_db",
			Message: "required when -mongo-uri is set",
		})
	}

	// Outputs must not overwrite each other
	outputs := map[string]string{}
	for field, path := range map[string]string{
		"out":          cfg.OutputCSV,
		"xlsx":         cfg.OutputXLSX,
		"stats_out":    cfg.StatsOut,
		"metrics_file": cfg.MetricsFile,
	} {
		if path == "" {
			continue
		}
		clean := filepath.Clean(path)
		if other, dup := outputs[clean]; dup {
			a, b := other, field
			if b < a {
				a, b = b, a
			}
			errs = append(errs, ValidationError{
				Field:   b,
				Message: fmt.Sprintf("same path as %s (%q)", a, path),
			})
			continue
		}
		outputs[clean] = field
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// fieldName strips the struct name and element index from a validator
// namespace: "Config.inputs[0]" becomes "inputs".
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		ns = rest
	}
	if i := strings.IndexByte(ns, '['); i >= 0 {
		ns = ns[:i]
	}
	return ns
}

// tagMessage turns a failed validator tag into a readable message.
func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be empty"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("at least %s required", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "oneof":
		return fmt.Sprintf("must be one of: %s (got %q)",
			strings.Join(strings.Fields(fe.Param()), ", "), fmt.Sprint(fe.Value()))
	case "uri":
		return fmt.Sprintf("must be a URI (got %q)", fmt.Sprint(fe.Value()))
	case "hostname_port":
		return fmt.Sprintf("must be host:port (got %q)", fmt.Sprint(fe.Value()))
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}
