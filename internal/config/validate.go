package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Pipeline.
//
// Path is a dotted path into the config (e.g. "storage.kind",
// "runtime.chunk_size"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var (
	knownSources  = map[string]struct{}{"file": {}, "http": {}}
	knownStorages = map[string]struct{}{"postgres": {}, "sqlite": {}, "mysql": {}, "mssql": {}}
	knownMetrics  = map[string]struct{}{"": {}, "none": {}, "pushgateway": {}, "datadog": {}}
	knownParserOK = map[string]struct{}{"comma": {}, "lazy_quotes": {}, "header_map": {}, "extra_column": {}}
)

// ValidatePipeline performs static validation of a Pipeline. It does not
// mutate p. Callers decide whether warnings are fatal.
//
// Example:
//
//	p, err := config.Load(path)
//	if err != nil { ... }
//	for _, iss := range config.ValidatePipeline(p) {
//	    fmt.Printf("%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
//	}
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it is used for metrics labeling and identifying runs",
		})
	}
	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validateParser(p.Parser)...)
	issues = append(issues, validateValidate(p.Validate)...)
	issues = append(issues, validateStorage(p.Storage)...)
	issues = append(issues, validateRuntime(p.Runtime)...)
	issues = append(issues, validateConnect(p.Connect)...)
	issues = append(issues, validateMetrics(p.Metrics)...)

	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		return append(issues, Issue{SeverityError, "source.kind", "source.kind must not be empty"})
	}
	if _, ok := knownSources[s.Kind]; !ok {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  fmt.Sprintf("unknown source kind %q (want file or http)", s.Kind),
		})
	}

	switch s.Kind {
	case "file":
		if strings.TrimSpace(s.File.Path) == "" {
			issues = append(issues, Issue{SeverityError, "source.file.path", "file source requires a non-empty path"})
		}
	case "http":
		if strings.TrimSpace(s.HTTP.URL) == "" {
			issues = append(issues, Issue{SeverityError, "source.http.url", "http source requires a non-empty url"})
		} else if !strings.HasPrefix(s.HTTP.URL, "http://") && !strings.HasPrefix(s.HTTP.URL, "https://") {
			issues = append(issues, Issue{SeverityError, "source.http.url", "url must start with http:// or https://"})
		}
		if s.HTTP.MaxRetries < 0 {
			issues = append(issues, Issue{SeverityError, "source.http.max_retries", "must be >= 0"})
		}
	}
	return issues
}

func validateParser(p Parser) []Issue {
	var issues []Issue

	if p.Kind != "csv" {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.kind",
			Message:  fmt.Sprintf("unsupported parser kind %q; only csv is implemented", p.Kind),
		})
	}
	if c := p.Options.String("comma", ","); len([]rune(c)) != 1 || c == "\"" || c == "\r" || c == "\n" {
		issues = append(issues, Issue{SeverityError, "parser.options.comma", fmt.Sprintf("invalid delimiter %q", c)})
	}
	for k := range p.Options {
		if _, ok := knownParserOK[k]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "parser.options." + k,
				Message:  "unknown csv option; it is ignored",
			})
		}
	}
	return issues
}

func validateValidate(v ValidateConfig) []Issue {
	switch v.CountryPolicy {
	case "", "iso", "lenient":
		return nil
	}
	return []Issue{{
		Severity: SeverityError,
		Path:     "validate.country_policy",
		Message:  fmt.Sprintf("unknown country policy %q (want iso or lenient)", v.CountryPolicy),
	}}
}

func validateStorage(s Storage) []Issue {
	var issues []Issue

	if _, ok := knownStorages[s.Kind]; !ok {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q (want postgres, sqlite, mysql or mssql)", s.Kind),
		})
	}
	if strings.TrimSpace(s.DB.DSN) == "" {
		issues = append(issues, Issue{SeverityError, "storage.db.dsn", "dsn must not be empty"})
	}
	if strings.ContainsAny(s.DB.Table, " ;\"'`") {
		issues = append(issues, Issue{SeverityError, "storage.db.table", fmt.Sprintf("invalid table name %q", s.DB.Table)})
	}
	if !s.DB.AutoCreateTable {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.db.auto_create_table",
			Message:  "table is not created automatically; it must exist with a unique key on ip_address",
		})
	}
	return issues
}

func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue
	if r.ChunkSize <= 0 {
		issues = append(issues, Issue{SeverityError, "runtime.chunk_size", "chunk_size must be > 0"})
	}
	if r.ValidateWorkers < 0 {
		issues = append(issues, Issue{SeverityError, "runtime.validate_workers", "validate_workers must be >= 0"})
	}
	return issues
}

func validateConnect(c ConnectConfig) []Issue {
	var issues []Issue
	if c.Attempts < 0 {
		issues = append(issues, Issue{SeverityError, "connect.attempts", "attempts must be >= 0"})
	}
	if c.DelayMillis < 0 {
		issues = append(issues, Issue{SeverityError, "connect.delay_ms", "delay_ms must be >= 0"})
	}
	return issues
}

func validateMetrics(m MetricsConfig) []Issue {
	if _, ok := knownMetrics[m.Backend]; !ok {
		return []Issue{{
			Severity: SeverityWarning,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q; metrics disabled", m.Backend),
		}}
	}
	return nil
}
