package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Options tune a suite run. They can be set in code or loaded from YAML:
//
//	timeout: 2s
//	parallelism: 4
//	checks: [sequenceOfNextAndComplete, cancelOnSubscribe]
//	skip_probes: [fusedAsyncState]
//	log_level: debug
//	log_format: json
type Options struct {
	// Timeout bounds every probe verification. Zero uses the verifier default.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Parallelism is the number of scenarios run concurrently. Zero means 1.
	Parallelism int `yaml:"parallelism,omitempty"`

	// Checks restricts the run to the named checks. Empty runs all of them.
	Checks []string `yaml:"checks,omitempty"`

	// SkipProbes names probes that are not run.
	SkipProbes []string `yaml:"skip_probes,omitempty"`

	// LogLevel is one of debug, info, warn, error. Empty disables logging.
	LogLevel string `yaml:"log_level,omitempty"`

	// LogFormat is text or json. Empty means text.
	LogFormat string `yaml:"log_format,omitempty"`
}

// LoadOptions reads and validates a YAML options file.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("failed to read options file: %w", err)
	}
	return ParseOptions(data)
}

// ParseOptions decodes and validates YAML options. Unknown fields are
// rejected.
func ParseOptions(data []byte) (Options, error) {
	var o Options
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		return Options{}, &CheckError{Code: ErrCodeInvalidOptions, Message: "failed to parse YAML", Err: err}
	}
	if err := validateOptions(&o); err != nil {
		return Options{}, err
	}
	return o, nil
}

// validateOptions checks that every field holds a usable value.
func validateOptions(o *Options) error {
	if o.Timeout < 0 {
		return newCheckError(ErrCodeInvalidOptions, "timeout must be non-negative, got %s", o.Timeout)
	}
	if o.Parallelism < 0 {
		return newCheckError(ErrCodeInvalidOptions, "parallelism must be non-negative, got %d", o.Parallelism)
	}
	for _, name := range o.Checks {
		if _, ok := ParseCheck(name); !ok {
			return newCheckError(ErrCodeInvalidOptions, "unknown check %q", name)
		}
	}
	for _, name := range o.SkipProbes {
		if _, ok := ParseProbe(name); !ok {
			return newCheckError(ErrCodeInvalidOptions, "unknown probe %q", name)
		}
	}
	if _, err := parseLevel(o.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(o.LogFormat) {
	case "", "text", "json":
	default:
		return newCheckError(ErrCodeInvalidOptions, "log format must be text or json, got %q", o.LogFormat)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, newCheckError(ErrCodeInvalidOptions, "unknown log level %q", s)
}

// NewLogger builds the logger described by the options, writing to w.
// Without a log level the logger discards everything.
func (o Options) NewLogger(w io.Writer) *slog.Logger {
	if o.LogLevel == "" || w == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	level, err := parseLevel(o.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(o.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (o Options) parallelism() int {
	if o.Parallelism <= 0 {
		return 1
	}
	return o.Parallelism
}

func (o Options) skips(p Probe) bool {
	for _, name := range o.SkipProbes {
		if name == p.String() {
			return true
		}
	}
	return false
}

// selects reports whether c is part of the run.
func (o Options) selects(c Check) bool {
	if len(o.Checks) == 0 {
		return true
	}
	for _, name := range o.Checks {
		if name == c.String() {
			return true
		}
	}
	return false
}
