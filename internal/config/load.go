package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bianoble/elm-mirror/internal/policy"
)

// Load reads and validates a single elm-mirror.yaml file. Unset fields
// take their defaults.
func Load(path string) (*Config, error) {
	cfg, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	merged, err := withDefaults(cfg)
	if err != nil {
		return nil, err
	}
	if errs := Validate(merged); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return merged, nil
}

// parseFile decodes one config layer without validation. Relative paths
// in the file are resolved against the file's directory.
func parseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	cfg.MirrorContent = resolveRelative(dir, cfg.MirrorContent)
	cfg.PackageList = resolveRelative(dir, cfg.PackageList)
	return &cfg, nil
}

// withDefaults merges layers over Default. A config that never declares a
// version is treated as version 1.
func withDefaults(layers ...*Config) (*Config, error) {
	base := Default()
	base.Version = 0
	merged, err := MergeAll(append([]*Config{base}, layers...))
	if err != nil {
		return nil, err
	}
	if merged.Version == 0 {
		merged.Version = 1
	}
	return merged, nil
}

func resolveRelative(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a Config for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(cfg *Config) []string {
	var errs []string

	if cfg.Version != 1 {
		errs = append(errs, fmt.Sprintf("unsupported version %d: only version 1 is supported", cfg.Version))
	}

	if cfg.MirrorContent == "" {
		errs = append(errs, "'mirror_content' is required")
	}

	if cfg.BaseURL != "" {
		if msg := validateHTTPURL(cfg.BaseURL); msg != "" {
			errs = append(errs, fmt.Sprintf("base_url: %s", msg))
		}
	}
	if cfg.Upstream != "" {
		if msg := validateHTTPURL(cfg.Upstream); msg != "" {
			errs = append(errs, fmt.Sprintf("upstream: %s", msg))
		}
	}

	if cfg.Listen.Port < 0 || cfg.Listen.Port > 65535 {
		errs = append(errs, fmt.Sprintf("listen.port: %d is out of range 0-65535", cfg.Listen.Port))
	}

	if cfg.SyncInterval < 0 {
		errs = append(errs, fmt.Sprintf("sync_interval: must not be negative, got %s", cfg.SyncInterval))
	}
	if cfg.Timeouts.Metadata < 0 {
		errs = append(errs, fmt.Sprintf("timeouts.metadata: must not be negative, got %s", cfg.Timeouts.Metadata))
	}
	if cfg.Timeouts.Archive < 0 {
		errs = append(errs, fmt.Sprintf("timeouts.archive: must not be negative, got %s", cfg.Timeouts.Archive))
	}
	if cfg.Retries != nil && *cfg.Retries < 0 {
		errs = append(errs, fmt.Sprintf("retries: must not be negative, got %d", *cfg.Retries))
	}

	if len(cfg.Packages) > 0 {
		if _, err := policy.New(cfg.Packages); err != nil {
			errs = append(errs, fmt.Sprintf("packages: %v", err))
		}
	}

	switch cfg.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format: invalid format '%s', must be one of: text, json", cfg.Log.Format))
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level: invalid level '%s', must be one of: debug, info, warn, error", cfg.Log.Level))
	}

	return errs
}

func validateHTTPURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid URL %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Sprintf("URL %q has no host", raw)
	}
	return ""
}
