package config

import "time"

// Config represents the elm-mirror.yaml configuration file.
type Config struct {
	Version       int           `yaml:"version"`
	MirrorContent string        `yaml:"mirror_content,omitempty"`
	BaseURL       string        `yaml:"base_url,omitempty"`
	Upstream      string        `yaml:"upstream,omitempty"`
	Listen        Listen        `yaml:"listen,omitempty"`
	SyncInterval  time.Duration `yaml:"sync_interval,omitempty"`
	PackageList   string        `yaml:"package_list,omitempty"`
	Packages      []string      `yaml:"packages,omitempty"`
	WatchRegistry *bool         `yaml:"watch_registry,omitempty"`
	Timeouts      Timeouts      `yaml:"timeouts,omitempty"`
	Retries       *int          `yaml:"retries,omitempty"`
	Log           Log           `yaml:"log,omitempty"`
}

// Listen is the address the HTTP server binds to.
type Listen struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// Timeouts are per-call upstream timeouts.
type Timeouts struct {
	Metadata time.Duration `yaml:"metadata,omitempty"`
	Archive  time.Duration `yaml:"archive,omitempty"`
}

// Log configures the structured logger.
type Log struct {
	Format string `yaml:"format,omitempty"` // "text", "json"
	Level  string `yaml:"level,omitempty"`  // "debug", "info", "warn", "error"
}

// Default values.
const (
	DefaultUpstream = "https://package.elm-lang.org"
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 8000
	DefaultRetries  = 3
)

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	retries := DefaultRetries
	watch := false
	return &Config{
		Version:       1,
		MirrorContent: ".",
		Upstream:      DefaultUpstream,
		Listen:        Listen{Host: DefaultHost, Port: DefaultPort},
		WatchRegistry: &watch,
		Timeouts: Timeouts{
			Metadata: 30 * time.Second,
			Archive:  120 * time.Second,
		},
		Retries: &retries,
		Log:     Log{Format: "text", Level: "info"},
	}
}

// Watch reports whether registry file watching is enabled.
func (c *Config) Watch() bool {
	return c.WatchRegistry != nil && *c.WatchRegistry
}

// MaxRetries returns the configured retry count, or the default.
func (c *Config) MaxRetries() int {
	if c.Retries == nil {
		return DefaultRetries
	}
	return *c.Retries
}
