package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bianoble/elm-mirror/internal/config"
	"github.com/bianoble/elm-mirror/internal/logging"
	"github.com/bianoble/elm-mirror/pkg/elmmirror"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
)

// loadConfig discovers and merges the config layers, applies global flags
// and the given overrides, then validates the result.
func loadConfig(overrides ...func(*config.Config)) (*config.Config, error) {
	cfg, layers, err := config.LoadLayered(config.DiscoverOptions{
		ProjectPath: configPath,
		NoInherit:   config.EnvNoInherit(),
	})
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", configPath, err)
	}
	for _, l := range layers {
		if l.Loaded {
			detail("config: %s (%s)", l.Path, l.Level)
		}
	}

	if mirrorContent != "" {
		cfg.MirrorContent = mirrorContent
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	for _, o := range overrides {
		o(cfg)
	}

	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, &config.ValidationError{Errors: errs}
	}
	return cfg, nil
}

// newLogger builds the structured logger. Logs go to stderr so they never
// mix with command output.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(os.Stderr, logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
}

// openMirror creates the library client for cfg.
func openMirror(cfg *config.Config) (*elmmirror.Mirror, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	retries := cfg.MaxRetries()
	if retries == 0 {
		retries = elmmirror.NoRetries
	}
	return elmmirror.New(elmmirror.Options{
		MirrorDir:       cfg.MirrorContent,
		BaseURL:         cfg.BaseURL,
		Upstream:        cfg.Upstream,
		PackageList:     cfg.PackageList,
		Packages:        cfg.Packages,
		MetadataTimeout: cfg.Timeouts.Metadata,
		ArchiveTimeout:  cfg.Timeouts.Archive,
		Retries:         retries,
		Logger:          logger,
	})
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// humanBytes formats a byte count for display.
func humanBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// plural returns word with an "s" unless n is 1.
func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// info prints a line unless quiet mode is active.
func info(format string, args ...any) {
	if !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

// success prints a green line unless quiet mode is active.
func success(format string, args ...any) {
	if !quiet {
		_, _ = okColor.Printf(format+"\n", args...)
	}
}

// warn prints a yellow line unless quiet mode is active.
func warn(format string, args ...any) {
	if !quiet {
		_, _ = warnColor.Printf(format+"\n", args...)
	}
}

// detail prints a line only in verbose mode.
func detail(format string, args ...any) {
	if verbose {
		fmt.Printf("  "+format+"\n", args...)
	}
}

// errorf prints an error message to stderr.
func errorf(format string, args ...any) {
	_, _ = errColor.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
