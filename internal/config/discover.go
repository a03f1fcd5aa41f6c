package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// FileName is the default config file name.
const FileName = "elm-mirror.yaml"

// ConfigLevel is where a config layer comes from.
type ConfigLevel string

const (
	LevelSystem  ConfigLevel = "system"
	LevelUser    ConfigLevel = "user"
	LevelProject ConfigLevel = "project"
)

// ConfigLayerInfo describes one candidate config file.
type ConfigLayerInfo struct {
	Err    error // set when the file exists but could not be parsed
	Path   string
	Level  ConfigLevel
	Loaded bool
}

// DiscoverOptions selects the config layers to consider.
type DiscoverOptions struct {
	// ProjectPath is the --config file. It need not exist.
	ProjectPath string

	// SystemConfigPath and UserConfigPath replace the platform defaults
	// (/etc/elm-mirror and the user config dir). Point them at a missing
	// file to disable a layer.
	SystemConfigPath string
	UserConfigPath   string

	// NoInherit keeps only the project layer.
	NoInherit bool
}

// DiscoverPaths lists candidate config files from lowest precedence
// (system) to highest (project). A file reachable from two levels is only
// listed at the lower one.
func DiscoverPaths(opts DiscoverOptions) []ConfigLayerInfo {
	type candidate struct {
		level ConfigLevel
		path  string
	}
	var candidates []candidate
	if !opts.NoInherit {
		candidates = append(candidates,
			candidate{LevelSystem, firstNonEmpty(opts.SystemConfigPath, systemConfigPath())},
			candidate{LevelUser, firstNonEmpty(opts.UserConfigPath, userConfigPath())},
		)
	}
	candidates = append(candidates, candidate{LevelProject, opts.ProjectPath})

	seen := make(map[string]bool, len(candidates))
	layers := make([]ConfigLayerInfo, 0, len(candidates))
	for _, c := range candidates {
		if c.path == "" {
			continue
		}
		key := c.path
		if abs, err := filepath.Abs(c.path); err == nil {
			key = abs
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		layers = append(layers, ConfigLayerInfo{Path: c.path, Level: c.level})
	}
	return layers
}

// LoadLayered parses every discovered layer that exists, merges them over
// the defaults and validates the result. The returned layers report which
// files were read.
func LoadLayered(opts DiscoverOptions) (*Config, []ConfigLayerInfo, error) {
	layers := DiscoverPaths(opts)
	var configs []*Config

	for i := range layers {
		cfg, err := parseFile(layers[i].Path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			layers[i].Err = err
			return nil, layers, err
		}
		layers[i].Loaded = true
		configs = append(configs, cfg)
	}

	merged, err := withDefaults(configs...)
	if err != nil {
		return nil, layers, err
	}
	if errs := Validate(merged); len(errs) > 0 {
		return nil, layers, &ValidationError{Errors: errs}
	}
	return merged, layers, nil
}

func systemConfigPath() string {
	if runtime.GOOS == "windows" {
		root := os.Getenv("ProgramData")
		if root == "" {
			root = `C:\ProgramData`
		}
		return filepath.Join(root, "elm-mirror", FileName)
	}
	return filepath.Join("/etc", "elm-mirror", FileName)
}

// userConfigPath honors XDG_CONFIG_HOME on Linux via os.UserConfigDir.
func userConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "elm-mirror", FileName)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// EnvNoInherit reports whether ELM_MIRROR_NO_INHERIT is "1" or "true".
func EnvNoInherit() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ELM_MIRROR_NO_INHERIT"))) {
	case "1", "true":
		return true
	}
	return false
}
