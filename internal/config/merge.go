package config

import "fmt"

// Merge combines two configs where overlay takes precedence over base.
// This implements the hierarchical merge semantics:
//   - version: must agree if both declare it (non-zero); fatal error on mismatch
//   - scalars and durations: overlay wins when set (non-zero)
//   - watch_registry, retries: overlay wins when present, even if false or 0
//   - packages: union, base order first, duplicates dropped
func Merge(base, overlay *Config) (*Config, error) {
	if base == nil {
		return overlay, nil
	}
	if overlay == nil {
		return base, nil
	}

	result := *base

	if err := mergeVersion(base.Version, overlay.Version, &result.Version); err != nil {
		return nil, err
	}

	mergeString(&result.MirrorContent, overlay.MirrorContent)
	mergeString(&result.BaseURL, overlay.BaseURL)
	mergeString(&result.Upstream, overlay.Upstream)
	mergeString(&result.Listen.Host, overlay.Listen.Host)
	mergeString(&result.PackageList, overlay.PackageList)
	mergeString(&result.Log.Format, overlay.Log.Format)
	mergeString(&result.Log.Level, overlay.Log.Level)

	if overlay.Listen.Port != 0 {
		result.Listen.Port = overlay.Listen.Port
	}
	if overlay.SyncInterval != 0 {
		result.SyncInterval = overlay.SyncInterval
	}
	if overlay.Timeouts.Metadata != 0 {
		result.Timeouts.Metadata = overlay.Timeouts.Metadata
	}
	if overlay.Timeouts.Archive != 0 {
		result.Timeouts.Archive = overlay.Timeouts.Archive
	}
	if overlay.WatchRegistry != nil {
		v := *overlay.WatchRegistry
		result.WatchRegistry = &v
	}
	if overlay.Retries != nil {
		v := *overlay.Retries
		result.Retries = &v
	}

	result.Packages = unionStrings(base.Packages, overlay.Packages)

	return &result, nil
}

// MergeAll merges multiple configs in order (lowest precedence first).
// Returns an error if any version mismatch is found.
func MergeAll(configs []*Config) (*Config, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("no configs to merge")
	}

	result := configs[0]
	for i := 1; i < len(configs); i++ {
		var err error
		result, err = Merge(result, configs[i])
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func mergeVersion(base, overlay int, out *int) error {
	switch {
	case base == 0 && overlay == 0:
		*out = 0 // neither declares; validation will catch this
	case base == 0:
		*out = overlay
	case overlay == 0:
		*out = base
	case base == overlay:
		*out = base
	default:
		return fmt.Errorf("config version mismatch: one layer declares version %d, another declares version %d; all config layers must agree on version", base, overlay)
	}
	return nil
}

func mergeString(dst *string, overlay string) {
	if overlay != "" {
		*dst = overlay
	}
}

func unionStrings(base, overlay []string) []string {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(base)+len(overlay))
	var result []string
	for _, list := range [][]string{base, overlay} {
		for _, s := range list {
			if seen[s] {
				continue
			}
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}
