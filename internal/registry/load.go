package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the registry file name inside the mirror directory.
const FileName = "registry.json"

// Load reads and validates a registry file. A missing file yields an empty
// registry; unreadable or corrupt files are returned as errors.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &File{Packages: []Entry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading registry %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing registry %s: %w", path, err)
	}
	if f.Packages == nil {
		f.Packages = []Entry{}
	}

	if errs := Validate(&f); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return &f, nil
}

// Save writes a registry file atomically: a uniquely named temp file in the
// same directory is fsynced and renamed over path, so concurrent savers
// (a cron sync next to a serving process) never share a temp file.
func Save(path string, f *File) error {
	if f.Packages == nil {
		f = &File{Packages: []Entry{}}
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling registry: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating registry directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".registry-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp registry: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing temp registry %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp registry %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp registry %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("setting registry permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp registry to %s: %w", path, err)
	}

	success = true
	return nil
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("registry validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a registry File for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(f *File) []string {
	var errs []string

	seen := make(map[string]bool, len(f.Packages))
	for i, e := range f.Packages {
		prefix := fmt.Sprintf("packages[%d]", i)
		if e.ID != "" {
			prefix = fmt.Sprintf("package '%s'", e.ID)
		}

		if e.ID == "" {
			errs = append(errs, fmt.Sprintf("%s: 'id' is required", prefix))
		} else if seen[e.ID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate id", prefix))
		} else {
			seen[e.ID] = true
		}

		if !e.Status.Valid() {
			errs = append(errs, fmt.Sprintf("%s: unknown status '%s' — must be one of: pending, success, failed, ignored", prefix, e.Status))
		}
	}

	return errs
}
