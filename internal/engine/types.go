package engine

import (
	"context"
	"log/slog"

	"github.com/bianoble/elm-mirror/internal/logging"
	"github.com/bianoble/elm-mirror/internal/pkgid"
	"github.com/bianoble/elm-mirror/internal/registry"
	"github.com/bianoble/elm-mirror/internal/upstream"
)

// Upstream is the subset of upstream.Client used by the sync engine.
type Upstream interface {
	Since(ctx context.Context, n int) ([]string, error)
	Catalog(ctx context.Context) ([]byte, error)
	Endpoint(ctx context.Context, id pkgid.ID) (*upstream.Endpoint, error)
	Manifest(ctx context.Context, id pkgid.ID) ([]byte, error)
	Archive(ctx context.Context, url string) ([]byte, error)
}

// PackageError represents an error associated with a specific package.
type PackageError struct {
	ID  string
	Err error
}

func (e PackageError) Error() string {
	return e.ID + ": " + e.Err.Error()
}

func (e PackageError) Unwrap() error {
	return e.Err
}

// SyncResult holds the outcome of a sync run.
type SyncResult struct {
	New       []string
	Retried   []string
	Ignored   []string
	Succeeded []string
	Failed    []PackageError
	Bytes     int64
}

// VerifyResult holds the outcome of a verify run.
type VerifyResult struct {
	Checked int
	Errors  []PackageError
}

// OK reports whether verification found no problems.
func (r *VerifyResult) OK() bool {
	return len(r.Errors) == 0
}

// EntryStatus describes one registry entry.
type EntryStatus struct {
	ID     string
	Status registry.Status
	PURL   string
}

// StatusReport summarizes the mirror state.
type StatusReport struct {
	Total      int
	Counts     map[registry.Status]int
	HasCatalog bool
	Entries    []EntryStatus
}

// PruneResult holds the outcome of a prune run.
type PruneResult struct {
	Removed []string
	Errors  []PackageError
}

func loggerOrDiscard(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return logging.Discard()
}
