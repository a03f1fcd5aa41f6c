package engine

import (
	"context"
	"log/slog"

	"github.com/bianoble/elm-mirror/internal/registry"
	"github.com/bianoble/elm-mirror/internal/store"
)

// PruneEngine removes stored packages that the registry no longer backs.
type PruneEngine struct {
	Registry *registry.Registry
	Store    *store.Store
	Logger   *slog.Logger
}

// PruneOptions configures a prune operation.
type PruneOptions struct {
	DryRun bool
}

// Prune removes package directories with no registry entry or whose entry
// is ignored. Registry entries are never removed.
func (e *PruneEngine) Prune(ctx context.Context, opts PruneOptions) (*PruneResult, error) {
	log := loggerOrDiscard(e.Logger)
	result := &PruneResult{}

	ids, err := e.Store.PackageDirs()
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		status, ok := e.Registry.Status(id.String())
		if ok && status != registry.StatusIgnored {
			continue
		}

		if opts.DryRun {
			result.Removed = append(result.Removed, id.String())
			continue
		}

		if err := e.Store.RemovePackage(id); err != nil {
			result.Errors = append(result.Errors, PackageError{ID: id.String(), Err: err})
			continue
		}
		log.Debug("pruned package", "id", id.String())
		result.Removed = append(result.Removed, id.String())
	}

	return result, nil
}
