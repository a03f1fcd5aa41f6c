package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bianoble/elm-mirror/internal/pkgid"
	"github.com/bianoble/elm-mirror/internal/policy"
	"github.com/bianoble/elm-mirror/internal/registry"
	"github.com/bianoble/elm-mirror/internal/store"
)

// DefaultCheckpointEvery is how many processed packages trigger an
// intermediate registry save.
const DefaultCheckpointEvery = 10

// SyncEngine pulls new and previously failed packages from upstream into
// the content store and records their status in the registry.
type SyncEngine struct {
	Upstream        Upstream
	Store           *store.Store
	Registry        *registry.Registry
	Policy          *policy.Policy
	Logger          *slog.Logger
	CheckpointEvery int
}

// Sync runs one sync pass.
//
// Upstream ids are all parsed before the registry is touched; a malformed
// id aborts the run. Per-package failures are recorded as failed and do
// not abort the run. Cancellation is observed between packages only; when
// it happens the registry is saved and the remaining work keeps its status.
func (e *SyncEngine) Sync(ctx context.Context) (*SyncResult, error) {
	log := loggerOrDiscard(e.Logger)
	result := &SyncResult{}

	remote, err := e.Upstream.Since(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("fetching package list: %w", err)
	}
	for _, raw := range remote {
		if _, err := pkgid.Parse(raw); err != nil {
			return nil, fmt.Errorf("upstream package list: %w", err)
		}
	}
	log.Info("fetched package list", "packages", len(remote))

	catalog, err := e.Upstream.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching catalog: %w", err)
	}
	if err := e.Store.WriteCatalog(catalog); err != nil {
		return nil, err
	}

	result.New = e.Registry.PrependNew(remote)
	log.Info("found new packages", "count", len(result.New))

	isNew := make(map[string]bool, len(result.New))
	for _, id := range result.New {
		isNew[id] = true
	}
	// Pending entries that are not new were left behind by an interrupted run.
	for _, id := range e.Registry.WithStatus(registry.StatusPending) {
		if !isNew[id] {
			result.Retried = append(result.Retried, id)
		}
	}
	result.Retried = append(result.Retried, e.Registry.WithStatus(registry.StatusFailed)...)
	if len(result.Retried) > 0 {
		log.Info("retrying packages", "count", len(result.Retried))
	}

	candidates := make([]string, 0, len(result.New)+len(result.Retried))
	candidates = append(candidates, result.New...)
	candidates = append(candidates, result.Retried...)

	work := make([]pkgid.ID, 0, len(candidates))
	for _, raw := range candidates {
		id, err := pkgid.Parse(raw)
		if err != nil {
			// Only possible for a hand-edited registry entry.
			e.Registry.SetStatus(raw, registry.StatusFailed)
			result.Failed = append(result.Failed, PackageError{ID: raw, Err: err})
			continue
		}
		if !e.Policy.Allows(id) {
			e.Registry.SetStatus(raw, registry.StatusIgnored)
			result.Ignored = append(result.Ignored, raw)
			continue
		}
		work = append(work, id)
	}
	if len(result.Ignored) > 0 {
		log.Info("ignored packages outside the package list", "count", len(result.Ignored))
	}

	every := e.CheckpointEvery
	if every <= 0 {
		every = DefaultCheckpointEvery
	}

	// In-flight packages finish even if ctx is cancelled.
	pkgCtx := context.WithoutCancel(ctx)

	var interrupted error
	for i, id := range work {
		if err := ctx.Err(); err != nil {
			interrupted = err
			log.Warn("sync interrupted", "remaining", len(work)-i)
			break
		}

		log.Debug("syncing package", "id", id.String(), "n", i+1, "of", len(work))
		n, err := e.syncPackage(pkgCtx, id)
		result.Bytes += n
		if err != nil {
			e.Registry.SetStatus(id.String(), registry.StatusFailed)
			result.Failed = append(result.Failed, PackageError{ID: id.String(), Err: err})
			log.Warn("package failed", "id", id.String(), "error", err)
		} else {
			e.Registry.SetStatus(id.String(), registry.StatusSuccess)
			result.Succeeded = append(result.Succeeded, id.String())
		}

		if (i+1)%every == 0 {
			if err := e.Registry.Save(); err != nil {
				log.Error("checkpoint failed", "error", err)
			}
		}
	}

	if err := e.Registry.Save(); err != nil {
		return result, err
	}

	log.Info("sync complete",
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failed),
		"ignored", len(result.Ignored),
		"bytes", result.Bytes)

	if interrupted != nil {
		return result, fmt.Errorf("sync interrupted: %w", interrupted)
	}
	return result, nil
}

// syncPackage downloads one package and checks the archive digest against
// the upstream hash. It returns the number of bytes downloaded.
func (e *SyncEngine) syncPackage(ctx context.Context, id pkgid.ID) (int64, error) {
	ep, err := e.Upstream.Endpoint(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("fetching endpoint: %w", err)
	}

	manifest, err := e.Upstream.Manifest(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("fetching elm.json: %w", err)
	}

	archive, err := e.Upstream.Archive(ctx, ep.URL)
	if err != nil {
		return int64(len(manifest)), fmt.Errorf("downloading archive: %w", err)
	}
	n := int64(len(manifest) + len(archive))

	if err := e.Store.WriteArtifacts(id, manifest, ep.Hash, archive); err != nil {
		return n, err
	}

	actual, err := store.Digest(e.Store.ArtifactPath(id, store.ArchiveFile))
	if err != nil {
		return n, err
	}
	if actual != ep.Hash {
		return n, fmt.Errorf("hash mismatch: expected %s, got %s", ep.Hash, actual)
	}
	return n, nil
}
