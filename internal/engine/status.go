package engine

import (
	"github.com/bianoble/elm-mirror/internal/pkgid"
	"github.com/bianoble/elm-mirror/internal/registry"
	"github.com/bianoble/elm-mirror/internal/store"
)

// StatusEngine reports the state of the mirror.
type StatusEngine struct {
	Registry *registry.Registry
	Store    *store.Store
}

// StatusOptions filters the entries of a status report.
type StatusOptions struct {
	// Status limits Entries to one status. Empty means all.
	Status registry.Status
}

// Status returns per-status counts and the registry entries in order.
func (e *StatusEngine) Status(opts StatusOptions) *StatusReport {
	snap := e.Registry.Snapshot()
	report := &StatusReport{
		Total:      len(snap.Packages),
		Counts:     make(map[registry.Status]int, len(registry.Statuses)),
		HasCatalog: e.Store.HasCatalog(),
	}
	for _, s := range registry.Statuses {
		report.Counts[s] = 0
	}

	for _, entry := range snap.Packages {
		report.Counts[entry.Status]++
		if opts.Status != "" && entry.Status != opts.Status {
			continue
		}
		es := EntryStatus{ID: entry.ID, Status: entry.Status}
		if id, err := pkgid.Parse(entry.ID); err == nil {
			es.PURL = id.PURL()
		}
		report.Entries = append(report.Entries, es)
	}
	return report
}
