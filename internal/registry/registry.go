// Package registry holds the durable status ledger of mirrored packages.
//
// The in-memory Registry is shared between HTTP readers and the sync
// writer. A single mutex guards the entry list; it is never held across
// file or network I/O.
package registry

import (
	"fmt"
	"sync"
)

// Registry is the thread-safe in-memory form of a registry file.
type Registry struct {
	path string

	mu      sync.Mutex
	entries []Entry
	index   map[string]int

	// saveMu serializes writers of the temp file; it is independent of mu.
	saveMu sync.Mutex
}

// Open loads the registry at path. A missing file yields an empty registry.
func Open(path string) (*Registry, error) {
	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	r := &Registry{path: path}
	r.replace(f.Packages)
	return r, nil
}

// New returns an empty registry that persists to path.
func New(path string) *Registry {
	r := &Registry{path: path}
	r.replace(nil)
	return r
}

// Path returns the file the registry persists to.
func (r *Registry) Path() string {
	return r.path
}

// replace swaps the entry list. Callers must hold mu or own r exclusively.
func (r *Registry) replace(entries []Entry) {
	r.entries = make([]Entry, len(entries))
	copy(r.entries, entries)
	r.reindex()
}

func (r *Registry) reindex() {
	r.index = make(map[string]int, len(r.entries))
	for i, e := range r.entries {
		r.index[e.ID] = i
	}
}

// Status returns the status of id and whether it is known.
func (r *Registry) Status(id string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[id]
	if !ok {
		return "", false
	}
	return r.entries[i].Status, true
}

// SetStatus updates id in place, or appends it when it is not yet known.
func (r *Registry) SetStatus(id string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.index[id]; ok {
		r.entries[i].Status = status
		return
	}
	r.index[id] = len(r.entries)
	r.entries = append(r.entries, Entry{ID: id, Status: status})
}

// PrependNew inserts every id not already present as pending at the front
// of the list, keeping the order given (newest first). It returns the ids
// that were inserted.
func (r *Registry) PrependNew(ids []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var added []string
	seen := make(map[string]bool)
	for _, id := range ids {
		if _, ok := r.index[id]; ok || seen[id] {
			continue
		}
		seen[id] = true
		added = append(added, id)
	}
	if len(added) == 0 {
		return nil
	}

	entries := make([]Entry, 0, len(added)+len(r.entries))
	for _, id := range added {
		entries = append(entries, Entry{ID: id, Status: StatusPending})
	}
	r.entries = append(entries, r.entries...)
	r.reindex()
	return added
}

// WithStatus returns the ids currently in the given status, in registry order.
func (r *Registry) WithStatus(status Status) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for _, e := range r.entries {
		if e.Status == status {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// Since returns the first len-n ids in registry order, mirroring the
// upstream /all-packages/since/{n} semantics. It returns an empty, non-nil
// slice when n >= Len().
func (r *Registry) Since(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := len(r.entries)
	if n < 0 {
		n = 0
	}
	if n >= total {
		return []string{}
	}
	ids := make([]string, 0, total-n)
	for _, e := range r.entries[:total-n] {
		ids = append(ids, e.ID)
	}
	return ids
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Counts returns the number of entries per status.
func (r *Registry) Counts() map[Status]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[Status]int, len(Statuses))
	for _, e := range r.entries {
		counts[e.Status]++
	}
	return counts
}

// Snapshot returns a deep copy of the registry contents.
func (r *Registry) Snapshot() File {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return File{Packages: entries}
}

// Save persists a snapshot of the registry atomically.
func (r *Registry) Save() error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	snap := r.Snapshot()
	if err := Save(r.path, &snap); err != nil {
		return fmt.Errorf("saving registry: %w", err)
	}
	return nil
}

// Reload replaces the in-memory state with the persisted file. On error the
// current state is kept.
func (r *Registry) Reload() error {
	f, err := Load(r.path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.replace(f.Packages)
	return nil
}
