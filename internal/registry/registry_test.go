package registry

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

func newTestRegistry(t *testing.T, entries ...Entry) *Registry {
	t.Helper()
	r := New(filepath.Join(t.TempDir(), FileName))
	r.replace(entries)
	return r
}

func TestSetStatusThenStatus(t *testing.T) {
	tests := []struct {
		name    string
		initial []Entry
	}{
		{"empty", nil},
		{"present", []Entry{{ID: "a/b@1.0.0", Status: StatusFailed}}},
		{"others", []Entry{{ID: "x/y@1.0.0", Status: StatusSuccess}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t, tt.initial...)
			for _, s := range Statuses {
				r.SetStatus("a/b@1.0.0", s)
				got, ok := r.Status("a/b@1.0.0")
				if !ok || got != s {
					t.Errorf("Status after SetStatus(%s) = %q, %v", s, got, ok)
				}
			}
			// Upsert never duplicates.
			ids := 0
			for _, e := range r.Snapshot().Packages {
				if e.ID == "a/b@1.0.0" {
					ids++
				}
			}
			if ids != 1 {
				t.Errorf("entry count for id = %d, want 1", ids)
			}
		})
	}
}

func TestSetStatusAppendsUnknown(t *testing.T) {
	r := newTestRegistry(t, Entry{ID: "a/b@1.0.0", Status: StatusSuccess})
	r.SetStatus("c/d@1.0.0", StatusIgnored)

	snap := r.Snapshot()
	if len(snap.Packages) != 2 || snap.Packages[1].ID != "c/d@1.0.0" {
		t.Errorf("unexpected entries: %+v", snap.Packages)
	}
}

func TestStatusUnknown(t *testing.T) {
	r := newTestRegistry(t)
	if _, ok := r.Status("a/b@1.0.0"); ok {
		t.Error("expected unknown id")
	}
}

func TestPrependNewKeepsNewestFirst(t *testing.T) {
	r := newTestRegistry(t,
		Entry{ID: "old/one@1.0.0", Status: StatusSuccess},
	)

	added := r.PrependNew([]string{"new/c@3.0.0", "new/b@2.0.0", "old/one@1.0.0", "new/a@1.0.0"})

	wantAdded := []string{"new/c@3.0.0", "new/b@2.0.0", "new/a@1.0.0"}
	if !reflect.DeepEqual(added, wantAdded) {
		t.Errorf("added = %v, want %v", added, wantAdded)
	}

	want := []Entry{
		{ID: "new/c@3.0.0", Status: StatusPending},
		{ID: "new/b@2.0.0", Status: StatusPending},
		{ID: "new/a@1.0.0", Status: StatusPending},
		{ID: "old/one@1.0.0", Status: StatusSuccess},
	}
	if got := r.Snapshot().Packages; !reflect.DeepEqual(got, want) {
		t.Errorf("entries = %+v, want %+v", got, want)
	}

	// Index must follow the shifted positions.
	r.SetStatus("old/one@1.0.0", StatusFailed)
	if s, _ := r.Status("old/one@1.0.0"); s != StatusFailed {
		t.Errorf("status = %q after reindex", s)
	}
}

func TestPrependNewNothingNew(t *testing.T) {
	r := newTestRegistry(t, Entry{ID: "a/b@1.0.0", Status: StatusSuccess})
	if added := r.PrependNew([]string{"a/b@1.0.0"}); added != nil {
		t.Errorf("added = %v, want nil", added)
	}
	if r.Len() != 1 {
		t.Errorf("len = %d", r.Len())
	}
}

func TestSince(t *testing.T) {
	r := newTestRegistry(t,
		Entry{ID: "a/a@3.0.0", Status: StatusSuccess},
		Entry{ID: "a/a@2.0.0", Status: StatusSuccess},
		Entry{ID: "a/a@1.0.0", Status: StatusFailed},
	)
	total := r.Len()

	tests := []struct {
		n    int
		want []string
	}{
		{0, []string{"a/a@3.0.0", "a/a@2.0.0", "a/a@1.0.0"}},
		{total - 1, []string{"a/a@3.0.0"}},
		{total - 2, []string{"a/a@3.0.0", "a/a@2.0.0"}},
		{total, []string{}},
		{total + 10, []string{}},
	}
	for _, tt := range tests {
		got := r.Since(tt.n)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Since(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestWithStatusAndCounts(t *testing.T) {
	r := newTestRegistry(t,
		Entry{ID: "a/a@1.0.0", Status: StatusFailed},
		Entry{ID: "a/b@1.0.0", Status: StatusSuccess},
		Entry{ID: "a/c@1.0.0", Status: StatusFailed},
	)

	if got := r.WithStatus(StatusFailed); !reflect.DeepEqual(got, []string{"a/a@1.0.0", "a/c@1.0.0"}) {
		t.Errorf("WithStatus(failed) = %v", got)
	}
	counts := r.Counts()
	if counts[StatusFailed] != 2 || counts[StatusSuccess] != 1 || counts[StatusPending] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

func TestSaveOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	r := New(path)
	r.PrependNew([]string{"a/b@2.0.0", "a/b@1.0.0"})
	r.SetStatus("a/b@2.0.0", StatusSuccess)
	r.SetStatus("x/y@1.0.0", StatusIgnored)

	if err := r.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !reflect.DeepEqual(r.Snapshot(), reopened.Snapshot()) {
		t.Errorf("reopened = %+v, want %+v", reopened.Snapshot(), r.Snapshot())
	}
}

func TestReloadPicksUpPersistedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	served := New(path)
	if err := served.Save(); err != nil {
		t.Fatal(err)
	}

	writer, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	writer.PrependNew([]string{"a/b@1.0.0"})
	writer.SetStatus("a/b@1.0.0", StatusSuccess)

	// Unsaved changes are invisible to a reload.
	if err := served.Reload(); err != nil {
		t.Fatal(err)
	}
	if served.Len() != 0 {
		t.Fatalf("served saw unsaved state")
	}

	if err := writer.Save(); err != nil {
		t.Fatal(err)
	}
	if err := served.Reload(); err != nil {
		t.Fatal(err)
	}
	if s, ok := served.Status("a/b@1.0.0"); !ok || s != StatusSuccess {
		t.Errorf("after reload status = %q, %v", s, ok)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := newTestRegistry(t, Entry{ID: "a/b@1.0.0", Status: StatusPending})
	snap := r.Snapshot()
	snap.Packages[0].Status = StatusSuccess

	if s, _ := r.Status("a/b@1.0.0"); s != StatusPending {
		t.Errorf("mutating snapshot changed registry: %q", s)
	}
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	r := newTestRegistry(t)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			id := fmt.Sprintf("a/b@1.0.%d", i)
			r.PrependNew([]string{id})
			r.SetStatus(id, StatusSuccess)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			ids := r.Since(0)
			seen := make(map[string]bool, len(ids))
			for _, id := range ids {
				if seen[id] {
					t.Errorf("duplicate id %s observed", id)
					return
				}
				seen[id] = true
			}
		}
	}()
	wg.Wait()

	if r.Len() != 200 {
		t.Errorf("len = %d, want 200", r.Len())
	}
}
