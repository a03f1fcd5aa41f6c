// Package policy decides which packages a mirror downloads.
//
// A policy is a list of package names ("author/name") or exact versions
// ("author/name@version"). Ids matching neither are marked ignored by the
// sync engine. A nil *Policy allows everything.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/bianoble/elm-mirror/internal/pkgid"
)

// Policy is an allow-list of package names and exact package versions.
type Policy struct {
	names    map[string]struct{}
	versions map[string]struct{}
}

// Load reads a policy file. An empty path returns a nil policy (allow all).
// The file is a JSON array of strings; comments and trailing commas are
// accepted.
func Load(path string) (*Policy, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading package list %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("package list %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a policy from JSON-with-comments.
func Parse(data []byte) (*Policy, error) {
	var entries []string
	if err := json.Unmarshal(jsonc.ToJSON(data), &entries); err != nil {
		return nil, fmt.Errorf("parsing package list: expected a JSON array of strings: %w", err)
	}
	return New(entries)
}

// New builds a policy from entries. Every entry must be "author/name" or
// "author/name@version"; all invalid entries are reported together.
func New(entries []string) (*Policy, error) {
	p := &Policy{
		names:    make(map[string]struct{}),
		versions: make(map[string]struct{}),
	}
	var bad []string
	for _, raw := range entries {
		e := strings.TrimSpace(raw)
		switch {
		case strings.Contains(e, "@"):
			id, err := pkgid.Parse(e)
			if err != nil {
				bad = append(bad, fmt.Sprintf("%q", raw))
				continue
			}
			p.versions[id.String()] = struct{}{}
		case pkgid.IsPackageName(e):
			p.names[e] = struct{}{}
		default:
			bad = append(bad, fmt.Sprintf("%q", raw))
		}
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("invalid package list entries %s: want \"author/name\" or \"author/name@version\"",
			strings.Join(bad, ", "))
	}
	return p, nil
}

// Merge returns a policy allowing everything either policy allows. Merging
// with a nil policy yields nil, since nil already allows everything.
func Merge(a, b *Policy) *Policy {
	if a == nil || b == nil {
		return nil
	}
	out := &Policy{
		names:    make(map[string]struct{}, len(a.names)+len(b.names)),
		versions: make(map[string]struct{}, len(a.versions)+len(b.versions)),
	}
	for _, src := range []*Policy{a, b} {
		for k := range src.names {
			out.names[k] = struct{}{}
		}
		for k := range src.versions {
			out.versions[k] = struct{}{}
		}
	}
	return out
}

// Allows reports whether id may be downloaded.
func (p *Policy) Allows(id pkgid.ID) bool {
	if p == nil {
		return true
	}
	if _, ok := p.names[id.PackageName()]; ok {
		return true
	}
	_, ok := p.versions[id.String()]
	return ok
}

// Entries returns the policy entries in sorted order.
func (p *Policy) Entries() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.names)+len(p.versions))
	for k := range p.names {
		out = append(out, k)
	}
	for k := range p.versions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
