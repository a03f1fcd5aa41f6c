// Package pkgid parses and renders package identifiers of the form
// author/name@version.
package pkgid

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	packageurl "github.com/package-url/packageurl-go"
)

// ErrInvalidID is returned when a string is not a valid package identifier.
var ErrInvalidID = errors.New("invalid package id")

var idPattern = regexp.MustCompile(`^([^/]+)/([^@]+)@(.+)$`)

// ID identifies a single published version of a package.
type ID struct {
	Author  string
	Name    string
	Version string
}

// Parse parses an identifier like "elm/core@1.0.5".
func Parse(s string) (ID, error) {
	m := idPattern.FindStringSubmatch(s)
	if m == nil {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID{Author: m[1], Name: m[2], Version: m[3]}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// FromParts builds an ID from its path components, as found in
// /packages/<author>/<name>/<version>/ URLs. The result is validated by
// round-tripping it through Parse.
func FromParts(author, name, version string) (ID, error) {
	if strings.Contains(author, "/") || strings.Contains(name, "@") {
		return ID{}, fmt.Errorf("%w: %s/%s@%s", ErrInvalidID, author, name, version)
	}
	return Parse(author + "/" + name + "@" + version)
}

// String renders the canonical author/name@version form.
func (id ID) String() string {
	return id.Author + "/" + id.Name + "@" + id.Version
}

// PackageName returns the version-less author/name form.
func (id ID) PackageName() string {
	return id.Author + "/" + id.Name
}

// PURL renders the identifier as a package URL, e.g. pkg:elm/elm/core@1.0.5.
func (id ID) PURL() string {
	return packageurl.NewPackageURL("elm", id.Author, id.Name, id.Version, nil, "").ToString()
}

// IsPackageName reports whether s has the version-less author/name form.
func IsPackageName(s string) bool {
	author, name, ok := strings.Cut(s, "/")
	return ok && author != "" && name != "" &&
		!strings.Contains(name, "/") && !strings.Contains(s, "@")
}
