// Package store implements the on-disk layout of the mirror: per-package
// artifact sets under packages/<author>/<name>/<version>/ and the cached
// catalog snapshot.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bianoble/elm-mirror/internal/pkgid"
)

// Artifact file names.
const (
	ManifestFile = "elm.json"
	HashFile     = "hash.json"
	ArchiveFile  = "package.zip"

	// CatalogFile holds the upstream name -> versions index.
	CatalogFile = "all-packages"

	packagesDir = "packages"
)

var (
	// ErrNotFound is returned when an artifact or file does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTraversal is returned for paths that would escape the mirror root.
	ErrTraversal = errors.New("path traversal")
)

// HashRecord is the content of hash.json.
type HashRecord struct {
	Hash string `json:"hash"`
}

// Store maps package identifiers to directories under a mirror root.
// It applies no policy; callers consult the registry first.
type Store struct {
	root string
}

// New creates a Store rooted at dir. The directory is created if it does
// not exist.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, packagesDir), 0755); err != nil {
		return nil, fmt.Errorf("creating mirror directory %s: %w", dir, err)
	}
	return &Store{root: dir}, nil
}

// Root returns the mirror directory.
func (s *Store) Root() string {
	return s.root
}

// PackageDir returns packages/<author>/<name>/<version> under the root.
func (s *Store) PackageDir(id pkgid.ID) string {
	return filepath.Join(s.root, packagesDir, id.Author, id.Name, id.Version)
}

// ArtifactPath returns the path of a single artifact file of id.
func (s *Store) ArtifactPath(id pkgid.ID, name string) string {
	return filepath.Join(s.PackageDir(id), name)
}

// WriteArtifacts writes the artifact set of id. hash.json and elm.json are
// written in place; package.zip goes through a temp file and rename so it is
// either fully present or absent. A retry overwrites every file.
func (s *Store) WriteArtifacts(id pkgid.ID, manifest []byte, hash string, archive []byte) error {
	dir := s.PackageDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating package directory %s: %w", dir, err)
	}

	record, err := json.Marshal(HashRecord{Hash: hash})
	if err != nil {
		return fmt.Errorf("marshaling hash record: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, HashFile), record, 0644); err != nil {
		return fmt.Errorf("writing %s for %s: %w", HashFile, id, err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), manifest, 0644); err != nil {
		return fmt.Errorf("writing %s for %s: %w", ManifestFile, id, err)
	}
	if err := writeAtomic(filepath.Join(dir, ArchiveFile), archive); err != nil {
		return fmt.Errorf("writing %s for %s: %w", ArchiveFile, id, err)
	}
	return nil
}

// ReadArtifact returns the content of one artifact file of id.
func (s *Store) ReadArtifact(id pkgid.ID, name string) ([]byte, error) {
	path := s.ArtifactPath(id, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s for %s: %w", name, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// ReadHash parses hash.json of id and returns the recorded digest.
func (s *Store) ReadHash(id pkgid.ID) (string, error) {
	data, err := s.ReadArtifact(id, HashFile)
	if err != nil {
		return "", err
	}
	var rec HashRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("parsing %s for %s: %w", HashFile, id, err)
	}
	if rec.Hash == "" {
		return "", fmt.Errorf("parsing %s for %s: missing 'hash'", HashFile, id)
	}
	return rec.Hash, nil
}

// WriteCatalog replaces the catalog snapshot wholesale.
func (s *Store) WriteCatalog(data []byte) error {
	if err := writeAtomic(filepath.Join(s.root, CatalogFile), data); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	return nil
}

// ReadCatalog returns the catalog snapshot, or ErrNotFound if no sync has
// completed yet.
func (s *Store) ReadCatalog() ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, CatalogFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("catalog: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return data, nil
}

// HasCatalog reports whether a catalog snapshot exists.
func (s *Store) HasCatalog() bool {
	_, err := os.Stat(filepath.Join(s.root, CatalogFile))
	return err == nil
}

// ResolveStatic maps a URL path like /packages/a/n/v/elm.json to a regular
// file under the root. A ".." segment, or a symlink leading outside the
// root, is rejected with ErrTraversal. Dot files (including in-progress
// temp files) and directories are ErrNotFound.
func (s *Store) ResolveStatic(urlPath string) (string, error) {
	rel := strings.TrimPrefix(urlPath, "/")
	segments := strings.Split(rel, "/")
	for _, seg := range segments {
		if seg == ".." {
			return "", ErrTraversal
		}
	}
	if len(segments) < 2 || segments[0] != packagesDir {
		return "", ErrNotFound
	}
	for _, seg := range segments[1:] {
		if seg == "" || strings.HasPrefix(seg, ".") {
			return "", ErrNotFound
		}
	}

	path := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := confine(s.root, path); err != nil {
		if errors.Is(err, ErrTraversal) {
			return "", err
		}
		return "", ErrNotFound
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return path, nil
}

// RemovePackage deletes the artifact directory of id along with any parent
// directories left empty.
func (s *Store) RemovePackage(id pkgid.ID) error {
	dir := s.PackageDir(id)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing %s: %w", dir, err)
	}
	// Best effort; non-empty parents stay.
	nameDir := filepath.Dir(dir)
	if err := os.Remove(nameDir); err == nil {
		_ = os.Remove(filepath.Dir(nameDir))
	}
	return nil
}

// PackageDirs lists every author/name/version directory present on disk.
func (s *Store) PackageDirs() ([]pkgid.ID, error) {
	base := filepath.Join(s.root, packagesDir)
	var ids []pkgid.ID

	authors, err := os.ReadDir(base)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", base, err)
	}
	for _, a := range authors {
		if !a.IsDir() {
			continue
		}
		names, err := os.ReadDir(filepath.Join(base, a.Name()))
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", a.Name(), err)
		}
		for _, n := range names {
			if !n.IsDir() {
				continue
			}
			versions, err := os.ReadDir(filepath.Join(base, a.Name(), n.Name()))
			if err != nil {
				return nil, fmt.Errorf("listing %s/%s: %w", a.Name(), n.Name(), err)
			}
			for _, v := range versions {
				if !v.IsDir() {
					continue
				}
				ids = append(ids, pkgid.ID{Author: a.Name(), Name: n.Name(), Version: v.Name()})
			}
		}
	}
	return ids, nil
}

// writeAtomic writes content to path via a temp file in the same directory.
func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file to %s: %w", path, err)
	}

	success = true
	return nil
}
