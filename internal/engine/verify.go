package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/bianoble/elm-mirror/internal/pkgid"
	"github.com/bianoble/elm-mirror/internal/registry"
	"github.com/bianoble/elm-mirror/internal/store"
)

// VerifyEngine checks the content store against the registry.
type VerifyEngine struct {
	Registry *registry.Registry
	Store    *store.Store
}

// Verify checks every package marked success: its archive and hash record
// exist, the archive digest matches the record, and the manifest exists.
// Problems are collected per package rather than stopping at the first.
func (e *VerifyEngine) Verify(ctx context.Context) (*VerifyResult, error) {
	result := &VerifyResult{}

	for _, raw := range e.Registry.WithStatus(registry.StatusSuccess) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++
		if err := e.verifyPackage(raw); err != nil {
			result.Errors = append(result.Errors, PackageError{ID: raw, Err: err})
		}
	}

	return result, nil
}

func (e *VerifyEngine) verifyPackage(raw string) error {
	id, err := pkgid.Parse(raw)
	if err != nil {
		return err
	}

	archivePath := e.Store.ArtifactPath(id, store.ArchiveFile)
	if !fileExists(archivePath) {
		return fmt.Errorf("%s missing", store.ArchiveFile)
	}

	expected, err := e.Store.ReadHash(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%s missing", store.HashFile)
		}
		return fmt.Errorf("invalid %s: %w", store.HashFile, err)
	}

	actual, err := store.Digest(archivePath)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("hash mismatch (expected %s, got %s)", expected, actual)
	}

	if !fileExists(e.Store.ArtifactPath(id, store.ManifestFile)) {
		return fmt.Errorf("%s missing", store.ManifestFile)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
