// Package server serves a mirror over the upstream package server's HTTP
// API. Endpoint descriptors and package archives are only served for
// packages the registry marks as successfully downloaded.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/bianoble/elm-mirror/internal/logging"
	"github.com/bianoble/elm-mirror/internal/pkgid"
	"github.com/bianoble/elm-mirror/internal/registry"
	"github.com/bianoble/elm-mirror/internal/store"
)

var sincePattern = regexp.MustCompile(`^[0-9]+$`)

// Server is the mirror's http.Handler.
type Server struct {
	registry *registry.Registry
	store    *store.Store
	baseURL  string
	logger   *slog.Logger
}

// New creates a Server. baseURL is the externally visible root used in
// endpoint descriptors; a trailing slash is dropped.
func New(reg *registry.Registry, st *store.Store, baseURL string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		registry: reg,
		store:    st,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
	}
}

// Handler returns the server wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return RequestLogger(s.logger, s)
}

// Reload re-reads the registry from disk.
func (s *Server) Reload() error {
	if err := s.registry.Reload(); err != nil {
		return err
	}
	s.logger.Info("registry reloaded", "packages", s.registry.Len())
	return nil
}

// ServeHTTP routes a request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	p := r.URL.Path
	switch {
	case p == "/all-packages":
		s.serveCatalog(w, r)
	case strings.HasPrefix(p, "/all-packages/since/"):
		s.serveSince(w, r, strings.TrimPrefix(p, "/all-packages/since/"))
	case strings.HasPrefix(p, "/packages/") && strings.HasSuffix(p, "/endpoint.json"):
		s.serveEndpoint(w, r, p)
	case strings.HasPrefix(p, "/packages/"):
		s.serveStatic(w, r, p)
	default:
		writeError(w, r, http.StatusNotFound, "Not Found")
	}
}

func (s *Server) serveCatalog(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.ReadCatalog()
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "all-packages not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeBody(w, r, "application/json", data)
}

func (s *Server) serveSince(w http.ResponseWriter, r *http.Request, raw string) {
	if !sincePattern.MatchString(raw) {
		writeError(w, r, http.StatusBadRequest, "Invalid since parameter")
		return
	}

	var ids []string
	n, err := strconv.Atoi(raw)
	if err != nil {
		// Only digits reach here, so the value overflowed and exceeds any total.
		ids = []string{}
	} else {
		ids = s.registry.Since(n)
	}

	data, err := json.Marshal(ids)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeBody(w, r, "application/json", data)
}

// packageFromPath extracts the package of /packages/<a>/<n>/<v>/<file>.
// ok is false when the path does not have exactly that shape.
func packageFromPath(p, file string) (pkgid.ID, bool) {
	rest, found := strings.CutPrefix(p, "/packages/")
	if !found {
		return pkgid.ID{}, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[3] != file {
		return pkgid.ID{}, false
	}
	for _, seg := range parts[:3] {
		if seg == "" || seg == "." || seg == ".." {
			return pkgid.ID{}, false
		}
	}
	id, err := pkgid.FromParts(parts[0], parts[1], parts[2])
	if err != nil {
		return pkgid.ID{}, false
	}
	return id, true
}

func (s *Server) serveEndpoint(w http.ResponseWriter, r *http.Request, p string) {
	id, ok := packageFromPath(p, "endpoint.json")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "Invalid endpoint path")
		return
	}
	if !s.gate(w, r, id) {
		return
	}

	hash, err := s.store.ReadHash(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "Package hash not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	data, err := json.Marshal(struct {
		URL  string `json:"url"`
		Hash string `json:"hash"`
	}{
		URL:  fmt.Sprintf("%s/packages/%s/%s/%s/%s", s.baseURL, id.Author, id.Name, id.Version, store.ArchiveFile),
		Hash: hash,
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeBody(w, r, "application/json", data)
}

func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request, p string) {
	file, err := s.store.ResolveStatic(p)
	switch {
	case errors.Is(err, store.ErrTraversal):
		writeError(w, r, http.StatusBadRequest, "Invalid path")
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "File not found")
		return
	case err != nil:
		s.internalError(w, r, err)
		return
	}

	if strings.HasSuffix(p, "/"+store.ArchiveFile) {
		if id, ok := packageFromPath(p, store.ArchiveFile); ok && !s.gate(w, r, id) {
			return
		}
	}

	data, err := os.ReadFile(file)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeBody(w, r, contentType(p), data)
}

// gate writes an error response and returns false unless the registry
// marks id as successfully downloaded.
func (s *Server) gate(w http.ResponseWriter, r *http.Request, id pkgid.ID) bool {
	status, ok := s.registry.Status(id.String())
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("Package %s not found", id))
		return false
	}
	switch status {
	case registry.StatusSuccess:
		return true
	case registry.StatusPending:
		writeError(w, r, http.StatusServiceUnavailable, fmt.Sprintf("Package %s has not been downloaded yet", id))
	case registry.StatusFailed:
		writeError(w, r, http.StatusServiceUnavailable, fmt.Sprintf("Package %s failed to download and is not available", id))
	case registry.StatusIgnored:
		writeError(w, r, http.StatusServiceUnavailable, fmt.Sprintf("Package %s is not available on this mirror", id))
	default:
		writeError(w, r, http.StatusServiceUnavailable, fmt.Sprintf("Package %s is not available", id))
	}
	return false
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	writeError(w, r, http.StatusInternalServerError, "Internal Server Error")
}

func contentType(p string) string {
	switch path.Ext(p) {
	case ".json":
		return "application/json"
	case ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}

// writeBody writes a 200 response with an ETag, or 304 when the client
// already holds the same body.
func writeBody(w http.ResponseWriter, r *http.Request, ctype string, body []byte) {
	etag := `"` + strconv.FormatUint(xxhash.Sum64(body), 16) + `"`
	h := w.Header()
	h.Set("ETag", etag)

	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	h.Set("Content-Type", ctype)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}

func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// writeError writes {"error": message} with an explicit Content-Length.
func writeError(w http.ResponseWriter, r *http.Request, code int, message string) {
	body, _ := json.Marshal(map[string]string{"error": message})
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(code)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}
