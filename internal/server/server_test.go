package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bianoble/elm-mirror/internal/pkgid"
	"github.com/bianoble/elm-mirror/internal/registry"
	"github.com/bianoble/elm-mirror/internal/store"
)

const testBaseURL = "https://mirror.example.com/"

type fixture struct {
	dir   string
	store *store.Store
	reg   *registry.Registry
	srv   *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(dir)
	require.NoError(t, err)
	reg := registry.New(filepath.Join(dir, registry.FileName))

	write := func(id string, status registry.Status) {
		pid := pkgid.MustParse(id)
		archive := []byte("zip:" + id)
		require.NoError(t, st.WriteArtifacts(pid, []byte(`{"name":"`+pid.PackageName()+`"}`), store.DigestBytes(archive), archive))
		reg.SetStatus(id, status)
	}
	write("elm/core@1.0.5", registry.StatusSuccess)
	write("elm/json@1.1.3", registry.StatusSuccess)
	write("a/b@1.0.0", registry.StatusPending)
	write("c/d@1.0.0", registry.StatusFailed)
	write("e/f@1.0.0", registry.StatusIgnored)
	require.NoError(t, st.WriteCatalog([]byte(`{"elm/core":["1.0.5"]}`)))

	return &fixture{dir: dir, store: st, reg: reg, srv: New(reg, st, testBaseURL, nil)}
}

func (f *fixture) do(t *testing.T, method, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, strconv.Itoa(rec.Body.Len()), rec.Header().Get("Content-Length"))
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestCatalog(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/all-packages")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"elm/core":["1.0.5"]}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, strconv.Itoa(rec.Body.Len()), rec.Header().Get("Content-Length"))
	assert.NotEmpty(t, rec.Header().Get("ETag"))
}

func TestCatalogMissing(t *testing.T) {
	dir := t.TempDir()
	st, err := store.New(dir)
	require.NoError(t, err)
	srv := New(registry.New(filepath.Join(dir, registry.FileName)), st, testBaseURL, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/all-packages", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "all-packages not found", errorMessage(t, rec))
}

func TestSince(t *testing.T) {
	f := newFixture(t)
	total := f.reg.Len()

	tests := []struct {
		name string
		path string
		want []string
	}{
		{"zero returns all", "/all-packages/since/0", f.reg.Since(0)},
		{"n below total", "/all-packages/since/3", []string{"elm/core@1.0.5", "elm/json@1.1.3"}},
		{"n equals total", "/all-packages/since/" + strconv.Itoa(total), []string{}},
		{"n above total", "/all-packages/since/999", []string{}},
		{"overflow", "/all-packages/since/99999999999999999999999", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.path)
			require.Equal(t, http.StatusOK, rec.Code)
			var got []string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
			assert.NotNil(t, got, "body must be a JSON list, not null")
		})
	}
	assert.Len(t, f.reg.Since(0), total)
}

func TestSinceInvalid(t *testing.T) {
	f := newFixture(t)
	for _, p := range []string{"/all-packages/since/abc", "/all-packages/since/-1", "/all-packages/since/", "/all-packages/since/1/2"} {
		rec := f.do(t, http.MethodGet, p)
		assert.Equal(t, http.StatusBadRequest, rec.Code, p)
		assert.Equal(t, "Invalid since parameter", errorMessage(t, rec), p)
	}
}

func TestEndpointSuccess(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/packages/elm/core/1.0.5/endpoint.json")

	require.Equal(t, http.StatusOK, rec.Code)
	var ep struct {
		URL  string `json:"url"`
		Hash string `json:"hash"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ep))
	assert.Equal(t, "https://mirror.example.com/packages/elm/core/1.0.5/package.zip", ep.URL)
	assert.Equal(t, store.DigestBytes([]byte("zip:elm/core@1.0.5")), ep.Hash)
}

func TestEndpointGate(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		path string
		code int
		msg  string
	}{
		{"/packages/a/b/1.0.0/endpoint.json", http.StatusServiceUnavailable, "Package a/b@1.0.0 has not been downloaded yet"},
		{"/packages/c/d/1.0.0/endpoint.json", http.StatusServiceUnavailable, "Package c/d@1.0.0 failed to download and is not available"},
		{"/packages/e/f/1.0.0/endpoint.json", http.StatusServiceUnavailable, "Package e/f@1.0.0 is not available on this mirror"},
		{"/packages/x/y/1.0.0/endpoint.json", http.StatusNotFound, "Package x/y@1.0.0 not found"},
		{"/packages/elm/core/endpoint.json", http.StatusBadRequest, "Invalid endpoint path"},
		{"/packages/elm/core/1.0.5/extra/endpoint.json", http.StatusBadRequest, "Invalid endpoint path"},
		{"/packages/../core/1.0.5/endpoint.json", http.StatusBadRequest, "Invalid endpoint path"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.path)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.msg, errorMessage(t, rec))
		})
	}
}

func TestUnregisteredArtifactsAreNotServed(t *testing.T) {
	f := newFixture(t)
	// Left behind on disk, e.g. by an interrupted prune or a hand copy.
	orphan := pkgid.MustParse("o/p@1.0.0")
	archive := []byte("zip:o/p@1.0.0")
	require.NoError(t, f.store.WriteArtifacts(orphan, []byte(`{}`), store.DigestBytes(archive), archive))

	for _, path := range []string{
		"/packages/o/p/1.0.0/endpoint.json",
		"/packages/o/p/1.0.0/package.zip",
	} {
		rec := f.do(t, http.MethodGet, path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "Package o/p@1.0.0 not found", errorMessage(t, rec), path)
	}
}

func TestEndpointMissingHash(t *testing.T) {
	f := newFixture(t)
	f.reg.SetStatus("g/h@1.0.0", registry.StatusSuccess)

	rec := f.do(t, http.MethodGet, "/packages/g/h/1.0.0/endpoint.json")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Package hash not found", errorMessage(t, rec))
}

func TestStaticFiles(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/packages/elm/core/1.0.5/elm.json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"name":"elm/core"}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/packages/elm/core/1.0.5/package.zip")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Equal(t, "zip:elm/core@1.0.5", rec.Body.String())
	assert.Equal(t, strconv.Itoa(rec.Body.Len()), rec.Header().Get("Content-Length"))
}

func TestStaticArchiveGate(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		path string
		code int
		msg  string
	}{
		{"/packages/a/b/1.0.0/package.zip", http.StatusServiceUnavailable, "Package a/b@1.0.0 has not been downloaded yet"},
		{"/packages/c/d/1.0.0/package.zip", http.StatusServiceUnavailable, "Package c/d@1.0.0 failed to download and is not available"},
		{"/packages/e/f/1.0.0/package.zip", http.StatusServiceUnavailable, "Package e/f@1.0.0 is not available on this mirror"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.path)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.msg, errorMessage(t, rec))
		})
	}

	// The manifest of a gated package is still served.
	rec := f.do(t, http.MethodGet, "/packages/a/b/1.0.0/elm.json")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStaticErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		path string
		code int
		msg  string
	}{
		{"/packages/../registry.json", http.StatusBadRequest, "Invalid path"},
		{"/packages/elm/core/../../../registry.json", http.StatusBadRequest, "Invalid path"},
		{"/packages/elm/core/1.0.5/missing.json", http.StatusNotFound, "File not found"},
		{"/packages/elm/core/1.0.5", http.StatusNotFound, "File not found"},
		{"/registry.json", http.StatusNotFound, "Not Found"},
		{"/", http.StatusNotFound, "Not Found"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.path)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.msg, errorMessage(t, rec))
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	for _, m := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		rec := f.do(t, m, "/all-packages")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, m)
		assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
		assert.Equal(t, "Method Not Allowed", errorMessage(t, rec))
	}
}

func TestHead(t *testing.T) {
	f := newFixture(t)
	get := f.do(t, http.MethodGet, "/packages/elm/core/1.0.5/package.zip")
	head := f.do(t, http.MethodHead, "/packages/elm/core/1.0.5/package.zip")

	require.Equal(t, http.StatusOK, head.Code)
	assert.Empty(t, head.Body.Bytes())
	assert.Equal(t, get.Header().Get("Content-Length"), head.Header().Get("Content-Length"))
	assert.Equal(t, get.Header().Get("ETag"), head.Header().Get("ETag"))
}

func TestConditionalGet(t *testing.T) {
	f := newFixture(t)
	first := f.do(t, http.MethodGet, "/packages/elm/core/1.0.5/endpoint.json")
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rec := f.do(t, http.MethodGet, "/packages/elm/core/1.0.5/endpoint.json", "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	rec = f.do(t, http.MethodGet, "/packages/elm/core/1.0.5/endpoint.json", "If-None-Match", `"other", W/`+etag)
	assert.Equal(t, http.StatusNotModified, rec.Code)

	rec = f.do(t, http.MethodGet, "/packages/elm/core/1.0.5/endpoint.json", "If-None-Match", `"stale"`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReload(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.Save())

	// Another process marks the pending package as downloaded.
	other, err := registry.Open(f.reg.Path())
	require.NoError(t, err)
	other.SetStatus("a/b@1.0.0", registry.StatusSuccess)
	require.NoError(t, other.Save())

	rec := f.do(t, http.MethodGet, "/packages/a/b/1.0.0/endpoint.json")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, f.srv.Reload())
	rec = f.do(t, http.MethodGet, "/packages/a/b/1.0.0/endpoint.json")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestID(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/all-packages")
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)

	rec = f.do(t, http.MethodGet, "/all-packages", RequestIDHeader, "client-123")
	assert.Equal(t, "client-123", rec.Header().Get(RequestIDHeader))
}

func TestRequestLoggerRecoversPanics(t *testing.T) {
	h := RequestLogger(nilLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error", errorMessage(t, rec))
}
