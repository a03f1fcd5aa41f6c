// Package elmmirror provides the public Go library API for elm-mirror.
//
// elm-mirror keeps a local copy of the Elm package server and serves it
// over the same HTTP API, so the Elm compiler can resolve dependencies
// without reaching package.elm-lang.org.
//
// # Basic Usage
//
//	m, err := elmmirror.New(elmmirror.Options{
//	    MirrorDir: "/srv/elm-mirror",
//	    BaseURL:   "https://elm-mirror.example.com",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close()
//
//	// Pull new packages from upstream
//	result, err := m.Sync(ctx)
//
//	// Serve the mirror, syncing every hour
//	err = m.Serve(ctx, elmmirror.ServeOptions{Addr: ":8000", SyncInterval: time.Hour})
package elmmirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/cgi"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bianoble/elm-mirror/internal/engine"
	"github.com/bianoble/elm-mirror/internal/logging"
	"github.com/bianoble/elm-mirror/internal/policy"
	"github.com/bianoble/elm-mirror/internal/registry"
	"github.com/bianoble/elm-mirror/internal/server"
	"github.com/bianoble/elm-mirror/internal/store"
	"github.com/bianoble/elm-mirror/internal/upstream"
)

// Version is reported in the upstream User-Agent. The CLI overrides it at
// build time.
var Version = "dev"

// Options configures a Mirror.
type Options struct {
	// MirrorDir holds registry.json, all-packages and packages/.
	// Default: the current directory.
	MirrorDir string

	// BaseURL is the externally visible root of the mirror, used in served
	// endpoint descriptors. Required by Handler and Serve.
	BaseURL string

	// Upstream is the package server to mirror. Default: package.elm-lang.org.
	Upstream string

	// PackageList is a JSON file listing the packages to download.
	// Packages are additional inline entries. When both are empty every
	// package is downloaded.
	PackageList string
	Packages    []string

	// Per-call upstream timeouts. Zero values keep the defaults (30s, 120s).
	MetadataTimeout time.Duration
	ArchiveTimeout  time.Duration

	// Retries is the number of retries for transient upstream failures.
	// Zero means the default (3); NoRetries makes a single attempt.
	Retries int

	// CheckpointEvery is how many packages are processed between registry
	// saves during a sync. Zero means 10.
	CheckpointEvery int

	// Logger receives structured logs. Nil discards them.
	Logger *slog.Logger

	// HTTPClient replaces the upstream HTTP client.
	HTTPClient upstream.HTTPClient
}

// NoRetries disables retries of transient upstream failures when used as
// Options.Retries.
const NoRetries = -1

// ServeOptions configures Serve.
type ServeOptions struct {
	// Addr is the listen address, e.g. "127.0.0.1:8000".
	Addr string

	// Listener, if set, is used instead of listening on Addr.
	Listener net.Listener

	// SyncInterval runs a background sync this often. Zero disables it.
	SyncInterval time.Duration

	// Watch reloads the served registry when registry.json changes on disk.
	Watch bool

	// ShutdownTimeout bounds graceful shutdown. Zero means 10s.
	ShutdownTimeout time.Duration
}

// Mirror is the main entry point for the elm-mirror library.
type Mirror struct {
	opts     Options
	logger   *slog.Logger
	store    *store.Store
	registry *registry.Registry
	policy   *policy.Policy
	upstream *upstream.Client
	server   *server.Server

	// syncMu serializes sync runs against the same mirror directory.
	syncMu sync.Mutex
}

// New creates a Mirror, creating MirrorDir if needed and loading the
// registry and package list.
func New(opts Options) (*Mirror, error) {
	if opts.MirrorDir == "" {
		opts.MirrorDir = "."
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	st, err := store.New(opts.MirrorDir)
	if err != nil {
		return nil, err
	}

	reg, err := registry.Open(filepath.Join(opts.MirrorDir, registry.FileName))
	if err != nil {
		return nil, err
	}

	pol, err := buildPolicy(opts.PackageList, opts.Packages)
	if err != nil {
		return nil, err
	}

	upOpts := []upstream.Option{
		upstream.WithUserAgent("elm-mirror/" + Version),
		upstream.WithTimeouts(opts.MetadataTimeout, opts.ArchiveTimeout),
	}
	switch {
	case opts.Retries > 0:
		upOpts = append(upOpts, upstream.WithMaxRetries(opts.Retries))
	case opts.Retries < 0:
		upOpts = append(upOpts, upstream.WithMaxRetries(0))
	}
	if opts.HTTPClient != nil {
		upOpts = append(upOpts, upstream.WithHTTPClient(opts.HTTPClient))
	}

	return &Mirror{
		opts:     opts,
		logger:   logger,
		store:    st,
		registry: reg,
		policy:   pol,
		upstream: upstream.New(opts.Upstream, upOpts...),
		server:   server.New(reg, st, opts.BaseURL, logger),
	}, nil
}

// buildPolicy combines the package list file and inline entries. Nil
// means no restriction.
func buildPolicy(path string, inline []string) (*policy.Policy, error) {
	fromFile, err := policy.Load(path)
	if err != nil {
		return nil, err
	}
	var fromInline *policy.Policy
	if len(inline) > 0 {
		fromInline, err = policy.New(inline)
		if err != nil {
			return nil, fmt.Errorf("packages: %w", err)
		}
	}
	switch {
	case fromFile == nil:
		return fromInline, nil
	case fromInline == nil:
		return fromFile, nil
	default:
		return policy.Merge(fromFile, fromInline), nil
	}
}

// Close releases background resources held by the upstream client.
func (m *Mirror) Close() {
	m.upstream.Close()
}

// Dir returns the mirror directory.
func (m *Mirror) Dir() string {
	return m.opts.MirrorDir
}

// Filtered reports whether a package list restricts downloads.
func (m *Mirror) Filtered() bool {
	return m.policy != nil
}

func (m *Mirror) syncEngine(reg *registry.Registry) *engine.SyncEngine {
	return &engine.SyncEngine{
		Upstream:        m.upstream,
		Store:           m.store,
		Registry:        reg,
		Policy:          m.policy,
		Logger:          m.logger,
		CheckpointEvery: m.opts.CheckpointEvery,
	}
}

// Sync pulls new and previously failed packages from upstream.
func (m *Mirror) Sync(ctx context.Context) (*SyncResult, error) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	return m.syncEngine(m.registry).Sync(ctx)
}

// Verify checks every downloaded package against its recorded hash.
func (m *Mirror) Verify(ctx context.Context) (*VerifyResult, error) {
	if err := m.registry.Reload(); err != nil {
		return nil, err
	}
	eng := &engine.VerifyEngine{Registry: m.registry, Store: m.store}
	return eng.Verify(ctx)
}

// Status reports per-status counts and registry entries.
func (m *Mirror) Status(opts StatusOptions) (*StatusReport, error) {
	if err := m.registry.Reload(); err != nil {
		return nil, err
	}
	eng := &engine.StatusEngine{Registry: m.registry, Store: m.store}
	return eng.Status(opts), nil
}

// Prune removes stored packages not backed by a registry entry, or whose
// entry is ignored.
func (m *Mirror) Prune(ctx context.Context, opts PruneOptions) (*PruneResult, error) {
	if err := m.registry.Reload(); err != nil {
		return nil, err
	}
	eng := &engine.PruneEngine{Registry: m.registry, Store: m.store, Logger: m.logger}
	return eng.Prune(ctx, opts)
}

// Handler returns the mirror's HTTP handler.
func (m *Mirror) Handler() (http.Handler, error) {
	if m.opts.BaseURL == "" {
		return nil, errors.New("base URL is required to serve the mirror")
	}
	return m.server.Handler(), nil
}

// Reload re-reads the served registry from disk.
func (m *Mirror) Reload() error {
	return m.server.Reload()
}

// backgroundSync syncs into a registry opened fresh from disk, then reloads
// the served registry from the persisted file.
func (m *Mirror) backgroundSync(ctx context.Context) error {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	work, err := registry.Open(m.registry.Path())
	if err != nil {
		return err
	}
	result, syncErr := m.syncEngine(work).Sync(ctx)
	if result != nil {
		if err := m.server.Reload(); err != nil {
			return errors.Join(syncErr, err)
		}
	}
	return syncErr
}

// Serve runs the HTTP server until ctx is cancelled, together with the
// optional background sync and registry watcher.
func (m *Mirror) Serve(ctx context.Context, opts ServeOptions) error {
	handler, err := m.Handler()
	if err != nil {
		return err
	}

	ln := opts.Listener
	if ln == nil {
		ln, err = net.Listen("tcp", opts.Addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", opts.Addr, err)
		}
	}

	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		m.logger.Info("serving mirror", "addr", ln.Addr().String(), "base_url", m.opts.BaseURL)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		m.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if opts.SyncInterval > 0 {
		sched := &engine.Scheduler{
			Interval: opts.SyncInterval,
			Job:      m.backgroundSync,
			Logger:   m.logger,
		}
		m.logger.Info("background sync enabled", "interval", opts.SyncInterval)
		g.Go(func() error { return sched.Run(gctx) })
	}

	if opts.Watch {
		w := &server.Watcher{
			Path:   m.registry.Path(),
			Reload: m.server.Reload,
			Logger: m.logger,
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	return g.Wait()
}

// ServeCGI answers a single CGI request.
func (m *Mirror) ServeCGI() error {
	handler, err := m.Handler()
	if err != nil {
		return err
	}
	return cgi.Serve(handler)
}
