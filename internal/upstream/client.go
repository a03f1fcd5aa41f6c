// Package upstream fetches catalog listings, package metadata and archives
// from the upstream package server.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"

	"github.com/bianoble/elm-mirror/internal/pkgid"
)

// DefaultURL is the public Elm package server.
const DefaultURL = "https://package.elm-lang.org"

// Default per-call timeouts.
const (
	DefaultMetadataTimeout = 30 * time.Second
	DefaultArchiveTimeout  = 120 * time.Second
)

// Endpoint is the upstream endpoint.json descriptor of a package version.
type Endpoint struct {
	URL  string `json:"url"`
	Hash string `json:"hash"`
}

// HTTPClient abstracts HTTP operations for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to one upstream package server.
type Client struct {
	baseURL         string
	http            HTTPClient
	userAgent       string
	metadataTimeout time.Duration
	archiveTimeout  time.Duration
	maxRetries      int
	baseDelay       time.Duration
	maxBodySize     int64
	breakers        *breakerSet

	stopRefresh func()
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. The DNS-caching transport is
// not installed in that case.
func WithHTTPClient(c HTTPClient) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// WithTimeouts sets the per-call timeouts for metadata and archive fetches.
// Zero values keep the defaults.
func WithTimeouts(metadata, archive time.Duration) Option {
	return func(cl *Client) {
		if metadata > 0 {
			cl.metadataTimeout = metadata
		}
		if archive > 0 {
			cl.archiveTimeout = archive
		}
	}
}

// WithMaxRetries sets the number of retries for transient failures. Zero
// makes a single attempt.
func WithMaxRetries(n int) Option {
	return func(cl *Client) {
		if n >= 0 {
			cl.maxRetries = n
		}
	}
}

// WithBaseDelay sets the initial backoff interval between retries.
func WithBaseDelay(d time.Duration) Option {
	return func(cl *Client) {
		cl.baseDelay = d
	}
}

// WithMaxBodySize limits response bodies (0 = no limit).
func WithMaxBodySize(n int64) Option {
	return func(cl *Client) {
		cl.maxBodySize = n
	}
}

// WithBreakerThreshold sets how many consecutive failures open the circuit
// for a host. Zero disables the circuit breaker.
func WithBreakerThreshold(n int64) Option {
	return func(cl *Client) {
		if n <= 0 {
			cl.breakers = nil
			return
		}
		cl.breakers = newBreakerSet(n)
	}
}

// New creates a Client for baseURL (DefaultURL when empty).
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		userAgent:       "elm-mirror/1.0",
		metadataTimeout: DefaultMetadataTimeout,
		archiveTimeout:  DefaultArchiveTimeout,
		maxRetries:      3,
		baseDelay:       500 * time.Millisecond,
		breakers:        newBreakerSet(5),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http, c.stopRefresh = newCachingHTTPClient()
	}
	return c
}

// Close stops background DNS cache refreshing.
func (c *Client) Close() {
	if c.stopRefresh != nil {
		c.stopRefresh()
	}
}

// BaseURL returns the upstream base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Since fetches /all-packages/since/{n}: package ids newest first.
func (c *Client) Since(ctx context.Context, n int) ([]string, error) {
	data, err := c.get(ctx, fmt.Sprintf("%s/all-packages/since/%d", c.baseURL, n), c.metadataTimeout)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("parsing package list: %w", err)
	}
	return ids, nil
}

// Catalog fetches the /all-packages name -> versions index verbatim.
func (c *Client) Catalog(ctx context.Context) ([]byte, error) {
	data, err := c.get(ctx, c.baseURL+"/all-packages", c.metadataTimeout)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("parsing catalog: invalid JSON")
	}
	return data, nil
}

// Endpoint fetches the endpoint.json descriptor of id.
func (c *Client) Endpoint(ctx context.Context, id pkgid.ID) (*Endpoint, error) {
	data, err := c.get(ctx, c.packageURL(id, "endpoint.json"), c.metadataTimeout)
	if err != nil {
		return nil, err
	}
	var ep Endpoint
	if err := json.Unmarshal(data, &ep); err != nil {
		return nil, fmt.Errorf("parsing endpoint for %s: %w", id, err)
	}
	if ep.URL == "" || ep.Hash == "" {
		return nil, fmt.Errorf("parsing endpoint for %s: missing 'url' or 'hash'", id)
	}
	return &ep, nil
}

// Manifest fetches the elm.json of id. The content is returned verbatim.
func (c *Client) Manifest(ctx context.Context, id pkgid.ID) ([]byte, error) {
	data, err := c.get(ctx, c.packageURL(id, "elm.json"), c.metadataTimeout)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("parsing elm.json for %s: invalid JSON", id)
	}
	return data, nil
}

// Archive downloads an archive from an absolute URL, as found in an
// Endpoint, using the archive timeout.
func (c *Client) Archive(ctx context.Context, archiveURL string) ([]byte, error) {
	return c.get(ctx, archiveURL, c.archiveTimeout)
}

func (c *Client) packageURL(id pkgid.ID, file string) string {
	return fmt.Sprintf("%s/packages/%s/%s/%s/%s", c.baseURL,
		url.PathEscape(id.Author), url.PathEscape(id.Name), url.PathEscape(id.Version), file)
}

// get fetches rawURL, retrying transient failures with exponential backoff.
// Each attempt gets its own timeout.
func (c *Client) get(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	// backoff.WithMaxRetries treats 0 as unlimited.
	if c.maxRetries == 0 {
		return c.attempt(ctx, rawURL, timeout)
	}

	var body []byte

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)

	err := backoff.Retry(func() error {
		data, err := c.attempt(ctx, rawURL, timeout)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		body = data
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) attempt(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	if c.breakers == nil {
		return c.do(ctx, rawURL, timeout)
	}
	return c.breakers.call(hostOf(rawURL), func() ([]byte, error) {
		return c.do(ctx, rawURL, timeout)
	})
}

func (c *Client) do(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transient(fmt.Errorf("fetching %s: %w", rawURL, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", rawURL, ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, transient(&HTTPError{StatusCode: resp.StatusCode, URL: rawURL})
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: rawURL, Body: strings.TrimSpace(string(snippet))}
	}

	var reader io.Reader = resp.Body
	if c.maxBodySize > 0 {
		reader = io.LimitReader(resp.Body, c.maxBodySize+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, transient(fmt.Errorf("reading response from %s: %w", rawURL, err))
	}
	if c.maxBodySize > 0 && int64(len(data)) > c.maxBodySize {
		return nil, fmt.Errorf("response from %s exceeds max size %d bytes", rawURL, c.maxBodySize)
	}
	return data, nil
}

// newCachingHTTPClient builds an http.Client whose dialer resolves through
// a DNS cache refreshed every five minutes. The returned func stops the
// refresher.
func newCachingHTTPClient() (*http.Client, func()) {
	resolver := &dnscache.Resolver{}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				resolver.Refresh(true)
			}
		}
	}()

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}
				ips, err := resolver.LookupHost(ctx, host)
				if err != nil {
					return nil, err
				}
				var lastErr error
				for _, ip := range ips {
					conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
					if err == nil {
						return conn, nil
					}
					lastErr = err
				}
				if lastErr == nil {
					lastErr = errors.New("no addresses resolved")
				}
				return nil, fmt.Errorf("dialing %s: %w", addr, lastErr)
			},
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	var once sync.Once
	return client, func() { once.Do(func() { close(done) }) }
}
