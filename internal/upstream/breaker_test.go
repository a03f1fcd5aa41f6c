package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL,
		WithHTTPClient(srv.Client()),
		WithMaxRetries(0),
		WithBaseDelay(time.Millisecond),
		WithBreakerThreshold(2),
	)

	for i := 0; i < 2; i++ {
		if _, err := c.Catalog(context.Background()); !IsTransient(err) {
			t.Fatalf("call %d: expected transient error, got %v", i, err)
		}
	}

	before := calls.Load()
	_, err := c.Catalog(context.Background())
	if !IsTransient(err) {
		t.Fatalf("expected transient error while open, got %v", err)
	}
	if calls.Load() != before {
		t.Error("request reached upstream while circuit was open")
	}

	states := c.BreakerStates()
	if states[hostOf(srv.URL)] != "open" {
		t.Errorf("states = %v", states)
	}
}

func TestBreakerRecoversAfterOutage(t *testing.T) {
	tests := []struct {
		name        string
		healthyFrom int // minute at which upstream recovers
	}{
		{"short outage", 5},
		{"outage longer than backoff elapsed limit", 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.NewMock()
			s := newBreakerSet(2)
			s.clock = clk

			minute := 0
			fn := func() ([]byte, error) {
				if minute < tt.healthyFrom {
					return nil, transient(errors.New("upstream down"))
				}
				return []byte("ok"), nil
			}

			for i := 0; i < 2; i++ {
				if _, err := s.call("upstream.test", fn); !IsTransient(err) {
					t.Fatalf("call %d: expected transient error, got %v", i, err)
				}
			}
			if s.states()["upstream.test"] != "open" {
				t.Fatalf("breaker did not trip: %v", s.states())
			}

			recovered := -1
			for minute = 1; minute <= 120; minute++ {
				clk.Add(time.Minute)
				if _, err := s.call("upstream.test", fn); err == nil {
					recovered = minute
					break
				}
			}

			// The backoff interval is capped at 5m (7.5m with jitter).
			if recovered < 0 || recovered > tt.healthyFrom+10 {
				t.Fatalf("recovered at minute %d, want within 10 minutes of %d", recovered, tt.healthyFrom)
			}
			if s.states()["upstream.test"] != "closed" {
				t.Errorf("states = %v, want closed after recovery", s.states())
			}
		})
	}
}

func TestBreakerIgnoresNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(srv.URL,
		WithHTTPClient(srv.Client()),
		WithMaxRetries(0),
		WithBreakerThreshold(2),
	)

	for i := 0; i < 5; i++ {
		if _, err := c.Catalog(context.Background()); !errors.Is(err, ErrNotFound) {
			t.Fatalf("call %d: expected ErrNotFound, got %v", i, err)
		}
	}
	if c.BreakerStates()[hostOf(srv.URL)] != "closed" {
		t.Errorf("states = %v", c.BreakerStates())
	}
}

func TestBreakerDisabled(t *testing.T) {
	c := New("", WithHTTPClient(http.DefaultClient), WithBreakerThreshold(0))
	if c.BreakerStates() != nil {
		t.Error("expected no breaker states when disabled")
	}
}

func TestHostOf(t *testing.T) {
	tests := map[string]string{
		"https://package.elm-lang.org/all-packages": "package.elm-lang.org",
		"http://127.0.0.1:8000/x":                   "127.0.0.1:8000",
		"not a url":                                 "not a url",
	}
	for in, want := range tests {
		if got := hostOf(in); got != want {
			t.Errorf("hostOf(%q) = %q, want %q", in, got, want)
		}
	}
}
