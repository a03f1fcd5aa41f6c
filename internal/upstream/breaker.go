package upstream

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/facebookgo/clock"
	circuit "github.com/rubyist/circuitbreaker"
)

// breakerSet holds one circuit breaker per upstream host.
type breakerSet struct {
	threshold int64
	clock     clock.Clock // nil means the wall clock

	mu       sync.RWMutex
	breakers map[string]*circuit.Breaker
}

func newBreakerSet(threshold int64) *breakerSet {
	return &breakerSet{
		threshold: threshold,
		breakers:  make(map[string]*circuit.Breaker),
	}
}

func (s *breakerSet) get(host string) *circuit.Breaker {
	s.mu.RLock()
	b, ok := s.breakers[host]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[host]; ok {
		return b
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	// A non-zero MaxElapsedTime makes NextBackOff return Stop after a long
	// outage, and a stopped breaker never goes half-open again.
	expBackoff.MaxElapsedTime = 0
	if s.clock != nil {
		expBackoff.Clock = s.clock
	}
	expBackoff.Reset()

	b = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		Clock:      s.clock,
		ShouldTrip: circuit.ThresholdTripFunc(s.threshold),
	})
	s.breakers[host] = b
	return b
}

// call runs fn through the host's breaker. Only transient failures count
// against the circuit; a 404 or a bad request is the caller's problem, not
// the host's. Call does its own readiness check: checking Ready first would
// consume the half-open probe slot.
func (s *breakerSet) call(host string, fn func() ([]byte, error)) ([]byte, error) {
	b := s.get(host)

	var data []byte
	var permanent error
	err := b.Call(func() error {
		d, err := fn()
		if err != nil && !IsTransient(err) {
			permanent = err
			return nil
		}
		data = d
		return err
	}, 0)
	if permanent != nil {
		return nil, permanent
	}
	if errors.Is(err, circuit.ErrBreakerOpen) {
		return nil, transient(fmt.Errorf("circuit breaker open for %s", host))
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// states reports "open" or "closed" per host.
func (s *breakerSet) states() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.breakers))
	for host, b := range s.breakers {
		if b.Tripped() {
			out[host] = "open"
		} else {
			out[host] = "closed"
		}
	}
	return out
}

// BreakerStates reports the circuit state per upstream host.
func (c *Client) BreakerStates() map[string]string {
	if c.breakers == nil {
		return nil
	}
	return c.breakers.states()
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
