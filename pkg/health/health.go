// Package health serves liveness and readiness probes backed by
// periodically executed checks.
//
// A check flips to unhealthy after failureThreshold consecutive failures
// and back after successThreshold consecutive successes, so one slow
// database ping does not take the service out of rotation.
package health

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc reports nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

type kind uint8

const (
	kindLiveness kind = iota
	kindReadiness
	// kindInfo checks are reported on /readyz but never gate it.
	kindInfo
)

// CheckOption tunes a single check.
type CheckOption func(*check)

// WithThresholds overrides the default 3 failures / 1 success thresholds.
func WithThresholds(failures, successes int) CheckOption {
	return func(c *check) {
		if failures > 0 {
			c.failureThreshold = failures
		}
		if successes > 0 {
			c.successThreshold = successes
		}
	}
}

// check is executed by a single goroutine; the counters are owned by it.
// healthy and lastErr are read concurrently by the endpoints.
type check struct {
	name             string
	kind             kind
	timeout          time.Duration
	fn               CheckFunc
	failureThreshold int
	successThreshold int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails     int
	successes int
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)
	if err != nil {
		c.successes = 0
		c.fails++
		if c.fails >= c.failureThreshold {
			c.healthy.Store(false)
		}
		return
	}
	c.fails = 0
	c.successes++
	if c.successes >= c.successThreshold {
		c.healthy.Store(true)
	}
}

func (c *check) err() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// failure describes an unhealthy check, or "" when it is healthy.
func (c *check) failure() string {
	if c.healthy.Load() {
		return ""
	}
	if err := c.err(); err != nil {
		return err.Error()
	}
	return "check is unhealthy"
}

// Health tracks the process probes.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*check
	cancel context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

func (h *Health) add(name string, k kind, timeout time.Duration, fn CheckFunc, opts []CheckOption) {
	c := &check{
		name:             name,
		kind:             k,
		timeout:          timeout,
		fn:               fn,
		failureThreshold: 3,
		successThreshold: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.healthy.Store(true)

	h.mu.Lock()
	h.checks = append(h.checks, c)
	h.mu.Unlock()
}

// AddLivenessCheck registers a check gating /livez.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.add(name, kindLiveness, timeout, fn, opts)
}

// AddReadinessCheck registers a check gating /readyz, such as the order
// store ping.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.add(name, kindReadiness, timeout, fn, opts)
}

// AddInfoCheck registers a check that is reported on /readyz without
// affecting readiness. An open gateway breaker is reported this way: the
// service still has to accept notifications from the other gateways.
func (h *Health) AddInfoCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.add(name, kindInfo, timeout, fn, opts)
}

func (h *Health) snapshot(k kind) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.DeleteFunc(slices.Clone(h.checks), func(c *check) bool { return c.kind != k })
}

// Start runs every registered check immediately and then every interval
// until ctx is done or Stop is called.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := slices.Clone(h.checks)
	h.mu.Unlock()

	for _, c := range checks {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				c.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
}

// Stop halts the background checks. It is idempotent.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness flag. It is set once wiring is done
// and cleared at the start of graceful shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports the manual flag combined with every readiness check.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, c := range h.snapshot(kindReadiness) {
		if !c.healthy.Load() {
			return false
		}
	}
	return true
}

func failures(checks []*check) map[string]string {
	out := make(map[string]string)
	for _, c := range checks {
		if msg := c.failure(); msg != "" {
			out[c.name] = msg
		}
	}
	return out
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, failures(h.snapshot(kindLiveness)), nil)
}

// ReadyEndpoint serves /readyz. Informational failures are listed under
// "info" without turning the response into a 503.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := failures(h.snapshot(kindReadiness))
	if !h.ready.Load() {
		failed["_readiness"] = "service is not ready"
	}
	writeStatus(w, failed, failures(h.snapshot(kindInfo)))
}

func writeStatus(w http.ResponseWriter, failed, info map[string]string) {
	status, code := "ok", http.StatusOK
	if len(failed) > 0 {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(status) })
		if len(failed) > 0 {
			e.Field("checks", func(e *jx.Encoder) { encodeMap(e, failed) })
		}
		if len(info) > 0 {
			e.Field("info", func(e *jx.Encoder) { encodeMap(e, info) })
		}
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func encodeMap(e *jx.Encoder, m map[string]string) {
	e.Obj(func(e *jx.Encoder) {
		for _, k := range slices.Sorted(maps.Keys(m)) {
			e.Field(k, func(e *jx.Encoder) { e.Str(m[k]) })
		}
	})
}
