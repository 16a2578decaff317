// Package breaker implements the named-instance circuit breaker substrate
// used by every outbound dependency in this module: honeypot providers,
// RPC calls, quote requests. The state machine itself follows the
// textbook CLOSED/OPEN/HALF_OPEN shape (grounded on the rate-limiter
// lesson in the retrieval pack); persistence of the breaker's snapshot to
// the shared store follows the teacher's gob-encoded state-file pattern
// in (*Swapper).saveState/restoreState.
package breaker

import (
	"bytes"
	"encoding/gob"
	"sync"
	"time"

	"github.com/tradingbotd/core/internal/core"
	"github.com/tradingbotd/core/internal/store"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// Config configures a Breaker's thresholds.
type Config struct {
	FailureThreshold    int           // default 5
	SuccessThreshold    int           // default 2
	OpenTimeout         time.Duration // default 60s
	MonitoringWindow    time.Duration // default 120s
	PersistenceEnabled  bool
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      60 * time.Second,
		MonitoringWindow: 120 * time.Second,
	}
}

// Metrics is an immutable snapshot returned by Metrics().
type Metrics struct {
	Name            string
	State           State
	FailureCount    int
	SuccessCount    int
	LastFailure     time.Time
	LastSuccess     time.Time
	NextAttemptTime time.Time
}

// snapshot is the gob-serializable persisted form, grounded on the
// teacher's matchTrackerData/State gob envelope shape.
type snapshot struct {
	State           State
	FailureTimes    []int64 // unix nanos, bounded list within the monitoring window
	SuccessCount    int
	LastFailure     int64
	LastSuccess     int64
	NextAttemptTime int64
}

// Rejected is returned by Execute when the breaker is OPEN and refuses to
// call fn.
type Rejected struct{ Name string }

func (r *Rejected) Error() string { return "breaker " + r.Name + ": circuit open" }

// Observer is notified of every state transition; an implementer may
// translate these into operator alerts.
type Observer func(name string, from, to State)

// Breaker is one named circuit breaker instance.
type Breaker struct {
	name string
	cfg  Config
	log  core.Logger
	st   store.Store

	mtx          sync.Mutex
	state        State
	failureTimes []time.Time
	successCount int
	lastFailure  time.Time
	lastSuccess  time.Time
	nextAttempt  time.Time

	observers []Observer
}

// New constructs a Breaker. If st is non-nil and cfg.PersistenceEnabled is
// true, state is loaded from the store at construction and written back
// after every transition and every recorded outcome.
func New(name string, cfg Config, log core.Logger, st store.Store) *Breaker {
	b := &Breaker{name: name, cfg: cfg, log: log, st: st, state: Closed}
	if cfg.PersistenceEnabled && st != nil {
		b.loadState()
	}
	return b
}

// OnTransition registers an Observer called synchronously on every state
// change.
func (b *Breaker) OnTransition(o Observer) {
	b.mtx.Lock()
	b.observers = append(b.observers, o)
	b.mtx.Unlock()
}

func (b *Breaker) storeKey() (bucket, key string) { return "circuit_breaker", b.name }

func (b *Breaker) loadState() {
	raw, err := b.st.Get(b.storeKey())
	if err != nil {
		if err != store.ErrNotFound {
			b.log.Warnf("breaker %s: failed to load persisted state: %v", b.name, err)
		}
		return
	}
	var snap snapshot
	dec := gob.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&snap); err != nil {
		b.log.Warnf("breaker %s: failed to decode persisted state: %v", b.name, err)
		return
	}
	b.state = snap.State
	b.successCount = snap.SuccessCount
	if snap.LastFailure != 0 {
		b.lastFailure = time.Unix(0, snap.LastFailure)
	}
	if snap.LastSuccess != 0 {
		b.lastSuccess = time.Unix(0, snap.LastSuccess)
	}
	if snap.NextAttemptTime != 0 {
		b.nextAttempt = time.Unix(0, snap.NextAttemptTime)
	}
	b.failureTimes = make([]time.Time, 0, len(snap.FailureTimes))
	for _, ns := range snap.FailureTimes {
		b.failureTimes = append(b.failureTimes, time.Unix(0, ns))
	}
}

// persistLocked must be called with b.mtx held.
func (b *Breaker) persistLocked() {
	if !b.cfg.PersistenceEnabled || b.st == nil {
		return
	}
	snap := snapshot{
		State:        b.state,
		SuccessCount: b.successCount,
	}
	for _, t := range b.failureTimes {
		snap.FailureTimes = append(snap.FailureTimes, t.UnixNano())
	}
	if !b.lastFailure.IsZero() {
		snap.LastFailure = b.lastFailure.UnixNano()
	}
	if !b.lastSuccess.IsZero() {
		snap.LastSuccess = b.lastSuccess.UnixNano()
	}
	if !b.nextAttempt.IsZero() {
		snap.NextAttemptTime = b.nextAttempt.UnixNano()
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		b.log.Errorf("breaker %s: failed to encode state for persistence: %v", b.name, err)
		return
	}
	bucket, key := b.storeKey()
	ttl := b.cfg.MonitoringWindow + b.cfg.OpenTimeout
	if err := b.st.SetTTL(bucket, key, buf.Bytes(), ttl); err != nil {
		// Persistence failure is logged and accounted, never fatal to the
		// core path.
		b.log.Errorf("breaker %s: failed to persist state: %v", b.name, err)
	}
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	observers := append([]Observer(nil), b.observers...)
	b.persistLocked()
	for _, o := range observers {
		o(b.name, from, to)
	}
}

// IsAvailable reports whether a call would currently be allowed, without
// making one. A HALF_OPEN probe opportunity counts as available.
func (b *Breaker) IsAvailable() bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.allowLocked()
}

func (b *Breaker) allowLocked() bool {
	if b.state != Open {
		return true
	}
	if time.Now().After(b.nextAttempt) {
		b.transitionLocked(HalfOpen)
		return true
	}
	return false
}

// Execute calls fn if the breaker permits it, recording the outcome. If
// the breaker is OPEN and not yet due for a probe, fn is never called and
// Execute returns a *Rejected error without touching fn's result.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	b.mtx.Lock()
	allowed := b.allowLocked()
	b.mtx.Unlock()
	if !allowed {
		return zero, &Rejected{Name: b.name}
	}

	result, err := fn()

	b.mtx.Lock()
	defer b.mtx.Unlock()
	if err != nil {
		b.recordFailureLocked()
	} else {
		b.recordSuccessLocked()
	}
	// The circuit never swallows the caller's failure; it only adds a
	// fail-fast path.
	return result, err
}

func (b *Breaker) recordFailureLocked() {
	now := time.Now()
	b.lastFailure = now
	b.failureTimes = append(b.failureTimes, now)
	b.pruneFailuresLocked(now)
	b.successCount = 0

	switch b.state {
	case Closed:
		if len(b.failureTimes) >= b.cfg.FailureThreshold {
			b.nextAttempt = now.Add(b.cfg.OpenTimeout)
			b.transitionLocked(Open)
			return
		}
	case HalfOpen:
		b.nextAttempt = now.Add(b.cfg.OpenTimeout)
		b.transitionLocked(Open)
		return
	}
	b.persistLocked()
}

func (b *Breaker) recordSuccessLocked() {
	now := time.Now()
	b.lastSuccess = now

	switch b.state {
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.failureTimes = nil
			b.successCount = 0
			b.transitionLocked(Closed)
			return
		}
	case Closed:
		b.pruneFailuresLocked(now)
	}
	b.persistLocked()
}

func (b *Breaker) pruneFailuresLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.MonitoringWindow)
	kept := b.failureTimes[:0]
	for _, t := range b.failureTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failureTimes = kept
}

// Metrics returns an immutable snapshot of the breaker's current counters.
func (b *Breaker) Metrics() Metrics {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return Metrics{
		Name:            b.name,
		State:           b.state,
		FailureCount:    len(b.failureTimes),
		SuccessCount:    b.successCount,
		LastFailure:     b.lastFailure,
		LastSuccess:     b.lastSuccess,
		NextAttemptTime: b.nextAttempt,
	}
}

// Reset forces the breaker to CLOSED and clears all counters.
func (b *Breaker) Reset() {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.failureTimes = nil
	b.successCount = 0
	b.transitionLocked(Closed)
}
