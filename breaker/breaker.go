// Package breaker implements a per-dependency circuit breaker. One breaker
// guards one logical dependency (or error category); after enough consecutive
// failures it rejects calls outright for a cooldown window, then admits a
// single probe to test recovery.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vietddude/resilience/metrics"
)

// State is the circuit position.
type State int

const (
	Closed   State = iota // Normal operation, calls permitted
	Open                  // Failing fast, calls rejected until cooldown elapses
	HalfOpen              // Cooldown elapsed, one probe in flight at most
)

// String returns the state name for logging and metric labels.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "invalid"
	}
}

// OpenError is returned by Allow while the circuit rejects calls. The guarded
// operation is never invoked.
type OpenError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for %q, retry after %s", e.Key, e.RetryAfter)
}

// Config holds the breaker tunables, normally taken from the retry policy of
// the dependency the breaker guards.
type Config struct {
	// FailureThreshold is the consecutive-failure count that trips the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before admitting a probe.
	// Fixed; repeated half-open failures restart it without escalation.
	Cooldown time.Duration
}

// Breaker is a single circuit. All state is guarded by one mutex so that
// concurrent callers cannot double-count a transition or both claim the
// half-open probe slot.
type Breaker struct {
	mu    sync.Mutex
	key   string
	cfg   Config
	clock clockwork.Clock

	state               State
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool
}

// New creates a closed breaker for key. A nil clock defaults to wall time.
func New(key string, cfg Config, clock clockwork.Clock) *Breaker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	b := &Breaker{
		key:   key,
		cfg:   cfg,
		clock: clock,
		state: Closed,
	}
	metrics.BreakerState.WithLabelValues(key).Set(float64(Closed))
	return b
}

// Allow reports whether a call may proceed. In the half-open state the first
// caller claims the probe slot; everyone else is rejected as if the circuit
// were still open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil

	case Open:
		elapsed := b.clock.Since(b.openedAt)
		if elapsed < b.cfg.Cooldown {
			return &OpenError{Key: b.key, RetryAfter: b.cfg.Cooldown - elapsed}
		}
		b.transition(HalfOpen)
		b.probeInFlight = true
		return nil

	case HalfOpen:
		if b.probeInFlight {
			return &OpenError{Key: b.key}
		}
		b.probeInFlight = true
		return nil

	default:
		return &OpenError{Key: b.key}
	}
}

// OnSuccess records a successful call. A half-open probe success closes the
// circuit; in the closed state the failure streak resets.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.consecutiveFailures = 0
	case HalfOpen:
		b.probeInFlight = false
		b.consecutiveFailures = 0
		b.transition(Closed)
	}
}

// OnFailure records a failed call. Reaching the threshold in the closed state
// trips the circuit; a failed half-open probe reopens it and restarts the
// cooldown.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.openedAt = b.clock.Now()
			b.transition(Open)
		}
	case HalfOpen:
		b.probeInFlight = false
		b.openedAt = b.clock.Now()
		b.transition(Open)
	}
}

// OnCancel releases a claimed probe slot without counting the attempt either
// way. Cancelled calls say nothing about dependency health.
func (b *Breaker) OnCancel() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.probeInFlight = false
	}
}

// Reset forces the breaker back to closed with zeroed counters. Administrative
// use and tests only.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.probeInFlight = false
	b.transition(Closed)
}

// Snapshot is a point-in-time copy of the breaker state for introspection.
type Snapshot struct {
	Key                 string
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// Snapshot returns a copy of the current state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Key:                 b.key,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
	}
}

// transition changes state. Must be called with the lock held.
func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next

	metrics.BreakerState.WithLabelValues(b.key).Set(float64(next))
	metrics.BreakerTransitions.WithLabelValues(b.key, prev.String(), next.String()).Inc()
}
