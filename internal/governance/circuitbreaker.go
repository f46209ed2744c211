package governance

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState represents the state of a circuit breaker.
type BreakerState string

const (
	// BreakerClosed indicates calls flow normally.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen indicates calls are rejected until the open timeout passes.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen indicates a limited number of probe calls are allowed.
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerConfig defines thresholds for circuit breaking on outbound
// calls. Node instances make few calls per run, so the breaker trips on
// consecutive failures rather than windowed rates.
type BreakerConfig struct {
	// MaxFailures is the consecutive failure count that opens the circuit.
	MaxFailures int
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenProbes is how many consecutive probe successes close the
	// circuit again; a probe failure reopens it.
	HalfOpenProbes int
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:    5,
		OpenTimeout:    30 * time.Second,
		HalfOpenProbes: 2,
	}
}

// Breaker implements the circuit breaker pattern for a single upstream.
type Breaker struct {
	mu     sync.Mutex
	config BreakerConfig
	state  BreakerState

	failures    int
	successes   int
	probes      int
	openUntil   time.Time
	lastChange  time.Time
	totalCalls  int64
	totalDenied int64
}

// NewBreaker creates a breaker, normalizing zero values to the defaults.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if config.HalfOpenProbes <= 0 {
		config.HalfOpenProbes = 2
	}
	return &Breaker{
		config:     config,
		state:      BreakerClosed,
		lastChange: time.Now(),
	}
}

// Execute wraps a call with circuit breaker protection. A rejected call
// returns ErrCircuitOpen without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.before(); err != nil {
		return err
	}

	err := fn(ctx)
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.totalCalls++

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if now.After(b.openUntil) {
			b.transition(BreakerHalfOpen, now)
			b.probes++
			return nil
		}
		b.totalDenied++
		return ErrCircuitOpen
	default: // BreakerHalfOpen
		if b.probes < b.config.HalfOpenProbes {
			b.probes++
			return nil
		}
		b.totalDenied++
		return ErrCircuitOpen
	}
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	if err == nil {
		b.successes++
		b.failures = 0
		if b.state == BreakerHalfOpen && b.successes >= b.config.HalfOpenProbes {
			b.transition(BreakerClosed, now)
		}
		return
	}

	b.failures++
	b.successes = 0

	switch b.state {
	case BreakerHalfOpen:
		b.transition(BreakerOpen, now)
	case BreakerClosed:
		if b.failures >= b.config.MaxFailures {
			b.transition(BreakerOpen, now)
		}
	}
}

func (b *Breaker) transition(next BreakerState, now time.Time) {
	if b.state == next {
		return
	}
	b.state = next
	b.lastChange = now
	b.failures = 0
	b.successes = 0
	b.probes = 0
	if next == BreakerOpen {
		b.openUntil = now.Add(b.config.OpenTimeout)
	} else {
		b.openUntil = time.Time{}
	}
}

// State returns the current state of the circuit breaker.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerStats exposes counters for observability surfaces.
type BreakerStats struct {
	State       BreakerState
	TotalCalls  int64
	TotalDenied int64
	LastChange  time.Time
}

// Stats returns current circuit breaker statistics.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:       b.state,
		TotalCalls:  b.totalCalls,
		TotalDenied: b.totalDenied,
		LastChange:  b.lastChange,
	}
}
