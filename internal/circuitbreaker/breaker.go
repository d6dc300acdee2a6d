// Package circuitbreaker wraps sony/gobreaker with a per-upstream registry and a
// snapshot view matching spec's BreakerState data model.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// State mirrors gobreaker's Closed/Open/HalfOpen states for external reporting.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

func fromGobreakerState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// ErrOpenState is returned by Execute when the breaker is open or the single
// half-open probe slot is already taken.
var ErrOpenState = gobreaker.ErrOpenState

// Config tunes a single breaker's transition thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker from Closed to Open.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays Open before allowing a single
	// half-open probe.
	OpenTimeout time.Duration
	// HalfOpenSuccessThreshold is the number of consecutive half-open
	// successes required to close the breaker again.
	HalfOpenSuccessThreshold uint32
}

// DefaultConfig matches spec §4.4: 5 consecutive failures opens the breaker,
// a 30s cooldown allows a single probe, and the probe must succeed to close.
var DefaultConfig = Config{
	FailureThreshold:         5,
	OpenTimeout:              30 * time.Second,
	HalfOpenSuccessThreshold: 1,
}

// Breaker is a per-upstream circuit breaker around gobreaker's generic
// CircuitBreaker[any], trip-gated by consecutive failures.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[any]

	mu            sync.Mutex
	onStateChange func(from, to State)
}

// New creates a breaker named for a single upstream.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg = DefaultConfig
	}

	b := &Breaker{name: name}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: orDefault(cfg.HalfOpenSuccessThreshold, 1),
		Timeout:     orDurationDefault(cfg.OpenTimeout, DefaultConfig.OpenTimeout),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.mu.Lock()
			cb := b.onStateChange
			b.mu.Unlock()
			if cb != nil {
				cb(fromGobreakerState(from), fromGobreakerState(to))
			}
		},
	}

	b.cb = gobreaker.NewCircuitBreaker[any](settings)
	return b
}

func orDefault(v, fallback uint32) uint32 {
	if v == 0 {
		return fallback
	}
	return v
}

func orDurationDefault(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

// OnStateChange registers a callback invoked whenever the breaker transitions.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	b.onStateChange = fn
	b.mu.Unlock()
}

// Execute runs fn under the breaker's gate. It returns ErrOpenState without
// calling fn when the breaker is open (or the half-open probe slot is taken).
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		return v, ErrOpenState
	}
	return v, err
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	return fromGobreakerState(b.cb.State())
}

// Snapshot returns a point-in-time view of the breaker matching spec's
// BreakerState shape.
func (b *Breaker) Snapshot() Snapshot {
	counts := b.cb.Counts()
	return Snapshot{
		Upstream:            b.name,
		State:               b.State().String(),
		ConsecutiveFailures: counts.ConsecutiveFailures,
		TotalRequests:       counts.Requests,
		TotalFailures:       counts.TotalFailures,
		TotalSuccesses:      counts.TotalSuccesses,
	}
}

// Snapshot is the JSON-serializable point-in-time view of a breaker.
type Snapshot struct {
	Upstream            string `json:"upstream"`
	State               string `json:"state"`
	ConsecutiveFailures uint32 `json:"consecutiveFailures"`
	TotalRequests       uint32 `json:"totalRequests"`
	TotalFailures       uint32 `json:"totalFailures"`
	TotalSuccesses      uint32 `json:"totalSuccesses"`
}

// Registry manages one breaker per upstream name, created lazily on first use.
type Registry struct {
	mu       sync.RWMutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewRegistry creates a registry that lazily builds breakers with cfg.
func NewRegistry(cfg Config) *Registry {
	if cfg.FailureThreshold == 0 {
		cfg = DefaultConfig
	}
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for upstream, creating it on first access.
func (r *Registry) Get(upstream string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[upstream]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[upstream]; ok {
		return b
	}
	b = New(upstream, r.cfg)
	r.breakers[upstream] = b
	return b
}

// Snapshots returns a snapshot of every breaker currently tracked.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Snapshot, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Snapshot()
	}
	return out
}

// IsOpenErr reports whether err is the breaker-open sentinel.
func IsOpenErr(err error) bool {
	return errors.Is(err, ErrOpenState)
}
