// Package resilience provides per-provider circuit breakers, retry with
// backoff, and the provider error taxonomy used by the waterfall engine.
package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// State represents the state of a circuit breaker.
type State int

const (
	// Closed is the normal operating state and calls flow through.
	Closed State = iota
	// Open rejects calls until the cooldown elapses.
	Open
	// HalfOpen lets trial calls through to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls the behavior of a single provider breaker.
type BreakerConfig struct {
	// FailureThreshold is the failure count that opens the circuit. Default: 5.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`

	// Cooldown is how long the circuit stays open before a trial call is
	// allowed. Default: 5m.
	Cooldown time.Duration `yaml:"cooldown" mapstructure:"cooldown"`

	// HalfOpenSuccesses is the number of consecutive trial successes needed
	// to close the circuit again. Default: 2.
	HalfOpenSuccesses int `yaml:"half_open_successes" mapstructure:"half_open_successes"`
}

// DefaultBreakerConfig returns the directory-provider defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		Cooldown:          5 * time.Minute,
		HalfOpenSuccesses: 2,
	}
}

// PaidBreakerConfig returns the tighter defaults used for paid email vendors.
func PaidBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  3,
		Cooldown:          3 * time.Minute,
		HalfOpenSuccesses: 2,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = d.HalfOpenSuccesses
	}
	return c
}

// Breaker tracks the health of one provider.
type Breaker struct {
	provider string
	cfg      BreakerConfig
	mu       sync.Mutex
	state    State

	failures          int
	lastFailureTime   time.Time
	halfOpenSuccesses int

	nowFunc       func() time.Time
	onStateChange func(provider string, from, to State)
}

func newBreaker(provider string, cfg BreakerConfig, now func() time.Time, hook func(string, State, State)) *Breaker {
	return &Breaker{
		provider:      provider,
		cfg:           cfg.withDefaults(),
		state:         Closed,
		nowFunc:       now,
		onStateChange: hook,
	}
}

// IsAvailable reports whether a call may be attempted. An open circuit whose
// cooldown has elapsed moves to half-open and admits the call.
func (b *Breaker) IsAvailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.nowFunc().Sub(b.lastFailureTime) >= b.cfg.Cooldown {
			b.transition(HalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess reports a completed call. In closed state the failure count
// recovers by one step instead of resetting.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenSuccesses {
			b.failures = 0
			b.halfOpenSuccesses = 0
			b.transition(Closed)
		}
	case Closed:
		if b.failures > 0 {
			b.failures--
		}
	}
}

// RecordFailure reports a failed or timed-out call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureTime = b.nowFunc()

	switch b.state {
	case Closed:
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(Open)
		}
	case HalfOpen:
		// Any failure during a trial reopens the circuit.
		b.halfOpenSuccesses = 0
		b.transition(Open)
	}
}

// State returns the stored circuit state without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Provider:          b.provider,
		State:             b.state,
		Failures:          b.failures,
		LastFailure:       b.lastFailureTime,
		HalfOpenSuccesses: b.halfOpenSuccesses,
		FailureThreshold:  b.cfg.FailureThreshold,
		Cooldown:          b.cfg.Cooldown,
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.onStateChange != nil && from != to {
		b.onStateChange(b.provider, from, to)
	}
}

// BreakerSnapshot is a point-in-time view of one breaker.
type BreakerSnapshot struct {
	Provider          string        `json:"provider"`
	State             State         `json:"state"`
	Failures          int           `json:"failures"`
	LastFailure       time.Time     `json:"last_failure,omitzero"`
	HalfOpenSuccesses int           `json:"half_open_successes"`
	FailureThreshold  int           `json:"failure_threshold"`
	Cooldown          time.Duration `json:"cooldown_ns"`
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.nowFunc = now }
}

// WithProviderConfig sets the breaker config for one provider.
func WithProviderConfig(provider string, cfg BreakerConfig) RegistryOption {
	return func(r *Registry) { r.configs[provider] = cfg }
}

// WithStateChange registers a hook invoked on every state transition. The
// hook runs with the breaker lock held and must not call back into it.
func WithStateChange(fn func(provider string, from, to State)) RegistryOption {
	return func(r *Registry) { r.onStateChange = fn }
}

// Registry holds one breaker per provider for the life of the process. It is
// shared by every running job.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	configs  map[string]BreakerConfig
	fallback BreakerConfig

	nowFunc       func() time.Time
	onStateChange func(provider string, from, to State)
}

// NewRegistry creates a registry. fallback applies to providers without an
// explicit config.
func NewRegistry(fallback BreakerConfig, opts ...RegistryOption) *Registry {
	r := &Registry{
		breakers: make(map[string]*Breaker),
		configs:  make(map[string]BreakerConfig),
		fallback: fallback.withDefaults(),
		nowFunc:  time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Get returns the breaker for provider, creating it on first use.
func (r *Registry) Get(provider string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[provider]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[provider]; ok {
		return b
	}
	cfg, ok := r.configs[provider]
	if !ok {
		cfg = r.fallback
	}
	b = newBreaker(provider, cfg, r.nowFunc, r.onStateChange)
	r.breakers[provider] = b
	return b
}

// IsAvailable reports whether provider may be called.
func (r *Registry) IsAvailable(provider string) bool {
	return r.Get(provider).IsAvailable()
}

// RecordSuccess reports a successful provider call.
func (r *Registry) RecordSuccess(provider string) {
	r.Get(provider).RecordSuccess()
}

// RecordFailure reports a failed provider call.
func (r *Registry) RecordFailure(provider string) {
	r.Get(provider).RecordFailure()
}

// Failures returns the failure count for provider.
func (r *Registry) Failures(provider string) int {
	return r.Get(provider).Failures()
}

// State returns the circuit state for provider.
func (r *Registry) State(provider string) State {
	return r.Get(provider).State()
}

// Snapshot returns the state of every breaker created so far, sorted by provider.
func (r *Registry) Snapshot() []BreakerSnapshot {
	r.mu.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	out := make([]BreakerSnapshot, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
