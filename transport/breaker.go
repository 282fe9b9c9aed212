package transport

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/llmbridge/llm"
)

// State is the state of one endpoint's circuit.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
	DefaultSuccessThreshold = 2
)

// BreakerConfig holds the thresholds of a CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
	SuccessThreshold int
}

// DefaultBreakerConfig returns the default breaker thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: DefaultFailureThreshold,
		Cooldown:         DefaultCooldown,
		SuccessThreshold: DefaultSuccessThreshold,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold > 0 {
		d.FailureThreshold = c.FailureThreshold
	}
	if c.Cooldown > 0 {
		d.Cooldown = c.Cooldown
	}
	if c.SuccessThreshold > 0 {
		d.SuccessThreshold = c.SuccessThreshold
	}
	return d
}

// CircuitState is a point-in-time snapshot of one circuit.
type CircuitState struct {
	State               State
	ConsecutiveFailures int
	LastFailureTime     time.Time
	HalfOpenSuccesses   int
}

type circuit struct {
	state               State
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenSuccesses   int
}

// StateChangeFunc is invoked after a circuit changes state. It runs with the
// breaker lock held and must not call back into the breaker.
type StateChangeFunc func(key EndpointKey, from, to State)

// CircuitBreaker isolates failing endpoints. Circuits are created lazily per
// EndpointKey. A CircuitBreaker is safe for concurrent use; distinct breakers
// never share state.
type CircuitBreaker struct {
	mu       sync.Mutex
	config   BreakerConfig
	circuits map[EndpointKey]*circuit
	now      func() time.Time
	logger   zerolog.Logger
	onChange []StateChangeFunc
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *CircuitBreaker) {
		b.now = now
	}
}

// WithBreakerLogger sets the logger used for state transitions.
func WithBreakerLogger(logger zerolog.Logger) BreakerOption {
	return func(b *CircuitBreaker) {
		b.logger = logger.With().Str("component", "circuitBreaker").Logger()
	}
}

// OnStateChange registers a transition callback.
func OnStateChange(fn StateChangeFunc) BreakerOption {
	return func(b *CircuitBreaker) {
		b.onChange = append(b.onChange, fn)
	}
}

// NewCircuitBreaker creates a breaker. Zero thresholds select the defaults.
func NewCircuitBreaker(config BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	b := &CircuitBreaker{
		config:   config.withDefaults(),
		circuits: make(map[EndpointKey]*circuit),
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Config returns the effective thresholds.
func (b *CircuitBreaker) Config() BreakerConfig {
	return b.config
}

// AddStateChangeHook registers fn after construction.
func (b *CircuitBreaker) AddStateChangeHook(fn StateChangeFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = append(b.onChange, fn)
}

// circuitFor must be called with b.mu held.
func (b *CircuitBreaker) circuitFor(key EndpointKey) *circuit {
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[key] = c
	}
	return c
}

// transition must be called with b.mu held.
func (b *CircuitBreaker) transition(key EndpointKey, c *circuit, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	if to == StateClosed {
		c.consecutiveFailures = 0
		c.halfOpenSuccesses = 0
	}

	b.logger.Info().
		Str("endpoint", key.String()).
		Str("from", from.String()).
		Str("to", to.String()).
		Int("consecutive_failures", c.consecutiveFailures).
		Msg("Circuit state changed")

	for _, fn := range b.onChange {
		fn(key, from, to)
	}
}

// AllowRequest gates one attempt against key. It returns a circuit_open
// *llm.Error while the circuit is open and its cooldown has not elapsed.
// An open circuit whose cooldown has elapsed moves to half-open and admits
// the call. Half-open circuits admit every caller.
func (b *CircuitBreaker) AllowRequest(key EndpointKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(key)
	if c.state != StateOpen {
		return nil
	}

	elapsed := b.now().Sub(c.lastFailureTime)
	if elapsed >= b.config.Cooldown {
		c.halfOpenSuccesses = 0
		b.transition(key, c, StateHalfOpen)
		return nil
	}
	return llm.NewCircuitOpenError(key.String(), b.config.Cooldown-elapsed)
}

// RecordSuccess records a successful response for key.
func (b *CircuitBreaker) RecordSuccess(key EndpointKey) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(key)
	switch c.state {
	case StateClosed:
		c.consecutiveFailures = 0
	case StateHalfOpen:
		c.halfOpenSuccesses++
		if c.halfOpenSuccesses >= b.config.SuccessThreshold {
			b.transition(key, c, StateClosed)
		}
	case StateOpen:
		// A response that was in flight when the circuit opened; ignored.
	}
}

// RecordFailure records a connection-level or server-level failure for key.
// Client error responses (4xx) must not be recorded.
func (b *CircuitBreaker) RecordFailure(key EndpointKey) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(key)
	now := b.now()
	switch c.state {
	case StateClosed:
		c.consecutiveFailures++
		if c.consecutiveFailures >= b.config.FailureThreshold {
			c.lastFailureTime = now
			b.transition(key, c, StateOpen)
		}
	case StateHalfOpen:
		c.consecutiveFailures++
		c.halfOpenSuccesses = 0
		c.lastFailureTime = now
		b.transition(key, c, StateOpen)
	case StateOpen:
		c.consecutiveFailures++
		c.lastFailureTime = now
	}
}

// IsOpen reports whether the circuit for key is currently open. It has no
// side effects: an open circuit past its cooldown still reports true until
// AllowRequest moves it to half-open.
func (b *CircuitBreaker) IsOpen(key EndpointKey) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	return ok && c.state == StateOpen
}

// State returns a snapshot of the circuit for key. Unknown keys report a
// fresh closed circuit without creating one.
func (b *CircuitBreaker) State(key EndpointKey) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return CircuitState{State: StateClosed}
	}
	return CircuitState{
		State:               c.state,
		ConsecutiveFailures: c.consecutiveFailures,
		LastFailureTime:     c.lastFailureTime,
		HalfOpenSuccesses:   c.halfOpenSuccesses,
	}
}

// Reset clears the circuit for key.
func (b *CircuitBreaker) Reset(key EndpointKey) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[key]; ok {
		b.transition(key, c, StateClosed)
		delete(b.circuits, key)
	}
}

// ResetAll clears every circuit.
func (b *CircuitBreaker) ResetAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, c := range b.circuits {
		b.transition(key, c, StateClosed)
	}
	b.circuits = make(map[EndpointKey]*circuit)
}

// Endpoints lists the keys with a tracked circuit, sorted.
func (b *CircuitBreaker) Endpoints() []EndpointKey {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]EndpointKey, 0, len(b.circuits))
	for key := range b.circuits {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}
