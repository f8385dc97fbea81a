// Package circuitbreaker guards notification delivery endpoints. A dead
// LINE or AWS endpoint would otherwise make every reminder in a scan pass
// wait out a full HTTP timeout; tripping the breaker turns those into
// immediate ErrCircuitOpen failures until the provider recovers.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned instead of calling the provider while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker's position in its recovery cycle.
//
//	Closed    -> Open:     MaxFailures consecutive failures
//	Open      -> HalfOpen: RecoveryTimeout elapsed, probe traffic allowed
//	HalfOpen  -> Closed:   probe succeeded
//	HalfOpen  -> Open:     probe failed
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
		return "half-open"
	}
	return "unknown"
}

// Config tunes one breaker. Zero values fall back to DefaultConfig's.
type Config struct {
	// Name identifies the guarded endpoint ("line", "ses", "sns").
	Name string

	// MaxFailures is how many consecutive failures trip the breaker.
	MaxFailures int

	// RecoveryTimeout is how long to stay open before probing again.
	RecoveryTimeout time.Duration

	// HalfOpenMaxRequests caps in-flight probes while half-open.
	HalfOpenMaxRequests int
}

// DefaultConfig is tuned for notification providers: trip after five
// consecutive failures, probe with a single request every 30 seconds.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxFailures:         5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// CircuitBreaker tracks consecutive failures against one endpoint.
type CircuitBreaker struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.RWMutex
	state       State
	failures    int
	probes      int
	openedUntil time.Time
	lastFailure time.Time

	totalRequests  int64
	totalSuccesses int64
	totalFailures  int64
	totalRejected  int64
}

// New builds a breaker, filling unset config fields with defaults.
func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	def := DefaultConfig(cfg.Name)
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}

	logger.Info("circuit breaker created",
		zap.String("name", cfg.Name),
		zap.Int("max_failures", cfg.MaxFailures),
		zap.Duration("recovery_timeout", cfg.RecoveryTimeout),
	)

	return &CircuitBreaker{
		cfg:    cfg,
		logger: logger,
		state:  StateClosed,
	}
}

// Allow reports whether a request may go to the provider right now. A
// true result must be followed by RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Now().Before(cb.openedUntil) {
			cb.totalRejected++
			return false
		}
		cb.setState(StateHalfOpen)
		cb.probes = 1
		cb.logger.Info("circuit breaker probing",
			zap.String("name", cb.cfg.Name),
		)
		return true

	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMaxRequests {
			cb.totalRejected++
			return false
		}
		cb.probes++
		return true
	}
	return false
}

// RecordSuccess clears the failure streak. A successful half-open probe
// closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalSuccesses++
	cb.failures = 0

	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
		cb.logger.Info("circuit breaker closed, endpoint recovered",
			zap.String("name", cb.cfg.Name),
		)
	}
}

// RecordFailure extends the failure streak, opening the circuit once the
// streak reaches MaxFailures. A failed probe reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalFailures++
	cb.failures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.cfg.MaxFailures {
			cb.trip("too many consecutive failures")
		}
	case StateHalfOpen:
		cb.trip("probe failed")
	}
}

func (cb *CircuitBreaker) trip(reason string) {
	cb.setState(StateOpen)
	cb.openedUntil = time.Now().Add(cb.cfg.RecoveryTimeout)
	cb.logger.Warn("circuit breaker opened",
		zap.String("name", cb.cfg.Name),
		zap.String("reason", reason),
		zap.Int("failures", cb.failures),
	)
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats is a point-in-time snapshot for dashboards.
type Stats struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	FailureStreak  int    `json:"failure_streak"`
	TotalRequests  int64  `json:"total_requests"`
	TotalSuccesses int64  `json:"total_successes"`
	TotalFailures  int64  `json:"total_failures"`
	TotalRejected  int64  `json:"total_rejected"`
	LastFailure    string `json:"last_failure,omitempty"`
}

// Stats returns delivery counters since the breaker was created.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	s := Stats{
		Name:           cb.cfg.Name,
		State:          cb.state.String(),
		FailureStreak:  cb.failures,
		TotalRequests:  cb.totalRequests,
		TotalSuccesses: cb.totalSuccesses,
		TotalFailures:  cb.totalFailures,
		TotalRejected:  cb.totalRejected,
	}
	if !cb.lastFailure.IsZero() {
		s.LastFailure = cb.lastFailure.Format(time.RFC3339)
	}
	return s
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(next State) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.probes = 0

	cb.logger.Debug("circuit breaker state change",
		zap.String("name", cb.cfg.Name),
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
	)
}

func (cb *CircuitBreaker) String() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return fmt.Sprintf("CircuitBreaker[%s] state=%s failures=%d/%d",
		cb.cfg.Name, cb.state, cb.failures, cb.cfg.MaxFailures)
}
