// internal/analyzer/breaker.go
package analyzer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/internal/config"
)

// ErrBreakerOpen is returned by Allow while the breaker is rejecting calls.
// Rejections are not provider failures and never feed the failure count.
var ErrBreakerOpen = errors.New("llm circuit breaker is open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CircuitBreaker guards the LLM provider against hammering a failing
// upstream. Closed counts consecutive failures; open rejects everything until
// the reset timeout; half-open admits a bounded number of concurrent probes
// and closes again once enough of them succeed in a row.
type CircuitBreaker struct {
	cfg    config.BreakerConfig
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     breakerState
	failures  int // consecutive failures while closed
	successes int // consecutive probe successes while half-open
	inFlight  int // admitted probes not yet resolved (half-open only)
	openedAt  time.Time
}

// NewCircuitBreaker builds a closed breaker. Zero or missing thresholds fall
// back to the documented defaults.
func NewCircuitBreaker(cfg config.BreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 3
	}
	if cfg.HalfOpenMax < cfg.SuccessThreshold {
		cfg.HalfOpenMax = cfg.SuccessThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		cfg:    cfg,
		logger: logger.Named("llm-breaker"),
		now:    time.Now,
		state:  stateClosed,
	}
}

// Allow reserves permission for one provider call. A nil return obliges the
// caller to report the outcome through RecordSuccess or RecordFailure.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return nil
	case stateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return ErrBreakerOpen
		}
		b.toHalfOpen()
		b.inFlight = 1
		return nil
	case stateHalfOpen:
		if b.inFlight >= b.cfg.HalfOpenMax {
			return ErrBreakerOpen
		}
		b.inFlight++
		return nil
	}
	return nil
}

// RecordSuccess reports a completed provider call.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		b.failures = 0
	case stateHalfOpen:
		if b.inFlight > 0 {
			b.inFlight--
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.toClosed()
		}
	case stateOpen:
		// A straggler admitted before the trip; the open clock stands.
	}
}

// RecordFailure reports a failed provider call. While half-open a single
// probe failure reopens the breaker.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.toOpen()
		}
	case stateHalfOpen:
		b.toOpen()
	case stateOpen:
		// Already open; stragglers carry no new information.
	}
}

// State reports the current state name for health and log surfaces.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

// toOpen, toHalfOpen and toClosed assume b.mu is held.

func (b *CircuitBreaker) toOpen() {
	prior := b.state
	b.state = stateOpen
	b.openedAt = b.now()
	b.failures = 0
	b.successes = 0
	b.inFlight = 0
	b.logger.Warn("Circuit breaker opened",
		zap.String("from", prior.String()),
		zap.Duration("reset_timeout", b.cfg.ResetTimeout),
	)
}

func (b *CircuitBreaker) toHalfOpen() {
	b.state = stateHalfOpen
	b.successes = 0
	b.inFlight = 0
	b.logger.Info("Circuit breaker half-open, admitting probes",
		zap.Int("half_open_max", b.cfg.HalfOpenMax),
	)
}

func (b *CircuitBreaker) toClosed() {
	b.state = stateClosed
	b.failures = 0
	b.successes = 0
	b.inFlight = 0
	b.logger.Info("Circuit breaker closed")
}
