// Package services tracks the backend services the orchestrator can route
// to: who they are, what they can do, and whether they are reachable right
// now. Health is probed periodically and updated by observed call results.
package services

import (
	"sync"
	"time"
)

// HealthState is the externally visible health of a service.
type HealthState string

const (
	HealthOK          HealthState = "ok"
	HealthDegraded    HealthState = "degraded"
	HealthUnreachable HealthState = "unreachable"
)

type breakerState string

const (
	breakerClosed   breakerState = "closed"
	breakerOpen     breakerState = "open"
	breakerHalfOpen breakerState = "half-open"
)

type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
	}
}

// HealthBreaker is a circuit breaker driving the three health states:
// closed reads as ok, open as unreachable, and an open breaker past its
// timeout as degraded (worth one try). Any success closes it again.
type HealthBreaker struct {
	config      BreakerConfig
	state       breakerState
	failures    int
	successes   int
	lastFailure time.Time
	mu          sync.RWMutex
}

func NewHealthBreaker(config BreakerConfig) *HealthBreaker {
	return &HealthBreaker{
		config: config,
		state:  breakerClosed,
	}
}

func (b *HealthBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		b.failures = 0
	case breakerOpen, breakerHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.state = breakerClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *HealthBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()
	b.successes = 0

	switch b.state {
	case breakerClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.state = breakerOpen
		}
	case breakerHalfOpen:
		b.state = breakerOpen
	}
}

// Health maps the breaker onto the service health model, promoting open to
// half-open once the open timeout has elapsed.
func (b *HealthBreaker) Health() HealthState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerOpen && time.Since(b.lastFailure) >= b.config.OpenTimeout {
		b.state = breakerHalfOpen
	}

	switch b.state {
	case breakerClosed:
		return HealthOK
	case breakerHalfOpen:
		return HealthDegraded
	default:
		return HealthUnreachable
	}
}

func (b *HealthBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
	b.successes = 0
}

type BreakerStats struct {
	Health      HealthState `json:"health"`
	Failures    int         `json:"failures"`
	LastFailure time.Time   `json:"last_failure,omitempty"`
}

func (b *HealthBreaker) Stats() BreakerStats {
	health := b.Health()
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BreakerStats{
		Health:      health,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
}
