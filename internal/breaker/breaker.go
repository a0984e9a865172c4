// Package breaker implements the per-external-resource circuit breaker
// spec.md §9's design note requires: "Centralize: one breaker per external
// resource (each threat-intel provider, the primary store, the time-series
// store). Configure thresholds (5 consecutive failures ⇒ open for 30 s)
// consistently." Grounded on the Hyper-ZiLLA threat_analyzer.go
// CircuitBreaker (other_examples) — state machine and lock shape kept,
// generalized from a fixed per-call-site map into a reusable type any
// component can instantiate.
package breaker

import (
	"sync"
	"time"
)

type state int

const (
	closed state = iota
	open
	halfOpen
)

// Breaker is a CLOSED/OPEN/HALF_OPEN circuit breaker. The zero value is not
// usable; construct with New.
type Breaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration
	failures     int
	lastFailure  time.Time
	state        state
}

// New builds a Breaker that opens after maxFailures consecutive failures
// and probes again resetTimeout after the failure that opened it.
func New(maxFailures int, resetTimeout time.Duration) *Breaker {
	return &Breaker{maxFailures: maxFailures, resetTimeout: resetTimeout}
}

// Default matches spec.md §9's stated default: 5 consecutive failures,
// 30-second open window.
func Default() *Breaker { return New(5, 30*time.Second) }

// Allow reports whether a call against the guarded resource should proceed.
// While OPEN it denies calls until resetTimeout has elapsed, then moves to
// HALF_OPEN; in HALF_OPEN every call is admitted until the next recorded
// outcome closes or re-opens the breaker.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case open:
		if time.Since(b.lastFailure) > b.resetTimeout {
			b.state = halfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker (from HALF_OPEN) or is a no-op
// (from CLOSED).
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == halfOpen {
		b.state = closed
	}
	b.failures = 0
}

// RecordFailure counts a consecutive failure and opens the breaker once
// maxFailures is reached. A failure observed during HALF_OPEN immediately
// re-opens it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	if b.state == halfOpen || b.failures >= b.maxFailures {
		b.state = open
	}
}

// IsOpen reports the breaker's current state without mutating it, for
// health/metrics reporting.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == open
}
