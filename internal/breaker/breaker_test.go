package breaker_test

import (
	"testing"
	"time"

	"github.com/veil-waf/cloakgate/internal/breaker"
)

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	b := breaker.New(3, time.Minute)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
	}
	if !b.Allow() {
		t.Fatal("breaker should still be closed before reaching maxFailures")
	}

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("breaker should deny calls once maxFailures consecutive failures are recorded")
	}
	if !b.IsOpen() {
		t.Fatal("IsOpen should report true once the breaker trips")
	}
}

func TestBreaker_HalfOpenProbeAfterResetTimeout(t *testing.T) {
	b := breaker.New(1, 10*time.Millisecond)
	b.RecordFailure()
	if b.Allow() {
		t.Fatal("breaker should deny immediately after tripping")
	}

	time.Sleep(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("breaker should admit a half-open probe once resetTimeout has elapsed")
	}
}

func TestBreaker_SuccessClosesFromHalfOpen(t *testing.T) {
	b := breaker.New(1, 10*time.Millisecond)
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	b.Allow() // transitions to half-open

	b.RecordSuccess()
	if b.IsOpen() {
		t.Fatal("RecordSuccess from half-open should close the breaker")
	}
}

func TestBreaker_FailureDuringHalfOpenReopens(t *testing.T) {
	b := breaker.New(1, 10*time.Millisecond)
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	b.Allow() // transitions to half-open

	b.RecordFailure()
	if !b.IsOpen() {
		t.Fatal("a failure observed during half-open should re-open the breaker")
	}
}

func TestDefault_StartsClosed(t *testing.T) {
	b := breaker.Default()
	if b.IsOpen() {
		t.Fatal("a fresh Default breaker should start closed")
	}
	if !b.Allow() {
		t.Fatal("a fresh Default breaker should allow calls")
	}
}
