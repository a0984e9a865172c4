package pgstore

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/veil-waf/cloakgate/internal/breaker"
)

func TestGuard_NotFoundCountsAsBreakerSuccess(t *testing.T) {
	db := &DB{breaker: breaker.New(1, time.Minute)}

	if err := db.guard(pgx.ErrNoRows); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("guard should pass through pgx.ErrNoRows, got %v", err)
	}
	if db.breaker.IsOpen() {
		t.Fatal("a not-found result should not count as a breaker failure")
	}
}

func TestGuard_RealErrorOpensBreakerAfterThreshold(t *testing.T) {
	db := &DB{breaker: breaker.New(1, time.Minute)}

	boom := errors.New("connection reset")
	if err := db.guard(boom); !errors.Is(err, boom) {
		t.Fatalf("guard should pass through the original error, got %v", err)
	}
	if !db.breaker.IsOpen() {
		t.Fatal("expected breaker to open after reaching maxFailures")
	}
}

func TestGetCampaignBySlug_BreakerOpenSkipsPoolCall(t *testing.T) {
	b := breaker.New(1, time.Minute)
	b.RecordFailure() // trips a maxFailures=1 breaker
	db := &DB{breaker: b}

	if _, err := db.GetCampaignBySlug(nil, "promo"); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("GetCampaignBySlug = %v, want ErrBreakerOpen", err)
	}
}
