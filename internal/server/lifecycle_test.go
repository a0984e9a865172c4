package server_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/veil-waf/cloakgate/internal/server"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunWithRecovery_StopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32

	done := make(chan struct{})
	go func() {
		server.RunWithRecovery(ctx, discardLogger(), "test-loop", func(ctx context.Context) {
			atomic.AddInt32(&calls, 1)
		})
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunWithRecovery did not return after context cancellation")
	}
	if atomic.LoadInt32(&calls) == 0 {
		t.Fatal("fn should have been invoked at least once before cancellation")
	}
}

func TestRunWithRecovery_RecoversFromPanicAndRestarts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	done := make(chan struct{})
	go func() {
		server.RunWithRecovery(ctx, discardLogger(), "panicky-loop", func(ctx context.Context) {
			n := atomic.AddInt32(&calls, 1)
			if n == 1 {
				panic("boom")
			}
			cancel()
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("RunWithRecovery should recover from a panic and invoke fn again")
	}
	if atomic.LoadInt32(&calls) < 2 {
		t.Fatalf("fn invoked %d times, want at least 2 (panic recovery should restart it)", calls)
	}
}

func TestSetupLogger_DefaultsToInfoForUnknownLevel(t *testing.T) {
	log := server.SetupLogger("nonsense")
	if log == nil {
		t.Fatal("SetupLogger returned nil")
	}
	if !log.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("SetupLogger with an unrecognized level should default to info (enabled for Info)")
	}
}

func TestSetupLogger_DebugEnablesDebugLevel(t *testing.T) {
	log := server.SetupLogger("debug")
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("SetupLogger(\"debug\") should enable debug-level logging")
	}
}
