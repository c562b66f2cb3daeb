package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecoversPanicAndCancels(t *testing.T) {
	sup := NewSupervisor(context.Background(), WithCancelOnError(true))
	sup.Go0("boom", func(context.Context) { panic("kaboom") })
	sup.Go0("waiter", func(ctx context.Context) { <-ctx.Done() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	if err == nil {
		t.Fatalf("expected panic error")
	}
	if sup.Context().Err() == nil {
		t.Fatalf("supervisor context should be cancelled")
	}
}

func TestGoRestartRetriesUntilCleanExit(t *testing.T) {
	sup := NewSupervisor(context.Background())
	var runs int32
	sup.GoRestart("flaky", func(context.Context) error {
		if atomic.AddInt32(&runs, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := atomic.LoadInt32(&runs); got != 3 {
		t.Fatalf("runs=%d want 3", got)
	}
}

func TestWaitHonoursDeadline(t *testing.T) {
	sup := NewSupervisor(context.Background())
	release := make(chan struct{})
	sup.Go0("stuck", func(context.Context) { <-release })
	defer close(release)
	if n := sup.Active(); n != 1 {
		t.Fatalf("Active=%d want 1", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sup.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait err=%v want deadline exceeded", err)
	}
}
