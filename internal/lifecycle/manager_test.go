package lifecycle

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

func TestManager_ContextCancelRunsShutdownInReverse(t *testing.T) {
	mgr := NewManager(nil)
	var mu sync.Mutex
	steps := make([]string, 0, 4)
	appendStep := func(v string) {
		mu.Lock()
		steps = append(steps, v)
		mu.Unlock()
	}

	mgr.AddRun("session", func(ctx context.Context) error {
		<-ctx.Done()
		appendStep("session-stopped")
		return ctx.Err()
	})
	mgr.AddShutdown("history", func(context.Context) error {
		appendStep("close-history")
		return nil
	})
	mgr.AddShutdown("cache", func(context.Context) error {
		appendStep("close-cache")
		return nil
	})

	parent, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- mgr.Run(parent)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run should not fail: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{"session-stopped", "close-cache", "close-history"}
	if !slices.Equal(steps, want) {
		t.Fatalf("unexpected steps: %#v", steps)
	}
}

func TestManager_RunErrorCancelsOthersAndShutsDown(t *testing.T) {
	mgr := NewManager(nil)
	runErr := errors.New("boom")
	shutdownCalled := 0
	otherStopped := make(chan struct{})

	mgr.AddRun("failing", func(context.Context) error {
		return runErr
	})
	mgr.AddRun("waiting", func(ctx context.Context) error {
		<-ctx.Done()
		close(otherStopped)
		return nil
	})
	mgr.AddShutdown("history", func(context.Context) error {
		shutdownCalled++
		return nil
	})

	err := mgr.Run(context.Background())
	if !errors.Is(err, runErr) {
		t.Fatalf("expected run error, got %v", err)
	}
	select {
	case <-otherStopped:
	default:
		t.Fatal("expected the other job to be cancelled")
	}
	if shutdownCalled != 1 {
		t.Fatalf("expected shutdown called once, got %d", shutdownCalled)
	}
}
