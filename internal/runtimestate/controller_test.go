package runtimestate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestController_stoppedThenRunning(t *testing.T) {
	var up atomic.Bool
	prober := ProberFunc(func(ctx context.Context) error {
		if !up.Load() {
			return errors.New("connection refused")
		}
		return nil
	})
	c := NewController("primary", prober)

	if err := c.Gate(); !errors.Is(err, ErrBackendNotReady) {
		t.Fatalf("initial Gate() = %v, want ErrBackendNotReady", err)
	}
	if s := c.Refresh(context.Background()); s.Status != Stopped {
		t.Errorf("status = %v, want stopped", s.Status)
	}
	if err := c.Gate(); !errors.Is(err, ErrBackendNotReady) {
		t.Fatalf("Gate() while stopped = %v", err)
	}

	up.Store(true)
	if s := c.Refresh(context.Background()); s.Status != Running {
		t.Errorf("status = %v, want running", s.Status)
	}
	if err := c.Gate(); err != nil {
		t.Errorf("Gate() after successful refresh = %v", err)
	}
	if !c.IsReady() {
		t.Error("IsReady should be true")
	}
}

func TestController_unhealthyIsError(t *testing.T) {
	c := NewController("primary", ProberFunc(func(ctx context.Context) error {
		return fmt.Errorf("%w: status 500", ErrUnhealthy)
	}))
	s := c.Refresh(context.Background())
	if s.Status != Error {
		t.Errorf("status = %v, want error", s.Status)
	}
	if s.Detail == "" {
		t.Error("detail should carry the probe error")
	}
	if c.IsReady() {
		t.Error("error status must not be ready")
	}
}

func TestController_staleMeansNotReady(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewController("primary", ProberFunc(func(context.Context) error { return nil }),
		WithClock(clock.Now), WithFreshness(10*time.Second))
	c.Refresh(context.Background())
	if !c.IsReady() {
		t.Fatal("fresh running status should be ready")
	}
	clock.Advance(11 * time.Second)
	s := c.Snapshot()
	if !s.Stale || s.Status != Running {
		t.Errorf("snapshot = %+v, want stale running", s)
	}
	if err := c.Gate(); !errors.Is(err, ErrBackendNotReady) {
		t.Errorf("stale Gate() = %v", err)
	}
}

func TestController_probeTimeout(t *testing.T) {
	c := NewController("slow", ProberFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), WithProbeTimeout(20*time.Millisecond))
	start := time.Now()
	s := c.Refresh(context.Background())
	if time.Since(start) > time.Second {
		t.Error("probe was not bounded by the timeout")
	}
	if s.Status != Stopped {
		t.Errorf("timed out probe status = %v, want stopped", s.Status)
	}
}

func TestController_Run(t *testing.T) {
	var probes atomic.Int32
	c := NewController("primary", ProberFunc(func(context.Context) error {
		probes.Add(1)
		return nil
	}), WithInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for probes.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
	if probes.Load() < 3 {
		t.Errorf("expected repeated probes, got %d", probes.Load())
	}
	if !c.IsReady() {
		t.Error("controller should be ready after successful probes")
	}
}

func TestStatus_String(t *testing.T) {
	for s, want := range map[Status]string{Stopped: "stopped", Starting: "starting", Running: "running", Error: "error"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
