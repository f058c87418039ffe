package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestGovernor_FirstAcquireImmediate(t *testing.T) {
	g := NewGovernor("test", Config{RPS: 3, RPM: 180, RPH: 5000, MinDelay: 350 * time.Millisecond})

	start := time.Now()
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire should not error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("First acquire should be immediate, took %v", elapsed)
	}
}

func TestGovernor_MinDelaySpacing(t *testing.T) {
	g := NewGovernor("test", Config{RPS: 100, RPM: 1000, RPH: 10000, MinDelay: 50 * time.Millisecond})

	var starts []time.Time
	for i := 0; i < 4; i++ {
		if err := g.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
		starts = append(starts, time.Now())
	}

	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		if gap < 45*time.Millisecond {
			t.Errorf("Requests %d and %d only %v apart", i-1, i, gap)
		}
	}
}

func TestGovernor_PerSecondWindow(t *testing.T) {
	// 5 requests at 2 rps need at least ceil((5-2)/2) = 2 seconds
	g := NewGovernor("test", Config{RPS: 2, RPM: 100, RPH: 1000})

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := g.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}
	elapsed := time.Since(start)

	if elapsed < 1900*time.Millisecond {
		t.Errorf("Expected at least ~2s for 5 requests at 2 rps, took %v", elapsed)
	}
	if elapsed > 3*time.Second {
		t.Errorf("Took too long: %v", elapsed)
	}
}

func TestGovernor_ContextCancelled(t *testing.T) {
	g := NewGovernor("test", Config{RPS: 1, RPM: 60, RPH: 3600})
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := g.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Cancelled acquire should return promptly, took %v", elapsed)
	}
}

func TestGovernor_ConcurrentCallersRespectBudget(t *testing.T) {
	g := NewGovernor("test", Config{RPS: 4, RPM: 100, RPH: 1000})

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed < 950*time.Millisecond {
		t.Errorf("8 requests at 4 rps should take about 1s, took %v", elapsed)
	}
	if got := g.Stats().Requests; got != 8 {
		t.Errorf("Expected 8 requests recorded, got %d", got)
	}
}

func TestGovernor_Stats(t *testing.T) {
	g := NewGovernor("streak", Config{RPS: 3, RPM: 180, RPH: 5000})
	g.Acquire(context.Background())
	g.Acquire(context.Background())

	stats := g.Stats()
	if stats.Provider != "streak" {
		t.Errorf("Provider should be streak, got %s", stats.Provider)
	}
	if stats.Second != 2 || stats.Minute != 2 || stats.Hour != 2 {
		t.Errorf("Unexpected window counts %d/%d/%d", stats.Second, stats.Minute, stats.Hour)
	}
	if stats.IsThrottled() {
		t.Error("Governor should not be throttled after 2 of 3 requests")
	}

	g.Acquire(context.Background())
	if !g.Stats().IsThrottled() {
		t.Error("Governor should be throttled after 3 of 3 requests")
	}

	g.Reset()
	if g.Stats().Second != 0 {
		t.Error("Reset should clear window counts")
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	waits map[string]int
}

func (o *recordingObserver) ObserveWait(provider string, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.waits[provider]++
}

func TestManager(t *testing.T) {
	obs := &recordingObserver{waits: map[string]int{}}
	m := NewManager(obs)
	m.AddProvider("stockedge", Config{RPS: 3, RPM: 180, RPH: 5000})

	if err := m.Acquire(context.Background(), "stockedge"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := m.Acquire(context.Background(), "unknown"); err != nil {
		t.Errorf("Unknown provider should not be limited: %v", err)
	}

	if _, ok := m.Get("stockedge"); !ok {
		t.Error("Manager should return registered governor")
	}
	stats := m.Stats()
	if len(stats) != 1 || stats["stockedge"].Requests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if obs.waits["stockedge"] != 1 {
		t.Errorf("Observer should see one wait, got %d", obs.waits["stockedge"])
	}
}
