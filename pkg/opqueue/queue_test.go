package opqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitForQueueLength(t *testing.T, q *Queue, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if q.Stats().QueueLength == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("queue length never reached %d (now %d)", want, q.Stats().QueueLength)
}

func waitForActive(t *testing.T, q *Queue, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if q.Stats().Active == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("active count never reached %d (now %d)", want, q.Stats().Active)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(WithMaxConcurrency(0)); err == nil {
		t.Fatalf("expected error for zero concurrency")
	}
	if _, err := New(WithMaxQueueSize(-1)); err == nil {
		t.Fatalf("expected error for negative queue size")
	}
	if _, err := New(WithTaskTimeout(0)); err == nil {
		t.Fatalf("expected error for zero timeout")
	}
}

func TestEnqueueReturnsResult(t *testing.T) {
	q, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	value, err := q.Enqueue(context.Background(), func(_ context.Context) (any, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if value != 42 {
		t.Fatalf("unexpected value: %v", value)
	}
}

func TestConcurrencyNeverExceedsLimit(t *testing.T) {
	q, err := New(WithMaxConcurrency(2), WithMaxQueueSize(32))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(context.Background(), func(_ context.Context) (any, error) {
				now := active.Add(1)
				for {
					old := peak.Load()
					if now <= old || peak.CompareAndSwap(old, now) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				active.Add(-1)
				return nil, nil
			})
			if err != nil {
				t.Errorf("enqueue: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Fatalf("observed %d concurrent tasks, limit is 2", peak.Load())
	}
}

func TestPriorityThenFIFO(t *testing.T) {
	q, err := New(WithMaxConcurrency(1), WithMaxQueueSize(8))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	gate := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = q.Enqueue(context.Background(), func(_ context.Context) (any, error) {
			<-gate
			return nil, nil
		})
	}()
	waitForActive(t, q, 1)
	// Slot is now occupied; queue the rest in a known submission order.

	var mu sync.Mutex
	var order []string
	submit := func(name string, p Priority, queuedAfter int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Enqueue(context.Background(), func(_ context.Context) (any, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return nil, nil
			}, WithPriority(p))
		}()
		waitForQueueLength(t, q, queuedAfter)
	}

	submit("low-1", PriorityLow, 1)
	submit("low-2", PriorityLow, 2)
	submit("high", PriorityHigh, 3)
	submit("normal", PriorityNormal, 4)

	close(gate)
	wg.Wait()

	want := []string{"high", "normal", "low-1", "low-2"}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("unexpected completions: %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("execution order %v, want %v", order, want)
		}
	}
}

func TestOverflowRejection(t *testing.T) {
	q, err := New(WithMaxConcurrency(1), WithMaxQueueSize(2))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	gate := make(chan struct{})
	results := make(chan error, 3)
	long := func(_ context.Context) (any, error) {
		<-gate
		return "done", nil
	}

	go func() {
		_, err := q.Enqueue(context.Background(), long)
		results <- err
	}()
	waitForActive(t, q, 1)
	go func() {
		_, err := q.Enqueue(context.Background(), long)
		results <- err
	}()
	waitForQueueLength(t, q, 1)
	go func() {
		_, err := q.Enqueue(context.Background(), long)
		results <- err
	}()
	waitForQueueLength(t, q, 2)

	// Queue is at capacity: the next submission must fail immediately.
	if _, err := q.Enqueue(context.Background(), long); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	close(gate)
	for i := 0; i < 3; i++ {
		if err := <-results; err != nil {
			t.Fatalf("accepted task failed: %v", err)
		}
	}
}

func TestTaskTimeoutFreesSlot(t *testing.T) {
	q, err := New(WithMaxConcurrency(1), WithMaxQueueSize(4), WithTaskTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, ErrTaskTimeout) {
		t.Fatalf("expected ErrTaskTimeout, got %v", err)
	}

	// The freed slot must accept new work.
	value, err := q.Enqueue(context.Background(), func(_ context.Context) (any, error) {
		return "ok", nil
	})
	if err != nil || value != "ok" {
		t.Fatalf("slot not freed after timeout: %v %v", value, err)
	}

	stats := q.Stats()
	if stats.TimedOut != 1 || stats.Completed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestPerCallTimeoutOverride(t *testing.T) {
	q, err := New(WithTaskTimeout(time.Minute))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	start := time.Now()
	_, err = q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, WithTimeout(15*time.Millisecond))
	if !errors.Is(err, ErrTaskTimeout) {
		t.Fatalf("expected ErrTaskTimeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("override not applied")
	}
}

func TestShutdownDrainsAndRejects(t *testing.T) {
	q, err := New(WithMaxConcurrency(2), WithMaxQueueSize(8))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var finished atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Enqueue(context.Background(), func(_ context.Context) (any, error) {
				time.Sleep(10 * time.Millisecond)
				finished.Add(1)
				return nil, nil
			})
		}()
	}
	time.Sleep(5 * time.Millisecond)

	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	wg.Wait()

	if finished.Load() != 4 {
		t.Fatalf("expected all accepted tasks to finish, got %d", finished.Load())
	}
	if _, err := q.Enqueue(context.Background(), func(_ context.Context) (any, error) {
		return nil, nil
	}); !errors.Is(err, ErrQueueShutDown) {
		t.Fatalf("expected ErrQueueShutDown, got %v", err)
	}
	// Repeated shutdown is a no-op.
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestStatsAccounting(t *testing.T) {
	q, err := New(WithMaxConcurrency(2), WithMaxQueueSize(8))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(context.Background(), func(_ context.Context) (any, error) {
			time.Sleep(time.Millisecond)
			return nil, nil
		}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if _, err := q.Enqueue(context.Background(), func(_ context.Context) (any, error) {
		return nil, fmt.Errorf("expected failure")
	}); err == nil {
		t.Fatalf("expected task error to propagate")
	}

	stats := q.Stats()
	if stats.Completed != 3 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.TotalTime <= 0 || stats.AverageTime <= 0 {
		t.Fatalf("expected positive timings: %+v", stats)
	}
	if stats.QueueLength != 0 || stats.Active != 0 {
		t.Fatalf("expected idle queue: %+v", stats)
	}
}
