package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func startLoop(t *testing.T, workers int64) *Loop {
	t.Helper()
	l := NewLoop(16, workers)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("start loop: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.Stop(ctx)
	})
	return l
}

func TestMainLoopRunsTasksInOrder(t *testing.T) {
	t.Parallel()

	l := startLoop(t, 2)
	var (
		mu    sync.Mutex
		order []int
	)
	for i := 0; i < 50; i++ {
		i := i
		l.RunOnMainLoop(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	if err := l.Call(context.Background(), func() {}); err != nil {
		t.Fatalf("call: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 50 {
		t.Fatalf("expected 50 tasks, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("task %d ran out of order: %v", i, order)
		}
	}
}

func TestMainLoopSurvivesPanickingTask(t *testing.T) {
	t.Parallel()

	l := startLoop(t, 1)
	l.RunOnMainLoop(func() { panic("boom") })

	ran := false
	if err := l.Call(context.Background(), func() { ran = true }); err != nil {
		t.Fatalf("call: %v", err)
	}
	if !ran {
		t.Fatalf("main loop did not run task after a panic")
	}
}

func TestRunAsyncRespectsWorkerLimit(t *testing.T) {
	t.Parallel()

	const workers = 3
	l := startLoop(t, workers)

	var (
		current int32
		peak    int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		l.RunAsync(func(ctx context.Context) {
			defer wg.Done()
			n := atomic.AddInt32(&current, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&current, -1)
		})
	}
	wg.Wait()

	if peak > workers {
		t.Fatalf("worker limit exceeded: peak %d", peak)
	}
}

func TestRunAsyncAfterStopStillRuns(t *testing.T) {
	t.Parallel()

	l := NewLoop(4, 1)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	result := make(chan error, 1)
	l.RunAsync(func(ctx context.Context) { result <- ctx.Err() })

	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancelled context, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not run after stop")
	}

	if err := l.Call(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestRunLaterAndRepeating(t *testing.T) {
	t.Parallel()

	l := startLoop(t, 1)

	fired := make(chan time.Time, 1)
	start := time.Now()
	l.RunLater(func() { fired <- time.Now() }, 20*time.Millisecond)
	select {
	case at := <-fired:
		if at.Sub(start) < 20*time.Millisecond {
			t.Fatalf("task ran too early: %v", at.Sub(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("delayed task did not run")
	}

	var ticks int32
	l.RunRepeating("tick", 5*time.Millisecond, func(ctx context.Context) { atomic.AddInt32(&ticks, 1) })
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&ticks) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("repeating task ticked %d times", atomic.LoadInt32(&ticks))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunRepeatingStopsOnCancel(t *testing.T) {
	t.Parallel()

	l := startLoop(t, 1)

	var ticks int32
	stop := l.RunRepeating("cancelled", 2*time.Millisecond, func(ctx context.Context) { atomic.AddInt32(&ticks, 1) })
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&ticks) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("repeating task never ran")
		}
		time.Sleep(2 * time.Millisecond)
	}
	stop()
	time.Sleep(10 * time.Millisecond)
	seen := atomic.LoadInt32(&ticks)
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&ticks); got != seen {
		t.Fatalf("task kept running after cancel: %d -> %d", seen, got)
	}
}

func TestDeferredTaskDroppedAfterStop(t *testing.T) {
	t.Parallel()

	l := NewLoop(1, 1)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	l.RunOnMainLoop(func() {})
	l.RunOnMainLoop(func() {})

	deadline := time.Now().Add(2 * time.Second)
	for l.deferred.Load() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("deferred task goroutine still blocked after stop")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
