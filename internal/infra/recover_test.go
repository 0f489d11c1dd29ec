package infra

import (
	"strings"
	"sync"
	"testing"
)

func TestSafelyReportsPanics(t *testing.T) {
	t.Parallel()

	err := Safely("boom", func() { panic("kaboom") })
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("expected panic error, got %v", err)
	}
	if err := Safely("fine", func() {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGoRecoverableRestartsAfterPanic(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		calls int
		done  = make(chan struct{})
	)
	GoRecoverable(2, "flaky", func() {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			panic("flaky")
		}
		close(done)
	})
	<-done

	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestEnsureWorkDirCreatesPath(t *testing.T) {
	t.Parallel()

	dir, err := EnsureWorkDir(t.TempDir(), "data", "nested")
	if err != nil {
		t.Fatalf("ensure work dir: %v", err)
	}
	if !strings.HasSuffix(dir, "nested") {
		t.Fatalf("unexpected dir: %s", dir)
	}
}
