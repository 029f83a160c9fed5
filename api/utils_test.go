package api

import (
	"sync"
	"testing"
	"time"
)

func TestNextTimestampStrictlyIncreasing(t *testing.T) {
	const n = 1000
	out := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < n/8; j++ {
				out <- nextTimestamp()
			}
		}()
	}
	wg.Wait()
	close(out)

	seen := make(map[int64]struct{}, n)
	for ts := range out {
		if _, dup := seen[ts]; dup {
			t.Fatalf("duplicate timestamp %d", ts)
		}
		seen[ts] = struct{}{}
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("UTILS_TEST_INT", "42")
	if got := envInt("UTILS_TEST_INT", 7); got != 42 {
		t.Fatalf("envInt = %d, want 42", got)
	}
	if got := envInt("UTILS_TEST_INT_MISSING", 7); got != 7 {
		t.Fatalf("envInt default = %d, want 7", got)
	}
	t.Setenv("UTILS_TEST_INT", "nope")
	if got := envInt("UTILS_TEST_INT", 7); got != 7 {
		t.Fatalf("envInt invalid = %d, want 7", got)
	}
}

func TestEnvDur(t *testing.T) {
	t.Setenv("UTILS_TEST_DUR", "250ms")
	if got := envDur("UTILS_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("envDur = %v, want 250ms", got)
	}
	if got := envDur("UTILS_TEST_DUR_MISSING", time.Second); got != time.Second {
		t.Fatalf("envDur default = %v, want 1s", got)
	}
}
