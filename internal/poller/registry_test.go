package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStartTicksUntilDone(t *testing.T) {
	r := NewRegistry(5 * time.Millisecond)

	var calls int32
	r.Start("job-1", func(ctx context.Context, jobID string) bool {
		return atomic.AddInt32(&calls, 1) >= 3
	})

	waitFor(t, func() bool { return atomic.LoadInt32(&calls) >= 3 })
	waitFor(t, func() bool { return !r.Active("job-1") })

	// No further ticks after the reconcile reported terminal.
	got := atomic.LoadInt32(&calls)
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&calls) != got {
		t.Errorf("poller kept ticking after terminal: %d calls, want %d", atomic.LoadInt32(&calls), got)
	}
}

func TestStopIsIdempotentAndWaits(t *testing.T) {
	r := NewRegistry(time.Millisecond)

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	r.Start("job-1", func(ctx context.Context, jobID string) bool {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		finished.Store(true)
		return false
	})

	<-entered

	done := make(chan struct{})
	go func() {
		r.Stop("job-1")
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Stop returned while a reconcile was still in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-done

	if !finished.Load() {
		t.Error("in-flight reconcile did not run to completion before Stop returned")
	}

	// Second and third stops are safe no-ops.
	r.Stop("job-1")
	r.Stop("job-1")
}

func TestStopUnknownJobIsNoop(t *testing.T) {
	r := NewRegistry(time.Millisecond)
	r.Stop("never-started")
}

func TestStartReplacesExistingPoller(t *testing.T) {
	r := NewRegistry(2 * time.Millisecond)

	var first, second int32
	r.Start("job-1", func(ctx context.Context, jobID string) bool {
		atomic.AddInt32(&first, 1)
		return false
	})
	r.Start("job-1", func(ctx context.Context, jobID string) bool {
		atomic.AddInt32(&second, 1)
		return false
	})

	waitFor(t, func() bool { return atomic.LoadInt32(&second) > 0 })

	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after restart for the same id", r.Len())
	}

	// The replaced poller is cancelled: its counter stops moving.
	waitFor(t, func() bool { return !firstStillTicking(&first) })
	r.StopAll()
}

func firstStillTicking(counter *int32) bool {
	before := atomic.LoadInt32(counter)
	time.Sleep(10 * time.Millisecond)
	return atomic.LoadInt32(counter) != before
}

func TestSingleFlightPerJob(t *testing.T) {
	r := NewRegistry(time.Millisecond)

	var inFlight, maxInFlight int32
	var mu sync.Mutex

	r.Start("job-1", func(ctx context.Context, jobID string) bool {
		n := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if n > maxInFlight {
			maxInFlight = n
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond) // longer than the tick interval
		atomic.AddInt32(&inFlight, -1)
		return false
	})

	time.Sleep(50 * time.Millisecond)
	r.Stop("job-1")

	mu.Lock()
	defer mu.Unlock()
	if maxInFlight != 1 {
		t.Errorf("observed %d concurrent reconciles for one job, want 1", maxInFlight)
	}
}

func TestStopAll(t *testing.T) {
	r := NewRegistry(time.Millisecond)

	for _, id := range []string{"a", "b", "c"} {
		r.Start(id, func(ctx context.Context, jobID string) bool {
			return false
		})
	}

	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}

	r.StopAll()

	if r.Len() != 0 {
		t.Errorf("Len() = %d after StopAll, want 0", r.Len())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
