package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPool_ProcessesSubmittedJobs(t *testing.T) {
	var processed atomic.Int64
	pool := NewPool(3, 16, func(_ context.Context, job int) error {
		processed.Add(1)
		return nil
	})
	pool.Start(context.Background())

	for i := 0; i < 10; i++ {
		if !pool.Submit(i) {
			t.Fatalf("submit %d rejected", i)
		}
	}
	pool.Stop()

	if got := processed.Load(); got != 10 {
		t.Errorf("processed %d jobs, want 10", got)
	}
}

func TestPool_SubmitDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, job int) error {
		<-block
		return nil
	})
	pool.Start(context.Background())

	// One job occupies the worker, one fills the buffer; the next must drop.
	pool.Submit(1)

	deadline := time.After(2 * time.Second)
	for pool.Submit(2) {
		select {
		case <-deadline:
			t.Fatal("buffer never filled")
		default:
		}
	}

	close(block)
	pool.Stop()
}

func TestPool_StopDrainsBuffer(t *testing.T) {
	var mu sync.Mutex
	var got []string
	pool := NewPool(1, 8, func(_ context.Context, job string) error {
		mu.Lock()
		got = append(got, job)
		mu.Unlock()
		return nil
	})
	pool.Start(context.Background())

	pool.Submit("a")
	pool.Submit("b")
	pool.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Errorf("stop should drain queued jobs, got %v", got)
	}
}

func TestPool_SubmitAfterStopIsRejected(t *testing.T) {
	pool := NewPool(1, 4, func(context.Context, int) error { return nil })
	pool.Start(context.Background())
	pool.Stop()

	// A late submission must be dropped, never panic on the closed channel.
	if pool.Submit(42) {
		t.Error("submit after stop should report the drop")
	}

	// Stop is idempotent.
	pool.Stop()
}

func TestPool_ConcurrentSubmitAndStop(t *testing.T) {
	pool := NewPool(2, 4, func(context.Context, int) error { return nil })
	pool.Start(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			pool.Submit(i)
		}
	}()
	pool.Stop()
	<-done
}

func TestPool_ContextCancelStopsWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(2, 4, func(context.Context, int) error { return nil })
	pool.Start(ctx)

	cancel()
	// Workers exit on ctx.Done; Stop must still return.
	done := make(chan struct{})
	go func() {
		pool.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not exit on cancel")
	}
}
