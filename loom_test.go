package loom

import (
	"sync"
	"testing"
	"time"

	"github.com/thanhhungg97/loom/fiber"
	"github.com/thanhhungg97/loom/stackctx"
)

// TestNoopFiberDrainsQueues checks that a fiber which returns immediately
// leaves every queue empty soon after, once the monitor has had a chance to
// free it.
func TestNoopFiberDrainsQueues(t *testing.T) {
	rt := New(WithWorkerCount(1), WithMonitorInterval(500*time.Microsecond))
	defer rt.Shutdown()

	f, err := rt.Spawn("noop", func(args []byte) []byte {
		return nil
	}, nil, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case <-deadline:
			t.Fatalf("fiber never completed, state=%s", f.State())
		default:
		}

		rt.globalMu.Lock()
		globalEmpty := rt.global.Size() == 0
		rt.globalMu.Unlock()

		allLocalEmpty := true
		for _, w := range rt.Workers() {
			w.Local().Lock()
			if w.Local().Size() != 0 {
				allLocalEmpty = false
			}
			w.Local().Unlock()
		}

		if globalEmpty && allLocalEmpty && f.State() == fiber.Done {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// spawnSelfYielding builds a fiber that loops calling its own Safepoint
// until stop is closed, bypassing Runtime.Spawn so the self-referencing
// closure (the same pattern stackctx/context_test.go and
// worker/worker_test.go use) can be wired up before the fiber is ever
// admitted to a queue -- avoiding any race between construction and first
// dispatch.
func spawnSelfYielding(rt *Runtime, location string, mu *sync.Mutex, counter *int64, stop <-chan struct{}) *fiber.Fiber {
	var f *fiber.Fiber
	f = fiber.New(location, func(args []byte) []byte {
		for {
			select {
			case <-stop:
				return nil
			default:
			}
			mu.Lock()
			*counter++
			mu.Unlock()
			f.Safepoint()
		}
	}, nil, nil, stackctx.DefaultStackSize)
	f.SetState(fiber.Runnable)

	rt.globalMu.Lock()
	rt.global.Append(f)
	rt.globalMu.Unlock()
	atomic64Add(&rt.stats.fibersSpawned, 1)
	return f
}

// TestTwoLongRunningFibersShareOneWorker checks that two fibers which never
// voluntarily exit, but yield at safepoints, are each resumed repeatedly by
// a single worker rather than one starving the other.
func TestTwoLongRunningFibersShareOneWorker(t *testing.T) {
	rt := New(WithWorkerCount(1), WithSliceBudget(20*time.Millisecond))
	defer rt.Shutdown()

	var muA, muB sync.Mutex
	var resumesA, resumesB int64
	stop := make(chan struct{})

	spawnSelfYielding(rt, "A", &muA, &resumesA, stop)
	spawnSelfYielding(rt, "B", &muB, &resumesB, stop)

	time.Sleep(2 * time.Second)
	close(stop)
	time.Sleep(50 * time.Millisecond)

	muA.Lock()
	a := resumesA
	muA.Unlock()
	muB.Lock()
	b := resumesB
	muB.Unlock()

	if a == 0 || b == 0 {
		t.Errorf("expected both fibers to make progress, got A=%d B=%d", a, b)
	}
}

// TestConcurrentSpawnAdmitsAllFibers checks that 100 concurrent Spawn calls
// leave exactly 100 fibers admitted -- none dropped, none double-admitted --
// regardless of how the monitor interleaves its sweeps.
func TestConcurrentSpawnAdmitsAllFibers(t *testing.T) {
	rt := New(WithWorkerCount(4), WithMonitorInterval(500*time.Microsecond))
	defer rt.Shutdown()

	const n = 100
	var wg sync.WaitGroup
	errs := make(chan error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := rt.Spawn("admission-test", func(args []byte) []byte {
				return nil
			}, nil, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Spawn returned error under contention: %v", err)
		}
	}

	if got := rt.Stats().FibersSpawned; got != n {
		t.Errorf("FibersSpawned = %d, want %d", got, n)
	}
}
