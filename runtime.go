// Package loom is a user-space M:N concurrency runtime: lightweight,
// user-scheduled "fibers" multiplexed onto a fixed pool of OS-level worker
// threads, preemptively time-sliced at safepoints.
//
// loom.Runtime is an explicit value rather than a package-global: construct
// one with New, and pass it (or its Spawn method) to callers instead of
// reaching for ambient global state.
package loom

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/thanhhungg97/loom/fiber"
	"github.com/thanhhungg97/loom/queue"
	"github.com/thanhhungg97/loom/stackctx"
	"github.com/thanhhungg97/loom/worker"
)

// ErrShutdown is returned by Spawn once the runtime has been shut down.
var ErrShutdown = errors.New("loom: runtime is shut down")

// Runtime owns the global admission queue, the worker pool, and the monitor
// goroutine. Created by New, torn down by Shutdown.
type Runtime struct {
	cfg Config
	log zerolog.Logger

	globalMu sync.Mutex
	global   *queue.Queue[*fiber.Fiber]

	workers []*worker.Worker

	monitor *Monitor

	ctx       context.Context
	cancel    context.CancelFunc
	workersWG errgroup.Group

	shutdownMu sync.Mutex
	isShutdown bool

	stats runtimeStats
}

// New constructs the runtime, starts each worker (leaving it blocked on its
// idle semaphore), and starts the monitor. Each call produces an
// independent, isolated Runtime value; there is no shared global state
// between them.
func New(opts ...Option) *Runtime {
	cfg := NewConfig(opts...)
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, cancel := context.WithCancel(context.Background())

	r := &Runtime{
		cfg:    cfg,
		log:    log,
		global: queue.New[*fiber.Fiber](),
		ctx:    ctx,
		cancel: cancel,
	}

	// A worker hands a fiber back here the instant it finishes running it,
	// so the monitor can free it on its next sweep.
	onComplete := func(f *fiber.Fiber) {
		r.globalMu.Lock()
		r.global.Append(f)
		r.globalMu.Unlock()
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		w := worker.New(i, cfg.SliceBudget, log, onComplete)
		r.workers = append(r.workers, w)
	}

	for _, w := range r.workers {
		w := w
		r.workersWG.Go(func() error {
			w.Start(r.ctx)
			return nil
		})
	}

	r.monitor = newMonitor(r)
	r.workersWG.Go(func() error {
		r.monitor.run(r.ctx)
		return nil
	})

	r.log.Info().Int("workers", cfg.WorkerCount).Msg("runtime started")
	return r
}

// Spawn admits a new fiber. entry takes one opaque argument blob and
// returns one opaque result blob; argSizes describes how argBytes is carved
// into scalar arguments placed into the fiber's entry registers (sizes
// other than 1/2/4/8 bytes are a fatal precondition violation, not a
// returned error).
func (r *Runtime) Spawn(location string, entry stackctx.EntryFunc, argSizes []int, argBytes []byte) (*fiber.Fiber, error) {
	r.shutdownMu.Lock()
	down := r.isShutdown
	r.shutdownMu.Unlock()
	if down {
		return nil, ErrShutdown
	}

	f := fiber.New(location, entry, argSizes, argBytes, r.cfg.FiberStackSize)

	f.SetState(fiber.Runnable)
	r.globalMu.Lock()
	r.global.Append(f)
	r.globalMu.Unlock()

	atomic64Add(&r.stats.fibersSpawned, 1)
	r.log.Debug().Int64("fiber", f.ID()).Str("location", location).Msg("spawned")
	return f, nil
}

// Shutdown tears the runtime down unconditionally: the monitor and each
// worker are stopped and in-flight fibers are abandoned. Queued fibers are
// not run to Done, but Shutdown does wait for each worker's currently
// dispatched fiber to reach its next safepoint or return, since a worker
// cannot leave its dispatch loop before then.
func (r *Runtime) Shutdown() {
	r.shutdownMu.Lock()
	if r.isShutdown {
		r.shutdownMu.Unlock()
		return
	}
	r.isShutdown = true
	r.shutdownMu.Unlock()

	r.cancel()
	for _, w := range r.workers {
		w.Stop()
	}
	_ = r.workersWG.Wait()
	r.log.Info().Msg("runtime shut down")
}

// Workers returns the fixed worker pool, mainly for tests and diagnostics.
func (r *Runtime) Workers() []*worker.Worker { return r.workers }

func (r *Runtime) String() string {
	return fmt.Sprintf("Runtime[workers=%d]", len(r.workers))
}
