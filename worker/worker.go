// Package worker implements the OS-thread-bound worker: a scheduler loop, a
// local run queue, an idle semaphore, and a safepoint-driven preemption
// path.
package worker

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"

	"github.com/thanhhungg97/loom/fiber"
	"github.com/thanhhungg97/loom/sched"
)

// State is a worker's lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateIdle
	StateRunning
	StateScheduling
	StateDead
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateScheduling:
		return "SCHEDULING"
	case StateDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Stats mirrors the teacher's SchedulerStats, scoped to one worker.
type Stats struct {
	FibersDispatched int64
	FibersCompleted  int64
	ContextSwitches  int64
	Preemptions      int64
}

// CompletionSink receives a fiber the instant it reaches Done, so it can be
// routed somewhere that will eventually free it. Passing nil is valid: the
// fiber is simply left for the garbage collector once dropped.
type CompletionSink func(*fiber.Fiber)

// Worker owns a local scheduler, an idle semaphore, the slice start time,
// and the OS thread id it bound itself to. The slice start is stored as a
// wall-clock UnixNano value, not a monotonic clock reading, so a wall-clock
// step changes the elapsed time SliceElapsed reports.
type Worker struct {
	id    string
	Index int

	local *sched.LocalScheduler

	idleSem *semaphore.Weighted

	state atomic.Int32

	sliceStart  atomic.Int64 // UnixNano
	sliceBudget time.Duration

	// preemptCh carries a "please yield soon" request from the monitor to
	// this worker. Buffered to 1 and sent non-blocking so repeated requests
	// coalesce into a single pending request.
	preemptCh chan struct{}

	osThreadID int

	pendingWake atomic.Bool

	onComplete CompletionSink

	stats Stats

	quit chan struct{}
	done chan struct{}

	log zerolog.Logger
}

// New constructs a worker. It does not start the worker's OS thread; call
// Start for that. onComplete, if non-nil, is called with every fiber this
// worker finishes running, so the caller can hand it off for freeing.
func New(index int, sliceBudget time.Duration, log zerolog.Logger, onComplete CompletionSink) *Worker {
	w := &Worker{
		id:          uuid.NewString(),
		Index:       index,
		local:       sched.New(),
		idleSem:     semaphore.NewWeighted(1),
		sliceBudget: sliceBudget,
		preemptCh:   make(chan struct{}, 1),
		onComplete:  onComplete,
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		log:         log.With().Int("worker", index).Logger(),
	}
	// Consume the semaphore's one permit so it starts "empty": a worker must
	// be woken before it can proceed past parkUntilWoken, not simply find a
	// permit already sitting there.
	_ = w.idleSem.Acquire(context.Background(), 1)
	return w
}

// ID satisfies fiber.Owner.
func (w *Worker) ID() string { return w.id }

// State atomically loads the worker's lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) { w.state.Store(int32(s)) }

// Local exposes the worker's local scheduler so the monitor can enqueue
// fibers into it under its lock.
func (w *Worker) Local() *sched.LocalScheduler { return w.local }

// Wake signals the worker's idle semaphore. A wake already pending (the
// worker hasn't consumed the last one yet) coalesces rather than
// over-releasing the semaphore.
func (w *Worker) Wake() {
	if w.pendingWake.CompareAndSwap(false, true) {
		w.idleSem.Release(1)
	}
}

// RequestPreemption asks the worker to yield its currently running fiber at
// its next safepoint. The send is non-blocking so a worker that already has
// a pending request doesn't block the caller.
func (w *Worker) RequestPreemption() {
	select {
	case w.preemptCh <- struct{}{}:
	default:
	}
}

// SliceElapsed returns how long the worker's current fiber has been running
// in this time slice.
func (w *Worker) SliceElapsed() time.Duration {
	start := w.sliceStart.Load()
	if start == 0 {
		return 0
	}
	return time.Since(time.Unix(0, start))
}

// Stats returns a snapshot of this worker's counters.
func (w *Worker) Stats() Stats {
	return Stats{
		FibersDispatched: atomic.LoadInt64(&w.stats.FibersDispatched),
		FibersCompleted:  atomic.LoadInt64(&w.stats.FibersCompleted),
		ContextSwitches:  atomic.LoadInt64(&w.stats.ContextSwitches),
		Preemptions:      atomic.LoadInt64(&w.stats.Preemptions),
	}
}

// OSThreadID returns the Linux thread id this worker bound itself to, once
// Start's goroutine has run.
func (w *Worker) OSThreadID() int { return w.osThreadID }

// Start brings the worker's OS thread up: locks it to the current
// goroutine, records its thread id for diagnostics, transitions
// Created -> Idle, and enters the scheduler loop. Start runs synchronously
// on the calling goroutine — callers run it in its own goroutine so it owns
// one OS thread for its lifetime.
func (w *Worker) Start(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)

	w.osThreadID = unix.Gettid()
	w.setState(StateIdle)
	w.log.Debug().Int("os_thread_id", w.osThreadID).Msg("worker started")

	w.loop(ctx)

	w.setState(StateDead)
	w.log.Debug().Msg("worker stopped")
}

// Stop requests the worker's scheduler loop to exit after its current
// dispatch. It is a hard stop: in-flight fibers are abandoned, not drained
// to completion first.
func (w *Worker) Stop() {
	close(w.quit)
	w.Wake() // unblock if parked waiting for work
}

// Done returns a channel closed once Start has returned.
func (w *Worker) Done() <-chan struct{} { return w.done }

// loop is the worker's scheduler loop: pick a runnable fiber from the local
// queue, dispatch it, and park on the idle semaphore when there's nothing
// to run.
func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-w.quit:
			return
		default:
		}

		w.local.Lock()

		if cur := w.local.Current(); cur != nil && cur.State() == fiber.Running {
			// Defensive: this only fires if control returned to the loop
			// without going through the dispatch/preemption path below. In
			// ordinary operation every return from dispatch already leaves
			// the fiber Runnable or Done.
			cur.SetState(fiber.Runnable)
			w.local.Enqueue(cur)
			w.local.SetCurrent(nil)
		}

		f := w.local.PickRunnable()
		if f == nil {
			w.local.Unlock()
			w.setState(StateIdle)
			if !w.parkUntilWoken(ctx) {
				return
			}
			continue
		}
		w.local.Unlock()

		w.setState(StateScheduling)
		w.dispatch(ctx, f)
	}
}

// parkUntilWoken blocks on the idle semaphore until Wake is called, the
// worker is asked to stop, or ctx is cancelled. Returns false if the worker
// should exit its loop.
func (w *Worker) parkUntilWoken(ctx context.Context) bool {
	if err := w.idleSem.Acquire(ctx, 1); err != nil {
		return false
	}
	w.pendingWake.Store(false)
	select {
	case <-w.quit:
		return false
	default:
		return true
	}
}
