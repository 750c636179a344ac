package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/thanhhungg97/loom/fiber"
)

// dispatch drives a single fiber from the moment it becomes current until it
// either parks at a safepoint long enough to be preempted or runs to
// completion. Because Context.Restore blocks until the fiber parks or
// finishes, this loop plays the role of both "run the fiber" and "decide
// whether to preempt it" — every time the fiber reaches a safepoint,
// dispatch decides, in the worker's own goroutine, whether that pause
// should be treated as a preemption (slice expired, or a preemption was
// requested) or simply continued immediately.
func (w *Worker) dispatch(ctx context.Context, f *fiber.Fiber) {
	f.SetState(fiber.Running)
	f.SetOwner(w)
	w.local.SetCurrent(f)
	w.sliceStart.Store(time.Now().UnixNano())
	w.setState(StateRunning)
	atomic.AddInt64(&w.stats.FibersDispatched, 1)

	for {
		parked, result, panicVal, finished := f.Context().Restore()
		atomic.AddInt64(&w.stats.ContextSwitches, 1)

		if finished {
			w.completeFiber(f, result, panicVal)
			return
		}
		if !parked {
			panic("worker: Context.Restore returned neither parked nor finished")
		}

		if w.shouldPreemptNow() {
			w.preemptCurrent(f)
			return
		}
		// Slice not yet exhausted and no preemption requested: loop back
		// around and resume the same fiber immediately. A safepoint that
		// isn't due for preemption is not a scheduling decision point, just
		// bookkeeping overhead.
		select {
		case <-ctx.Done():
			w.preemptCurrent(f)
			return
		default:
		}
	}
}

// shouldPreemptNow checks the running fiber's time slice against its budget
// and drains any pending preemption request the monitor already sent via
// RequestPreemption.
func (w *Worker) shouldPreemptNow() bool {
	select {
	case <-w.preemptCh:
		return true
	default:
	}
	return w.SliceElapsed() >= w.sliceBudget
}

// preemptCurrent moves the running fiber back to Runnable and onto the back
// of the local queue, then clears "current" so the scheduler loop picks its
// next fiber.
func (w *Worker) preemptCurrent(f *fiber.Fiber) {
	f.SetState(fiber.Runnable)
	w.local.Lock()
	w.local.Enqueue(f)
	w.local.SetCurrent(nil)
	w.local.Unlock()
	atomic.AddInt64(&w.stats.Preemptions, 1)
	w.log.Trace().Int64("fiber", f.ID()).Msg("preempted fiber at safepoint")
}

// completeFiber marks a finished fiber Done, clears its weak owner
// back-reference, and records its result/panic for any caller that joins on
// it. The fiber is not in any queue at this point (it was "current"), so it
// is handed to onComplete, if configured, for whoever is responsible for
// freeing Done fibers; with no sink configured it is simply dropped for the
// garbage collector.
func (w *Worker) completeFiber(f *fiber.Fiber, result []byte, panicVal any) {
	f.Result = result
	f.Panic = panicVal
	f.SetState(fiber.Done)
	f.ClearOwner()
	w.local.SetCurrent(nil)
	atomic.AddInt64(&w.stats.FibersCompleted, 1)
	if panicVal != nil {
		w.log.Warn().Int64("fiber", f.ID()).Interface("panic", panicVal).Msg("fiber finished with panic")
	}
	if w.onComplete != nil {
		w.onComplete(f)
	}
}
