package loom

import (
	"context"
	"time"

	"github.com/thanhhungg97/loom/fiber"
	"github.com/thanhhungg97/loom/worker"
)

// Monitor is the dedicated goroutine that drains the global admission queue
// into workers round-robin, frees fibers workers have finished running,
// wakes idle workers, and requests preemption from workers that have
// exceeded their slice budget.
type Monitor struct {
	rt       *Runtime
	rrNext   int // round-robin "last assigned" counter, shared across sweeps
	interval time.Duration
}

func newMonitor(rt *Runtime) *Monitor {
	return &Monitor{rt: rt, interval: rt.cfg.MonitorInterval}
}

// run repeats the monitor's sweep until ctx is cancelled.
func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep is one monitor iteration: drain the global queue, then check each
// worker.
func (m *Monitor) sweep() {
	m.drainGlobalQueue()
	for _, w := range m.rt.workers {
		m.serviceWorker(w)
	}
}

// drainGlobalQueue inspects the global queue's head repeatedly:
//
//   - Runnable: pop it and assign it to the next worker round-robin.
//   - Done: pop it and free it. A worker pushes a fiber back onto this
//     queue the instant it finishes running one (see Runtime.New's
//     completion sink), so this is where every fiber is ultimately freed.
//   - Running/Syscall/Waiting: rotate past it.
//
// The scan is bounded to one pass over the queue's current size so a queue
// holding only non-runnable entries cannot spin the monitor forever within
// a single sweep.
func (m *Monitor) drainGlobalQueue() {
	m.rt.globalMu.Lock()
	defer m.rt.globalMu.Unlock()

	inspections := m.rt.global.Size()
	for i := 0; i < inspections; i++ {
		head, ok := m.rt.global.Front()
		if !ok {
			return
		}
		switch head.State() {
		case fiber.Runnable:
			m.rt.global.PopFront()
			m.assignRoundRobin(head)
		case fiber.Done:
			m.rt.global.PopFront()
			if err := head.Destroy(); err != nil {
				panic(err)
			}
		case fiber.Created:
			// Spawn always advances Created -> Runnable before enqueueing,
			// so a Created fiber reaching here means admission was
			// bypassed incorrectly.
			panic("loom: Created fiber observed in global queue")
		default: // Running, Syscall, Waiting
			m.rt.global.Rotate()
		}
	}
}

// assignRoundRobin pushes f onto the next worker in round-robin order and
// advances the shared counter, so load distributes evenly even when fibers
// arrive one at a time.
func (m *Monitor) assignRoundRobin(f *fiber.Fiber) {
	n := len(m.rt.workers)
	if n == 0 {
		return
	}
	w := m.rt.workers[m.rrNext%n]
	m.rrNext++

	w.Local().Lock()
	w.Local().Enqueue(f)
	w.Local().Unlock()
}

// serviceWorker wakes a worker that has work waiting for it, or requests
// preemption from one that has been running the same fiber past its slice
// budget. Workers with an empty local queue are left alone: there is
// nothing new for them to pick up, and a lone running fiber with nothing
// queued behind it is still preempted by its own worker, which checks the
// slice budget at each of the fiber's safepoints.
func (m *Monitor) serviceWorker(w *worker.Worker) {
	w.Local().Lock()
	nonEmpty := w.Local().Size() > 0
	w.Local().Unlock()
	if !nonEmpty {
		return
	}

	switch w.State() {
	case worker.StateCreated:
		// not yet started
	case worker.StateIdle:
		w.Wake()
	case worker.StateRunning:
		if w.SliceElapsed() >= m.rt.cfg.SliceBudget {
			w.RequestPreemption()
		}
	default:
		// Scheduling, Dead: ignore
	}
}
