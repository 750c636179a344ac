// Package sched implements the per-worker local scheduler: a current-fiber
// pointer plus one run queue, and the pick-runnable policy that chooses the
// next fiber to dispatch.
package sched

import (
	"sync"

	"github.com/thanhhungg97/loom/fiber"
	"github.com/thanhhungg97/loom/queue"
)

// LocalScheduler holds one worker's current fiber pointer and local queue.
// The queue lock also guards the preemption path, which appends the
// preempted fiber to the back of the queue and clears "current" from the
// same worker goroutine that drains it.
type LocalScheduler struct {
	mu      sync.Mutex
	q       *queue.Queue[*fiber.Fiber]
	current *fiber.Fiber
}

// New creates an empty local scheduler.
func New() *LocalScheduler {
	return &LocalScheduler{q: queue.New[*fiber.Fiber]()}
}

// Lock acquires the queue lock. Exposed so Worker can hold it across a
// multi-step dispatch sequence.
func (s *LocalScheduler) Lock() { s.mu.Lock() }

// Unlock releases the queue lock.
func (s *LocalScheduler) Unlock() { s.mu.Unlock() }

// Enqueue appends a fiber to the local queue. Caller must hold the lock.
func (s *LocalScheduler) Enqueue(f *fiber.Fiber) { s.q.Append(f) }

// Size returns the local queue length. Caller must hold the lock.
func (s *LocalScheduler) Size() int { return s.q.Size() }

// Current returns the fiber currently dispatched on this worker, or nil.
func (s *LocalScheduler) Current() *fiber.Fiber { return s.current }

// SetCurrent sets the fiber currently dispatched on this worker.
func (s *LocalScheduler) SetCurrent(f *fiber.Fiber) { s.current = f }

// PickRunnable scans the local queue from the head, inspecting up to
// Size() entries:
//
//   - head Runnable: pop it, set it as current, return it.
//   - head Done: pop it, free it, continue scanning.
//   - otherwise (Running/Syscall/Waiting): rotate the queue, continue.
//
// If no Runnable fiber is found within Size() inspections, returns nil and
// the worker transitions to Idle. Bounding the scan to Size() iterations
// keeps a queue full of only blocked fibers from spinning forever within a
// single call, though repeated calls will still retry them on the next pass.
//
// Caller must hold the lock.
func (s *LocalScheduler) PickRunnable() *fiber.Fiber {
	inspections := s.q.Size()
	for i := 0; i < inspections; i++ {
		head, ok := s.q.Front()
		if !ok {
			return nil
		}
		switch head.State() {
		case fiber.Runnable:
			s.q.PopFront()
			s.current = head
			return head
		case fiber.Done:
			s.q.PopFront()
			if err := head.Destroy(); err != nil {
				panic(err)
			}
		default: // Running, Syscall, Waiting
			s.q.Rotate()
		}
	}
	return nil
}
