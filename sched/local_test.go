package sched

import (
	"testing"

	"github.com/thanhhungg97/loom/fiber"
	"github.com/thanhhungg97/loom/stackctx"
)

func newTestFiber(state fiber.State) *fiber.Fiber {
	f := fiber.New("", func(args []byte) []byte { return nil }, nil, nil, stackctx.DefaultStackSize)
	f.SetState(state)
	return f
}

func TestPickRunnablePrefersHeadWhenRunnable(t *testing.T) {
	s := New()
	a := newTestFiber(fiber.Runnable)
	b := newTestFiber(fiber.Runnable)
	s.Lock()
	s.Enqueue(a)
	s.Enqueue(b)
	picked := s.PickRunnable()
	s.Unlock()

	if picked != a {
		t.Fatalf("picked %v, want head fiber %v", picked, a)
	}
	if s.Current() != a {
		t.Fatalf("Current() = %v, want %v", s.Current(), a)
	}
	if s.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", s.Size())
	}
}

func TestPickRunnableRotatesPastBlocked(t *testing.T) {
	s := New()
	blocked := newTestFiber(fiber.Waiting)
	runnable := newTestFiber(fiber.Runnable)
	s.Lock()
	s.Enqueue(blocked)
	s.Enqueue(runnable)
	picked := s.PickRunnable()
	s.Unlock()

	if picked != runnable {
		t.Fatalf("picked %v, want %v", picked, runnable)
	}
	// blocked should have been rotated to the back, still present.
	s.Lock()
	front, ok := s.q.Front()
	s.Unlock()
	if !ok || front != blocked {
		t.Fatalf("front = %v, ok=%v, want blocked fiber", front, ok)
	}
}

func TestPickRunnableFreesDoneAtHead(t *testing.T) {
	s := New()
	done := newTestFiber(fiber.Done)
	runnable := newTestFiber(fiber.Runnable)
	s.Lock()
	s.Enqueue(done)
	s.Enqueue(runnable)
	picked := s.PickRunnable()
	s.Unlock()

	if picked != runnable {
		t.Fatalf("picked %v, want %v", picked, runnable)
	}
}

func TestPickRunnableReturnsNilWhenNoneRunnable(t *testing.T) {
	s := New()
	blocked := newTestFiber(fiber.Waiting)
	s.Lock()
	s.Enqueue(blocked)
	picked := s.PickRunnable()
	s.Unlock()

	if picked != nil {
		t.Fatalf("picked = %v, want nil", picked)
	}
}
