// Package fiber wraps a stackctx.Context with an entry function, arguments,
// atomic state, and identity.
package fiber

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/thanhhungg97/loom/stackctx"
)

// State is a fiber's lifecycle state. It is accessed with
// sequentially-consistent atomics because it is read and written from the
// preemption path, the monitor, and the owning worker concurrently; a plain
// mutex-guarded field would serialize the scheduler's hottest read (picking
// the next runnable fiber) behind writers that run far less often.
type State int32

const (
	// Created is set only during construction; transient.
	Created State = iota
	Runnable
	Running
	Syscall
	Waiting
	// Done is terminal; a Done fiber is freed by the monitor.
	Done
)

func (s State) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Runnable:
		return "RUNNABLE"
	case Running:
		return "RUNNING"
	case Syscall:
		return "SYSCALL"
	case Waiting:
		return "WAITING"
	case Done:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Owner is the minimal view of a worker a Fiber needs for its weak
// back-reference to whichever worker currently owns it. The worker always
// outlives the fiber, so this reference never needs to keep it alive.
type Owner interface {
	ID() string
}

// Fiber owns exactly one Context, which owns exactly one Stack.
type Fiber struct {
	id       int64
	Location string // human-readable tag for debugging

	ctx *stackctx.Context

	state atomic.Int32
	owner atomic.Pointer[ownerBox]

	Result []byte
	Panic  any
}

type ownerBox struct{ o Owner }

var idCounter int64

// New allocates a fiber + context + stack, installs arguments, and sets
// state to Created. location is a human-readable debug tag; an empty
// location is replaced with a generated UUID so every fiber remains
// individually identifiable in logs.
func New(location string, entry stackctx.EntryFunc, argSizes []int, argBytes []byte, stackSize int) *Fiber {
	if location == "" {
		location = uuid.NewString()
	}
	f := &Fiber{
		id:       atomic.AddInt64(&idCounter, 1),
		Location: location,
		ctx:      stackctx.Create(entry, stackSize),
	}
	f.state.Store(int32(Created))
	if len(argSizes) > 0 {
		f.ctx.PlaceArguments(argSizes, argBytes)
	}
	return f
}

// ID returns the fiber's unique, monotonically increasing identity.
func (f *Fiber) ID() int64 { return f.id }

// Context exposes the fiber's context to the scheduling packages that must
// drive it (sched, worker). Application code has no need of it.
func (f *Fiber) Context() *stackctx.Context { return f.ctx }

// State atomically loads the fiber's lifecycle state.
func (f *Fiber) State() State { return State(f.state.Load()) }

// SetState atomically stores the fiber's lifecycle state.
func (f *Fiber) SetState(s State) { f.state.Store(int32(s)) }

// CompareAndSwapState atomically transitions state only if the fiber is
// currently in `from`, returning whether the transition happened, so a
// state set on another thread is never silently clobbered. The worker and
// preemption paths in this module use plain SetState instead.
func (f *Fiber) CompareAndSwapState(from, to State) bool {
	return f.state.CompareAndSwap(int32(from), int32(to))
}

// Owner returns the fiber's current owning worker, or nil if unowned.
func (f *Fiber) Owner() Owner {
	box := f.owner.Load()
	if box == nil {
		return nil
	}
	return box.o
}

// SetOwner records the worker dispatching this fiber (weak back-reference:
// the Fiber never keeps the worker alive, it's stored as an interface
// value, not prevented from GC by any cycle since workers always outlive
// fibers).
func (f *Fiber) SetOwner(o Owner) {
	if o == nil {
		f.owner.Store(nil)
		return
	}
	f.owner.Store(&ownerBox{o: o})
}

// ClearOwner clears the weak back-reference; called when the fiber
// transitions to Done.
func (f *Fiber) ClearOwner() { f.owner.Store(nil) }

// Safepoint is the cooperative preemption checkpoint: fiber entry functions
// that want to be preemptible must call this periodically at loop
// boundaries. It parks the fiber's goroutine until its owning worker decides
// whether to resume it immediately or rotate it to the back of the run
// queue — from the entry function's point of view, Safepoint simply may not
// return for a while.
func (f *Fiber) Safepoint() {
	f.ctx.Save()
}

// Destroy frees the fiber. Precondition: state is Done and the fiber is in
// no queue. Done fibers are freed by the monitor (from the global queue)
// and by the local scheduler's scan (from a local queue); everything else
// treats a fiber handle as borrowed.
func (f *Fiber) Destroy() error {
	if f.State() != Done {
		return fmt.Errorf("fiber %d (%s): Destroy called in state %s, want Done", f.id, f.Location, f.State())
	}
	f.ctx = nil
	return nil
}

func (f *Fiber) String() string {
	return fmt.Sprintf("Fiber[%d:%s:%s]", f.id, f.Location, f.State())
}
