package loom

import (
	"fmt"
	"sync/atomic"
)

// runtimeStats tracks the runtime-level spawn total. Dispatch, completion,
// context-switch and preemption totals live in each worker and are summed
// by Stats.
type runtimeStats struct {
	fibersSpawned int64
}

// RuntimeStats is the snapshot returned by Runtime.Stats.
type RuntimeStats struct {
	FibersSpawned    int64
	FibersDispatched int64
	FibersCompleted  int64
	ContextSwitches  int64
	Preemptions      int64
}

func atomic64Add(addr *int64, delta int64) {
	atomic.AddInt64(addr, delta)
}

// Stats aggregates runtime-wide counters across all workers.
func (r *Runtime) Stats() RuntimeStats {
	out := RuntimeStats{
		FibersSpawned: atomic.LoadInt64(&r.stats.fibersSpawned),
	}
	for _, w := range r.workers {
		ws := w.Stats()
		out.FibersDispatched += ws.FibersDispatched
		out.FibersCompleted += ws.FibersCompleted
		out.ContextSwitches += ws.ContextSwitches
		out.Preemptions += ws.Preemptions
	}
	return out
}

// PrintStats prints a human-readable stats dump for operators, independent
// of the structured zerolog logging used everywhere else in this module.
func (r *Runtime) PrintStats() {
	s := r.Stats()
	fmt.Printf("=== loom Runtime Stats ===\n")
	fmt.Printf("Fibers Spawned:    %d\n", s.FibersSpawned)
	fmt.Printf("Fibers Dispatched: %d\n", s.FibersDispatched)
	fmt.Printf("Fibers Completed:  %d\n", s.FibersCompleted)
	fmt.Printf("Context Switches:  %d\n", s.ContextSwitches)
	fmt.Printf("Preemptions:       %d\n", s.Preemptions)
}
