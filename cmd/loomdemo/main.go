// Command loomdemo is a small example program demonstrating loom's
// Spawn/Shutdown/Stats surface.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/thanhhungg97/loom"
)

func main() {
	workers := flag.Int("workers", 2, "number of worker threads")
	fibers := flag.Int("fibers", 8, "number of fibers to spawn")
	sliceBudget := flag.Duration("slice", 20*time.Millisecond, "preemption slice budget")
	spins := flag.Uint64("spins", 2_000_000, "busy-loop iterations per fiber")
	showStats := flag.Bool("stats", true, "print runtime stats after completion")
	flag.Parse()

	fmt.Printf("Usage: loomdemo [-workers N] [-fibers N] [-slice DURATION] [-spins N] [-stats]\n")
	fmt.Printf("Starting loom runtime: workers=%d fibers=%d slice=%s\n", *workers, *fibers, *sliceBudget)

	rt := loom.New(
		loom.WithWorkerCount(*workers),
		loom.WithSliceBudget(*sliceBudget),
	)
	defer rt.Shutdown()

	done := make(chan int64, *fibers)
	for i := 0; i < *fibers; i++ {
		i := i
		n := *spins
		_, err := rt.Spawn(fmt.Sprintf("worker-fiber-%d", i), func(args []byte) []byte {
			var x uint64
			for k := uint64(0); k < n; k++ {
				x += k
			}
			return nil
		}, nil, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "spawn failed: %v\n", err)
			os.Exit(1)
		}
		done <- int64(i)
	}
	close(done)

	// This demo has no completion callback wired; give the runtime a fixed
	// window to drain everything instead.
	time.Sleep(2 * time.Second)

	if *showStats {
		rt.PrintStats()
	}
}
