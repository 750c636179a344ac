package worker

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/thanhhungg97/loom/fiber"
	"github.com/thanhhungg97/loom/stackctx"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestWorkerRunsFiberToCompletion(t *testing.T) {
	w := New(0, 20*time.Millisecond, testLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.Start(ctx)
	for w.State() != StateIdle {
		time.Sleep(time.Millisecond)
	}

	f := fiber.New("noop", func(args []byte) []byte {
		return []byte("done")
	}, nil, nil, stackctx.DefaultStackSize)
	f.SetState(fiber.Runnable)

	w.Local().Lock()
	w.Local().Enqueue(f)
	w.Local().Unlock()
	w.Wake()

	deadline := time.After(2 * time.Second)
	for f.State() != fiber.Done {
		select {
		case <-deadline:
			t.Fatalf("fiber never reached Done, state=%s", f.State())
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if string(f.Result) != "done" {
		t.Errorf("Result = %q, want %q", f.Result, "done")
	}

	w.Stop()
	<-w.Done()
}

func TestWorkerPreemptsLongRunningFiberAtSafepoints(t *testing.T) {
	w := New(0, 5*time.Millisecond, testLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.Start(ctx)
	for w.State() != StateIdle {
		time.Sleep(time.Millisecond)
	}

	stop := make(chan struct{})
	var f *fiber.Fiber
	f = fiber.New("spinner", func(args []byte) []byte {
		for {
			select {
			case <-stop:
				return []byte("stopped")
			default:
			}
			f.Safepoint()
		}
	}, nil, nil, stackctx.DefaultStackSize)
	f.SetState(fiber.Runnable)

	w.Local().Lock()
	w.Local().Enqueue(f)
	w.Local().Unlock()
	w.Wake()

	// Give it time to run through several slice budgets; it must have been
	// preempted at least once by now.
	time.Sleep(100 * time.Millisecond)
	if w.Stats().Preemptions == 0 {
		t.Error("expected at least one preemption to have occurred")
	}

	close(stop)
	deadline := time.After(2 * time.Second)
	for f.State() != fiber.Done {
		select {
		case <-deadline:
			t.Fatalf("fiber never reached Done, state=%s", f.State())
		default:
			time.Sleep(time.Millisecond)
		}
	}

	w.Stop()
	<-w.Done()
}
