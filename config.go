package loom

import (
	"time"

	"golang.org/x/sys/unix"
)

// Config holds the runtime's all-overridable settings, populated via
// functional options.
type Config struct {
	// WorkerCount is the size of the worker pool. Default 1.
	WorkerCount int

	// ProcessorCount is reserved for future NUMA/core pinning; it has no
	// effect on scheduling in this core.
	ProcessorCount int

	// FiberStackSize is the default bytes per fiber stack. Default 16384.
	FiberStackSize int

	// SliceBudget is the wall-clock duration before a worker's running
	// fiber becomes eligible for preemption. Default 20ms.
	SliceBudget time.Duration

	// MonitorInterval is the sleep between monitor sweeps. Default 500µs.
	MonitorInterval time.Duration

	// PreemptionSignal documents the signal number this configuration
	// associates with preemption, default SIGURG (rarely generated by the
	// kernel, so unlikely to collide with an embedder's own signal use).
	// This core delivers preemption over a channel rather than a raw OS
	// signal; the field exists for configuration/documentation parity and
	// for any embedder that wants to correlate logs with a signal number.
	PreemptionSignal unix.Signal
}

// Option configures a Config.
type Option func(*Config)

// WithWorkerCount sets the worker pool size.
func WithWorkerCount(n int) Option {
	return func(c *Config) { c.WorkerCount = n }
}

// WithProcessorCount sets the reserved processor count.
func WithProcessorCount(n int) Option {
	return func(c *Config) { c.ProcessorCount = n }
}

// WithFiberStackSize sets the default per-fiber stack size in bytes.
func WithFiberStackSize(n int) Option {
	return func(c *Config) { c.FiberStackSize = n }
}

// WithSliceBudget sets the preemption slice budget.
func WithSliceBudget(d time.Duration) Option {
	return func(c *Config) { c.SliceBudget = d }
}

// WithMonitorInterval sets the monitor's sweep interval.
func WithMonitorInterval(d time.Duration) Option {
	return func(c *Config) { c.MonitorInterval = d }
}

// WithPreemptionSignal overrides the documented preemption signal number.
func WithPreemptionSignal(sig unix.Signal) Option {
	return func(c *Config) { c.PreemptionSignal = sig }
}

// defaultConfig returns the runtime's default settings.
func defaultConfig() Config {
	return Config{
		WorkerCount:      1,
		ProcessorCount:   1,
		FiberStackSize:   16384,
		SliceBudget:      20 * time.Millisecond,
		MonitorInterval:  500 * time.Microsecond,
		PreemptionSignal: unix.SIGURG,
	}
}

// NewConfig builds a Config from its defaults, overridden by opts.
func NewConfig(opts ...Option) Config {
	c := defaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
