package rob

import "github.com/sirupsen/logrus"

// Option configures an Executor at construction time. There is no
// environment-variable or config-file surface, every knob is a
// functional option on the constructor.
type Option func(*config)

type config struct {
	numWorkers          int
	windowSize          int
	schedulingPolicy    SchedulingPolicy
	abortReturnPolicy   AbortReturnPolicy
	terminationStrategy TerminationStrategy
	loopName            string
	logger              *logrus.Logger
}

// WithWorkers sets the size of the worker pool. Defaults to
// runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(c *config) { c.numWorkers = n }
}

// WithWindowSize sets the number of preallocated Context slots per
// worker FreeList. Defaults to 1024, matching the original runtime's
// WINDOW_SIZE_PER_THREAD.
func WithWindowSize(n int) Option {
	return func(c *config) { c.windowSize = n }
}

// WithSchedulingPolicy selects global-min-first (default, highest
// ordering quality) or thread-local-first (lower contention) scheduling.
func WithSchedulingPolicy(p SchedulingPolicy) Option {
	return func(c *config) { c.schedulingPolicy = p }
}

// WithAbortReturnPolicy selects where an aborted item's pending entry
// goes: tree-serialized (default, dampens convoying) or back to the
// local worker.
func WithAbortReturnPolicy(p AbortReturnPolicy) Option {
	return func(c *config) { c.abortReturnPolicy = p }
}

// WithTerminationStrategy selects the Dijkstra ring (default) or tree
// termination-detection topology.
func WithTerminationStrategy(s TerminationStrategy) Option {
	return func(c *config) { c.terminationStrategy = s }
}

// WithLoopName tags the run for logging, matching the optional loopname
// argument of the original runtime's for_each_ordered_rob.
func WithLoopName(name string) Option {
	return func(c *config) { c.loopName = name }
}

// WithLogger overrides the default logrus.Logger used for debug-level
// tracing when a context is scheduled and when a worker aborts its own
// context.
func WithLogger(l *logrus.Logger) Option {
	return func(c *config) { c.logger = l }
}
