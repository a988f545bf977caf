package joingraph

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/joingraph/pkg/joingraph/checkpoint"
	"github.com/randalmurphal/joingraph/pkg/joingraph/observability"
)

const (
	// DefaultMaxIterations is the default limit on node executions per run.
	DefaultMaxIterations = 1000

	// MaxIterationsLimit is the largest value WithMaxIterations accepts.
	MaxIterationsLimit = 100000

	// DefaultMaxJoinPolls is the default number of not-ready polls a join
	// may return per epoch before the run fails.
	DefaultMaxJoinPolls = 64
)

// runConfig holds configuration for graph execution.
type runConfig struct {
	maxIterations    int
	maxJoinPolls     int
	readinessTimeout time.Duration
	maxConcurrency   int

	checkpointStore        checkpoint.Store
	runID                  string
	checkpointFailureFatal bool
	sequence               int

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: DefaultMaxIterations,
		maxJoinPolls:  DefaultMaxJoinPolls,
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
	}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxIterations sets the maximum number of node executions, join polls
// included. Default: 1000
//
// This prevents infinite loops from hanging forever. If a run
// exceeds this limit, it returns a *MaxIterationsError.
//
// Panics if n <= 0 or n > MaxIterationsLimit.
//
// Example:
//
//	snap, err := compiled.Run(ctx, initial, joingraph.WithMaxIterations(100))
func WithMaxIterations(n int) RunOption {
	if n <= 0 {
		panic("joingraph: max iterations must be > 0")
	}
	if n > MaxIterationsLimit {
		panic(fmt.Sprintf("joingraph: max iterations exceeds limit (%d)", MaxIterationsLimit))
	}
	return func(c *runConfig) {
		c.maxIterations = n
	}
}

// WithMaxJoinPolls sets how many times a join may report "not ready" in one
// epoch before the run fails with a *ReadinessTimeoutError. Default: 64
//
// Panics if n <= 0.
func WithMaxJoinPolls(n int) RunOption {
	if n <= 0 {
		panic("joingraph: max join polls must be > 0")
	}
	return func(c *runConfig) {
		c.maxJoinPolls = n
	}
}

// WithReadinessTimeout bounds how long a join may wait after its first
// branch arrives. Zero (the default) disables the wall-clock bound.
//
// Panics if d < 0.
func WithReadinessTimeout(d time.Duration) RunOption {
	if d < 0 {
		panic("joingraph: readiness timeout must be >= 0")
	}
	return func(c *runConfig) {
		c.readinessTimeout = d
	}
}

// WithMaxConcurrency bounds the number of nodes executing at once.
// Zero (the default) runs every ready node immediately.
//
// Panics if n < 0.
func WithMaxConcurrency(n int) RunOption {
	if n < 0 {
		panic("joingraph: max concurrency must be >= 0")
	}
	return func(c *runConfig) {
		c.maxConcurrency = n
	}
}

// WithCheckpointing saves a checkpoint after every completed node.
// Requires WithRunID.
func WithCheckpointing(store checkpoint.Store) RunOption {
	return func(c *runConfig) {
		c.checkpointStore = store
	}
}

// WithRunID sets the run identifier used for checkpoints, logs, and spans.
func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		c.runID = id
	}
}

// WithCheckpointFailureFatal makes checkpoint failures stop the run.
// By default they are logged and execution continues.
func WithCheckpointFailureFatal(fatal bool) RunOption {
	return func(c *runConfig) {
		c.checkpointFailureFatal = fatal
	}
}

// WithObservabilityLogger sets the logger for run, node, join, and
// checkpoint events. Defaults to the Context logger.
func WithObservabilityLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithMetrics enables OpenTelemetry metrics through the global meter provider.
func WithMetrics(enabled bool) RunOption {
	return func(c *runConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithMetricsRecorder sets a custom metrics recorder.
func WithMetricsRecorder(m observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables OpenTelemetry spans for the run and every node.
func WithTracing(enabled bool) RunOption {
	return func(c *runConfig) {
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}
