package joingraph

import (
	"fmt"

	"github.com/randalmurphal/joingraph/pkg/joingraph/config"
)

// OptionsFromConfig maps a configuration section to run options.
//
// Recognized keys: max_iterations, max_join_polls, readiness_timeout,
// max_concurrency, run_id, metrics, tracing, checkpoint_failure_fatal.
// Missing keys keep the defaults; out-of-range values are errors.
//
// Example:
//
//	cfg, _ := config.FromFile("joingraph.yaml")
//	opts, err := joingraph.OptionsFromConfig(cfg.Sub("run"))
func OptionsFromConfig(cfg config.Config) ([]RunOption, error) {
	var opts []RunOption

	if cfg.Has("max_iterations") {
		n := cfg.Int("max_iterations", 0)
		if n <= 0 || n > MaxIterationsLimit {
			return nil, fmt.Errorf("max_iterations must be in 1..%d, got %v", MaxIterationsLimit, cfg.Any("max_iterations", nil))
		}
		opts = append(opts, WithMaxIterations(n))
	}

	if cfg.Has("max_join_polls") {
		n := cfg.Int("max_join_polls", 0)
		if n <= 0 {
			return nil, fmt.Errorf("max_join_polls must be > 0, got %v", cfg.Any("max_join_polls", nil))
		}
		opts = append(opts, WithMaxJoinPolls(n))
	}

	if cfg.Has("readiness_timeout") {
		d := cfg.Duration("readiness_timeout", -1)
		if d < 0 {
			return nil, fmt.Errorf("readiness_timeout must be a non-negative duration, got %v", cfg.Any("readiness_timeout", nil))
		}
		opts = append(opts, WithReadinessTimeout(d))
	}

	if cfg.Has("max_concurrency") {
		n := cfg.Int("max_concurrency", -1)
		if n < 0 {
			return nil, fmt.Errorf("max_concurrency must be >= 0, got %v", cfg.Any("max_concurrency", nil))
		}
		opts = append(opts, WithMaxConcurrency(n))
	}

	if id := cfg.String("run_id", ""); id != "" {
		opts = append(opts, WithRunID(id))
	}
	if cfg.Has("metrics") {
		opts = append(opts, WithMetrics(cfg.Bool("metrics", false)))
	}
	if cfg.Has("tracing") {
		opts = append(opts, WithTracing(cfg.Bool("tracing", false)))
	}
	if cfg.Has("checkpoint_failure_fatal") {
		opts = append(opts, WithCheckpointFailureFatal(cfg.Bool("checkpoint_failure_fatal", false)))
	}

	return opts, nil
}
