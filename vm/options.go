package vm

import "github.com/rs/zerolog"

// Option configures a VirtualMachine at construction, mirroring the
// teacher's vm.Option functional-options pattern.
type Option func(*VirtualMachine)

// WithFuelTracker attaches an optional per-instruction cost budget.
func WithFuelTracker(tracker FuelTracker) Option {
	return func(v *VirtualMachine) {
		v.fuel = tracker
	}
}

// WithObserver attaches an observer for dispatch-loop tracing/logging.
func WithObserver(observer Observer) Option {
	return func(v *VirtualMachine) {
		v.observer = observer
	}
}

// WithLogger attaches a zerolog.Logger and wraps it in a ZerologObserver,
// unless an explicit WithObserver call already set one.
func WithLogger(logger zerolog.Logger) Option {
	return func(v *VirtualMachine) {
		v.logger = logger
		if v.observer == (Observer)(nil) {
			v.observer = ZerologObserver{Logger: logger}
		}
	}
}

// WithRecursionLimit overrides the environment's configured recursion
// limit, primarily useful in tests that want to exercise the
// RecursionLimit error path without building a deep template.
func WithRecursionLimit(limit int) Option {
	return func(v *VirtualMachine) {
		v.recursionLimitOverride = &limit
	}
}

// WithContextCheckInterval sets how many instructions elapse between
// ctx.Done() polls, ported from the teacher's deterministic cancellation
// cadence. 0 disables deterministic checking.
func WithContextCheckInterval(interval int) Option {
	return func(v *VirtualMachine) {
		v.contextCheckInterval = interval
	}
}
