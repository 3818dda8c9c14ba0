package supervisor

import "log/slog"

// Option configures a Supervisor.
type Option func(*supervisor)

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m Metrics) Option {
	return func(s *supervisor) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithHooks installs lifecycle callbacks.
func WithHooks(h Hooks) Option {
	return func(s *supervisor) {
		s.hooks = h.withDefaults()
	}
}

// WithScheduler replaces the timer-backed scheduler.
func WithScheduler(sched Scheduler) Option {
	return func(s *supervisor) {
		if sched != nil {
			s.scheduler = sched
		}
	}
}
