package dispatch

import (
	"log/slog"
	"time"
)

// DefaultWaitInterval bounds a single wait so the loop re-checks its context
// even when the wait set cannot be woken.
const DefaultWaitInterval = time.Second

// Option configures a Loop
type Option func(*Loop)

// WithWaitInterval sets the bound on a single wait. Zero or negative waits
// until the context is cancelled.
func WithWaitInterval(d time.Duration) Option {
	return func(l *Loop) {
		l.interval = d
	}
}

// WithErrorSink sets where consumer faults are reported. The default logs them.
func WithErrorSink(sink ErrorSink) Option {
	return func(l *Loop) {
		if sink != nil {
			l.sink = sink
		}
	}
}

// WithLogger sets the loop logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics attaches dispatch collectors
func WithMetrics(m *Metrics) Option {
	return func(l *Loop) {
		l.metrics = m
	}
}

// WithInstanceHandler surfaces samples without valid data (disposals and
// writer loss) instead of dropping them.
func WithInstanceHandler(h InstanceHandler) Option {
	return func(l *Loop) {
		l.onInstance = h
	}
}
