// Package metric wraps a Prometheus registry for the subscriber.
//
// NewMetricsRegistry registers the process-level collectors (transport
// connectivity, circuit breaker, loop restarts, Go runtime). Components such as
// the dispatch loop register their own vectors through MetricsRegistrar under a
// component name so duplicates are caught early:
//
//	registry := metric.NewMetricsRegistry()
//	drains := prometheus.NewCounterVec(opts, []string{"topic", "result"})
//	if err := registry.RegisterCounterVec("dispatch", "drains", drains); err != nil {
//	    return err
//	}
//
// Server exposes the registry on /metrics together with a /health probe.
package metric
