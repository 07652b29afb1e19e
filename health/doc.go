// Package health tracks the health of the subscriber's parts and folds them
// into one status for the /health endpoint.
//
// Parts report in two ways. Pushed statuses are set with Update and its
// helpers when something happens, such as the dispatch loop restarting.
// Probes are functions evaluated on every read, suited to state owned
// elsewhere, such as the NATS connection:
//
//	mon := health.NewMonitor()
//	mon.AddProbe("nats", client.Health)
//	mon.UpdateHealthy("dispatch", "2 endpoints attached")
//
//	if err := mon.Err("hello-openice"); err != nil {
//	    // unhealthy
//	}
//
// Aggregation is worst-wins: any unhealthy part makes the whole unhealthy,
// otherwise any degraded part makes it degraded. Probe error messages are
// sanitized before they are exposed, removing URLs, paths, addresses and
// credentials.
package health
