// Package helloice is a condition-driven subscriber for ICE medical device
// data.
//
// A single goroutine blocks on a readiness set of endpoint status conditions.
// When a wait returns, every endpoint whose condition triggered is drained and
// its valid samples are handed to a consumer. Drained batches are loaned and
// always returned before the next wait.
//
// # Architecture
//
//	┌──────────────────────────────┐
//	│ cmd/hello-openice            │  flags, config, logging, supervision
//	└──────────────────────────────┘
//	           ↓ builds
//	┌──────────────────────────────┐
//	│ dispatch.Loop                │  wait, drain, deliver, return loan
//	└──────────────────────────────┘
//	     ↓ waits on         ↓ delivers to
//	┌──────────────┐  ┌──────────────────┐
//	│ waitset      │  │ dispatch.Router  │  typed handlers per type tag
//	└──────────────┘  └──────────────────┘
//	     ↑ conditions
//	┌──────────────────────────────┐
//	│ transport.Endpoint           │  status condition + sample cache
//	│   transport/natsbus (NATS)   │
//	│   transport/memory (in-proc) │
//	└──────────────────────────────┘
//
// # Packages
//
//   - transport: endpoint, status condition, loaned sample cache, QoS profile
//   - waitset: readiness set with a bounded, cancellable wait
//   - dispatch: the dispatch loop, consumer contracts, router and metrics
//   - payload: ICE Numeric and SampleArray types, JSON and CBOR codecs
//   - transport/natsbus: NATS subjects for volatile data, JetStream for
//     transient-local history
//   - transport/memory: in-process bus for tests and the simulator
//   - natsclient: NATS connection with circuit breaker
//   - config: layered JSON configuration and YAML QoS profiles
//   - metric, health: Prometheus exposition and /health
//   - errors: classified errors and the subscriber error taxonomy
//   - pkg/retry: backoff used to rebuild the transport after a fault
//
// # Running
//
//	go run ./cmd/hello-openice -simulate          # no broker needed
//	go run ./cmd/hello-openice 15                 # domain 15 over NATS
//
// # Testing
//
//	go test ./...                                 # unit tests
//	go test -tags=integration ./...               # NATS in testcontainers
package helloice
