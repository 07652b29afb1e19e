// Package natsclient manages the NATS connection the NATS transport runs on.
//
// A Client wraps one *nats.Conn and its JetStream context. Connection attempts
// pass through a circuit breaker: after a threshold of consecutive failures
// (default 5) the circuit opens and Connect fails fast with ErrCircuitOpen
// until the backoff elapses. Each time the circuit re-opens the backoff
// doubles, capped at the configured maximum.
//
// # Lifecycle
//
// The client moves through Disconnected, Connecting, Connected and
// Reconnecting. nats.go handles reconnection itself; the client mirrors its
// events into Status, optional callbacks and the transport gauges of the
// metric package. When the connection closes without Close being called (for
// example once reconnects are exhausted) the connection-lost callback runs
// with an error wrapping errors.ErrConnectionLost. The NATS transport uses it
// to fail every endpoint so the dispatch loop sees a transport fault.
//
//	client, err := natsclient.NewClient(url,
//	    natsclient.WithSlog(logger),
//	    natsclient.WithConnectionLostCallback(bus.Fail),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
// # Messaging
//
// Subscribe and PublishMsg work on core subjects with headers intact.
// EnsureStream, PublishToStream and OrderedConsume cover the JetStream side
// used for transient-local durability.
//
// # Testing
//
// NewTestClient starts a NATS container through testcontainers-go and returns
// a connected client; tests using it carry the integration build tag.
package natsclient
