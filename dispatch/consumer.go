package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/khtad/hello-openice/transport"
)

// Routing errors, reported as consumer faults
var (
	ErrNoRoute     = stderrors.New("no handler for type tag")
	ErrPayloadType = stderrors.New("unexpected payload type")
)

// Record is a valid sample handed to the consumer
type Record struct {
	Endpoint transport.EndpointID
	Topic    string
	TypeTag  string
	Payload  any
	Info     transport.SampleInfo
}

// Consumer receives records from the dispatch loop. A returned error (or a
// panic) becomes a ConsumerFault; the loop keeps running.
type Consumer interface {
	Consume(ctx context.Context, rec Record) error
}

// ConsumerFunc adapts a function to Consumer
type ConsumerFunc func(ctx context.Context, rec Record) error

// Consume calls f
func (f ConsumerFunc) Consume(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

// ErrorSink receives recovered consumer faults
type ErrorSink func(err error)

// InstanceEvent describes a sample whose valid_data flag is false: the
// instance was disposed or lost its writers and no payload travels with it.
type InstanceEvent struct {
	Endpoint transport.EndpointID
	Topic    string
	TypeTag  string
	Info     transport.SampleInfo
}

// InstanceHandler receives instance lifecycle notifications when enabled
type InstanceHandler func(ctx context.Context, ev InstanceEvent)

// Router dispatches records to a consumer per type tag.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Consumer
	fallback Consumer
}

var _ Consumer = (*Router)(nil)

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Consumer)}
}

// Route registers c for typeTag, replacing any previous handler
func (r *Router) Route(typeTag string, c Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typeTag] = c
}

// Fallback sets the consumer for type tags without a route
func (r *Router) Fallback(c Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = c
}

// Consume implements Consumer
func (r *Router) Consume(ctx context.Context, rec Record) error {
	r.mu.RLock()
	h, ok := r.handlers[rec.TypeTag]
	if !ok {
		h = r.fallback
	}
	r.mu.RUnlock()

	if h == nil {
		return fmt.Errorf("%w %q", ErrNoRoute, rec.TypeTag)
	}
	return h.Consume(ctx, rec)
}

// Handle registers a typed handler. The payload is converted to T once, here,
// so the loop itself stays payload-agnostic.
func Handle[T any](r *Router, typeTag string, fn func(ctx context.Context, v T, info transport.SampleInfo) error) {
	r.Route(typeTag, ConsumerFunc(func(ctx context.Context, rec Record) error {
		v, ok := rec.Payload.(T)
		if !ok {
			var want T
			return fmt.Errorf("%w: %s carries %T, want %T", ErrPayloadType, rec.TypeTag, rec.Payload, want)
		}
		return fn(ctx, v, rec.Info)
	}))
}
