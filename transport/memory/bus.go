// Package memory provides an in-process transport. Publishers and endpoints
// share a Bus; samples are handed over without serialization.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/khtad/hello-openice/errors"
	"github.com/khtad/hello-openice/transport"
)

// Option configures a Bus
type Option func(*Bus)

// WithLogger sets the bus logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

type instanceRef struct {
	topic string
	key   string
}

// Bus is an in-process domain. It implements transport.Transport.
type Bus struct {
	domain int
	writer string
	logger *slog.Logger
	seq    atomic.Uint64

	mu        sync.Mutex
	endpoints map[transport.EndpointID]*Endpoint
	// last sample per instance, replayed to transient_local endpoints
	history map[instanceRef]transport.Sample
	closed  error
}

var _ transport.Transport = (*Bus)(nil)

// New creates a bus for domain
func New(domain int, opts ...Option) *Bus {
	b := &Bus{
		domain:    domain,
		writer:    uuid.NewString(),
		logger:    slog.Default(),
		endpoints: make(map[transport.EndpointID]*Endpoint),
		history:   make(map[instanceRef]transport.Sample),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("transport", "memory", "domain", domain)
	return b
}

// Domain returns the domain id
func (b *Bus) Domain() int { return b.domain }

// CreateEndpoint creates a reader on topic. Transient-local endpoints receive
// the last sample of every known instance of the topic.
func (b *Bus) CreateEndpoint(_ context.Context, topic, typeTag string, qos transport.QoSProfile) (transport.Endpoint, error) {
	if topic == "" || typeTag == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Bus", "CreateEndpoint", "topic and type are required")
	}
	if err := qos.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed != nil {
		return nil, errors.WrapFatal(b.closed, "Bus", "CreateEndpoint", "create "+topic)
	}

	ep := &Endpoint{Reader: transport.NewReader(topic, typeTag, qos), bus: b}
	b.endpoints[ep.ID()] = ep

	if qos.Durability == transport.TransientLocal {
		for ref, s := range b.history {
			if ref.topic == topic {
				_ = ep.Deliver(s)
			}
		}
	}

	b.logger.Debug("Endpoint created",
		"endpoint", ep.ID(), "topic", topic, "type", typeTag, "qos", qos.QualifiedName())
	return ep, nil
}

// Publish delivers payload to every endpoint on topic with a matching type tag.
// It returns the number of endpoints reached.
func (b *Bus) Publish(topic, typeTag, instanceKey string, payload any) (int, error) {
	return b.write(topic, typeTag, transport.Sample{
		Payload: payload,
		Info: transport.SampleInfo{
			ValidData:     true,
			InstanceState: transport.InstanceAlive,
			InstanceKey:   instanceKey,
		},
	})
}

// Dispose announces that an instance no longer exists.
func (b *Bus) Dispose(topic, typeTag, instanceKey string) (int, error) {
	return b.write(topic, typeTag, transport.Sample{
		Info: transport.SampleInfo{InstanceState: transport.InstanceDisposed, InstanceKey: instanceKey},
	})
}

// Unregister announces that this writer stopped updating an instance.
func (b *Bus) Unregister(topic, typeTag, instanceKey string) (int, error) {
	return b.write(topic, typeTag, transport.Sample{
		Info: transport.SampleInfo{InstanceState: transport.InstanceNoWriters, InstanceKey: instanceKey},
	})
}

// Reject counts an undecodable message against every matching endpoint.
func (b *Bus) Reject(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ep := range b.endpoints {
		if ep.Topic() == topic {
			ep.Reject()
		}
	}
}

func (b *Bus) write(topic, typeTag string, s transport.Sample) (int, error) {
	s.Info.SourceTimestamp = time.Now()
	s.Info.PublicationHandle = b.writer
	s.Info.SequenceNumber = b.seq.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed != nil {
		return 0, errors.WrapFatal(b.closed, "Bus", "Publish", "publish "+topic)
	}

	ref := instanceRef{topic: topic, key: s.Info.InstanceKey}
	if s.Info.ValidData {
		b.history[ref] = s
	} else {
		delete(b.history, ref)
	}

	delivered := 0
	for _, ep := range b.endpoints {
		if ep.Topic() != topic || ep.TypeTag() != typeTag {
			continue
		}
		if err := ep.Deliver(s); err != nil {
			b.logger.Debug("Delivery skipped", "endpoint", ep.ID(), "error", err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// Fail tears down every endpoint with cause, as a lost connection would.
// The bus refuses further use.
func (b *Bus) Fail(cause error) {
	b.shutdown(cause)
}

// Close shuts the bus down. Waits on its endpoints observe ErrTransportClosed.
func (b *Bus) Close(_ context.Context) error {
	b.shutdown(transport.ErrTransportClosed)
	return nil
}

func (b *Bus) shutdown(cause error) {
	b.mu.Lock()
	if b.closed != nil {
		b.mu.Unlock()
		return
	}
	b.closed = cause
	endpoints := b.endpoints
	b.endpoints = make(map[transport.EndpointID]*Endpoint)
	b.mu.Unlock()

	for _, ep := range endpoints {
		ep.Shutdown(cause)
	}
	b.logger.Info("Bus shut down", "endpoints", len(endpoints), "cause", cause)
}

func (b *Bus) remove(id transport.EndpointID) {
	b.mu.Lock()
	delete(b.endpoints, id)
	b.mu.Unlock()
}

// Endpoint is a reader attached to a Bus
type Endpoint struct {
	*transport.Reader
	bus  *Bus
	once sync.Once
}

var _ transport.Endpoint = (*Endpoint)(nil)

// Close detaches the endpoint from its bus
func (e *Endpoint) Close() error {
	e.once.Do(func() {
		e.bus.remove(e.ID())
		e.Shutdown(transport.ErrEndpointClosed)
	})
	return nil
}

func (e *Endpoint) String() string {
	return fmt.Sprintf("memory endpoint %d (%s)", e.ID(), e.Topic())
}
