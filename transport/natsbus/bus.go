// Package natsbus carries ICE samples over NATS. Volatile endpoints use core
// subscriptions; transient-local endpoints read a per-domain JetStream stream
// through ordered consumers that replay the retained history first.
package natsbus

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/khtad/hello-openice/errors"
	"github.com/khtad/hello-openice/payload"
	"github.com/khtad/hello-openice/transport"
)

// Conn is the part of natsclient.Client the bus needs
type Conn interface {
	Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error)
	PublishMsg(ctx context.Context, msg *nats.Msg) error
	PublishToStream(ctx context.Context, msg *nats.Msg) error
	Flush(ctx context.Context) error
	EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	OrderedConsume(ctx context.Context, stream string, cfg jetstream.OrderedConsumerConfig,
		handler jetstream.MessageHandler) (jetstream.ConsumeContext, error)
}

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

// WithStreamMaxAge bounds how long the domain stream keeps samples
func WithStreamMaxAge(d time.Duration) Option {
	return func(b *Bus) {
		b.streamMaxAge = d
	}
}

// Bus is a NATS-backed transport.Transport for one domain.
type Bus struct {
	conn         Conn
	domain       int
	registry     *payload.Registry
	logger       *slog.Logger
	streamMaxAge time.Duration

	mu          sync.Mutex
	endpoints   map[transport.EndpointID]*Endpoint
	streamDepth int // -1 until the stream exists
	closed      error
}

var _ transport.Transport = (*Bus)(nil)

// New creates a bus for domain on conn. registry decodes incoming payloads.
func New(conn Conn, domain int, registry *payload.Registry, opts ...Option) (*Bus, error) {
	if conn == nil || registry == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Bus", "New", "connection and registry are required")
	}
	if domain < 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Bus", "New", fmt.Sprintf("domain %d", domain))
	}

	b := &Bus{
		conn:        conn,
		domain:      domain,
		registry:    registry,
		logger:      slog.Default(),
		endpoints:   make(map[transport.EndpointID]*Endpoint),
		streamDepth: -1,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("transport", "nats", "domain", domain)
	return b, nil
}

// Domain returns the domain id
func (b *Bus) Domain() int { return b.domain }

// CreateEndpoint subscribes to topic and returns the endpoint
func (b *Bus) CreateEndpoint(ctx context.Context, topic, typeTag string, qos transport.QoSProfile) (transport.Endpoint, error) {
	if topic == "" || !b.registry.Known(typeTag) {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Bus", "CreateEndpoint",
			fmt.Sprintf("topic %q type %q", topic, typeTag))
	}
	if err := qos.Validate(); err != nil {
		return nil, err
	}
	if err := b.usable("CreateEndpoint"); err != nil {
		return nil, err
	}

	ep := b.newEndpoint(topic, typeTag, qos)
	if err := b.subscribe(ctx, ep); err != nil {
		ep.Shutdown(err)
		return nil, err
	}

	b.mu.Lock()
	if cause := b.closed; cause != nil {
		b.mu.Unlock()
		_ = ep.stop()
		ep.Shutdown(cause)
		return nil, errors.WrapFatal(cause, "Bus", "CreateEndpoint", "create "+topic)
	}
	b.endpoints[ep.ID()] = ep
	b.mu.Unlock()

	b.logger.Info("Endpoint created",
		"endpoint", ep.ID(), "topic", topic, "type", typeTag,
		"qos", qos.QualifiedName(), "durability", string(qos.Durability))
	return ep, nil
}

// subscribe feeds ep from NATS and sets its stop function. Transient-local
// endpoints replay the retained history: the last message per subject at
// depth 1, everything the stream still holds otherwise. The reader's cache
// trims the replay to its own depth per instance.
func (b *Bus) subscribe(ctx context.Context, ep *Endpoint) error {
	filter := TopicFilter(b.domain, ep.Topic())
	qos := ep.QoS()

	if qos.Durability == transport.TransientLocal {
		if err := b.ensureStream(ctx, qos.HistoryDepth()); err != nil {
			return err
		}
		cc, err := b.conn.OrderedConsume(ctx, StreamName(b.domain), jetstream.OrderedConsumerConfig{
			FilterSubjects: []string{filter},
			DeliverPolicy:  replayPolicy(qos),
		}, func(msg jetstream.Msg) {
			ep.handle(msg.Headers(), msg.Data())
		})
		if err != nil {
			return errors.Wrap(err, "Bus", "CreateEndpoint", "consume "+filter)
		}
		ep.stop = func() error { cc.Stop(); return nil }
		return nil
	}

	sub, err := b.conn.Subscribe(filter, func(msg *nats.Msg) {
		ep.handle(msg.Header, msg.Data)
	})
	if err != nil {
		return errors.Wrap(err, "Bus", "CreateEndpoint", "subscribe "+filter)
	}
	ep.stop = func() error {
		err := sub.Unsubscribe()
		if stderrors.Is(err, nats.ErrConnectionClosed) || stderrors.Is(err, nats.ErrBadSubscription) {
			return nil
		}
		return err
	}
	return nil
}

func replayPolicy(qos transport.QoSProfile) jetstream.DeliverPolicy {
	if qos.HistoryDepth() == 1 {
		return jetstream.DeliverLastPerSubjectPolicy
	}
	return jetstream.DeliverAllPolicy
}

func (b *Bus) newEndpoint(topic, typeTag string, qos transport.QoSProfile) *Endpoint {
	ep := &Endpoint{
		Reader: transport.NewReader(topic, typeTag, qos),
		bus:    b,
		stop:   func() error { return nil },
	}
	ep.logger = b.logger.With("endpoint", ep.ID(), "topic", topic)
	return ep
}

// ensureStream creates the domain stream, growing its per-subject history to depth.
func (b *Bus) ensureStream(ctx context.Context, depth int) error {
	perSubject := int64(depth)
	if depth <= 0 {
		perSubject = -1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.streamDepth >= 0 && (b.streamDepth == 0 || (depth > 0 && depth <= b.streamDepth)) {
		return nil
	}

	_, err := b.conn.EnsureStream(ctx, jetstream.StreamConfig{
		Name:              StreamName(b.domain),
		Subjects:          []string{DomainFilter(b.domain)},
		Storage:           jetstream.MemoryStorage,
		MaxMsgsPerSubject: perSubject,
		MaxAge:            b.streamMaxAge,
	})
	if err != nil {
		return errors.Wrap(err, "Bus", "ensureStream", "ensure "+StreamName(b.domain))
	}
	b.streamDepth = max(depth, 0)
	return nil
}

func (b *Bus) usable(method string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed != nil {
		return errors.WrapFatal(b.closed, "Bus", method, "check bus state")
	}
	return nil
}

// Fail tears down every endpoint with cause. Wire it to the connection-lost
// callback of the client.
func (b *Bus) Fail(cause error) {
	b.shutdown(cause)
}

// Close stops all subscriptions. The connection stays open.
func (b *Bus) Close(_ context.Context) error {
	return b.shutdown(transport.ErrTransportClosed)
}

func (b *Bus) shutdown(cause error) error {
	b.mu.Lock()
	if b.closed != nil {
		b.mu.Unlock()
		return nil
	}
	b.closed = cause
	endpoints := b.endpoints
	b.endpoints = make(map[transport.EndpointID]*Endpoint)
	b.mu.Unlock()

	var firstErr error
	for _, ep := range endpoints {
		if err := ep.stop(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "Bus", "Close", "stop "+ep.Topic())
		}
		ep.Shutdown(cause)
	}
	b.logger.Info("Bus shut down", "endpoints", len(endpoints), "cause", cause)
	return firstErr
}

func (b *Bus) remove(id transport.EndpointID) {
	b.mu.Lock()
	delete(b.endpoints, id)
	b.mu.Unlock()
}

// Endpoint is a reader fed by a NATS subscription or ordered consumer
type Endpoint struct {
	*transport.Reader
	bus    *Bus
	logger *slog.Logger
	stop   func() error
	once   sync.Once
}

var _ transport.Endpoint = (*Endpoint)(nil)

// Close stops the subscription and fails the endpoint's condition
func (e *Endpoint) Close() error {
	var err error
	e.once.Do(func() {
		e.bus.remove(e.ID())
		err = e.stop()
		e.Shutdown(transport.ErrEndpointClosed)
	})
	return err
}

// handle turns one message into a sample. Messages of another type are not
// for this endpoint; undecodable ones are counted as rejected.
func (e *Endpoint) handle(header nats.Header, data []byte) {
	if typ := header.Get(HeaderType); typ != "" && typ != e.TypeTag() {
		e.logger.Debug("Ignoring message of another type", "type", typ)
		return
	}

	info := transport.SampleInfo{
		InstanceState:     transport.ParseInstanceState(header.Get(HeaderInstanceState)),
		InstanceKey:       header.Get(HeaderInstance),
		PublicationHandle: header.Get(HeaderWriter),
	}
	if ts := header.Get(HeaderSourceTime); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			info.SourceTimestamp = t
		}
	}
	if seq := header.Get(HeaderSeq); seq != "" {
		if n, err := strconv.ParseUint(seq, 10, 64); err == nil {
			info.SequenceNumber = n
		}
	}

	sample := transport.Sample{Info: info}
	if info.InstanceState == transport.InstanceAlive {
		v, err := e.bus.registry.Decode(e.TypeTag(), header.Get(HeaderContentType), data)
		if err != nil {
			e.logger.Warn("Rejected sample", "error", err)
			e.Reject()
			return
		}
		sample.Payload = v
		sample.Info.ValidData = true
		if sample.Info.InstanceKey == "" {
			if k, ok := v.(payload.Keyed); ok {
				sample.Info.InstanceKey = k.InstanceKey()
			}
		}
	}

	if err := e.Deliver(sample); err != nil {
		e.logger.Debug("Sample after shutdown dropped", "error", err)
	}
}
