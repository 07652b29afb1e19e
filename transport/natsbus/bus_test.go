package natsbus

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khtad/hello-openice/errors"
	"github.com/khtad/hello-openice/payload"
	"github.com/khtad/hello-openice/transport"
)

// fakeConn loops core publishes back to matching subscriptions.
type fakeConn struct {
	mu        sync.Mutex
	handlers  map[string]nats.MsgHandler
	published []*nats.Msg
	streams   []jetstream.StreamConfig
	consumers []jetstream.OrderedConsumerConfig
	flushes   int

	subscribeErr error
	consumeErr   error
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[string]nats.MsgHandler)}
}

func (f *fakeConn) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[subject] = handler
	return nil, f.subscribeErr
}

func (f *fakeConn) PublishMsg(_ context.Context, msg *nats.Msg) error {
	f.mu.Lock()
	f.published = append(f.published, msg)
	var targets []nats.MsgHandler
	for filter, h := range f.handlers {
		if strings.HasPrefix(msg.Subject, strings.TrimSuffix(filter, ">")) {
			targets = append(targets, h)
		}
	}
	f.mu.Unlock()

	for _, h := range targets {
		h(msg)
	}
	return nil
}

func (f *fakeConn) PublishToStream(ctx context.Context, msg *nats.Msg) error {
	return f.PublishMsg(ctx, msg)
}

func (f *fakeConn) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func (f *fakeConn) EnsureStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams = append(f.streams, cfg)
	return nil, nil
}

func (f *fakeConn) OrderedConsume(_ context.Context, _ string, cfg jetstream.OrderedConsumerConfig,
	_ jetstream.MessageHandler) (jetstream.ConsumeContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumers = append(f.consumers, cfg)
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	return &fakeConsumeContext{closed: make(chan struct{})}, nil
}

type fakeConsumeContext struct {
	once   sync.Once
	closed chan struct{}
}

func (c *fakeConsumeContext) Stop()                   { c.once.Do(func() { close(c.closed) }) }
func (c *fakeConsumeContext) Drain()                  { c.Stop() }
func (c *fakeConsumeContext) Closed() <-chan struct{} { return c.closed }

func newTestBus(t *testing.T) (*Bus, *fakeConn) {
	t.Helper()
	registry, err := payload.NewICERegistry()
	require.NoError(t, err)
	conn := newFakeConn()
	bus, err := New(conn, 0, registry)
	require.NoError(t, err)
	return bus, conn
}

func spo2(v float32) *payload.Numeric {
	return &payload.Numeric{
		UniqueDeviceIdentifier: "pulseox-1",
		MetricID:               payload.MetricSpO2,
		Value:                  v,
	}
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "ice.0.Numeric.dev/MDC_X/0", Subject(0, "Numeric", "dev/MDC_X/0"))
	assert.Equal(t, "ice.7.Numeric.a_b_c_d", Subject(7, "Numeric", "a.b*c>d"))
	assert.Equal(t, "ice.0.Numeric._", Subject(0, "Numeric", ""))
	assert.Equal(t, "ice.3.SampleArray.>", TopicFilter(3, "SampleArray"))
	assert.Equal(t, "ice.3.>", DomainFilter(3))
	assert.Equal(t, "ICE_3", StreamName(3))
}

func TestNew_Validation(t *testing.T) {
	registry := payload.NewRegistry()
	_, err := New(nil, 0, registry)
	assert.True(t, errors.IsInvalid(err))

	_, err = New(newFakeConn(), -1, registry)
	assert.True(t, errors.IsInvalid(err))
}

func TestBus_WriteReachesEndpoint(t *testing.T) {
	ctx := context.Background()
	bus, conn := newTestBus(t)

	ep, err := bus.CreateEndpoint(ctx, payload.NumericTopic, payload.NumericType, transport.DefaultQoS())
	require.NoError(t, err)
	assert.Contains(t, conn.handlers, "ice.0.Numeric.>")

	w, err := bus.NewWriter(ctx, payload.NumericTopic, payload.NumericType, transport.DefaultQoS())
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, spo2(97)))

	batch, err := ep.Drain()
	require.NoError(t, err)
	require.Equal(t, 1, batch.Len())

	s := batch.Samples[0]
	assert.True(t, s.Info.ValidData)
	assert.Equal(t, "pulseox-1/MDC_PULS_OXIM_SAT_O2/0", s.Info.InstanceKey)
	assert.Equal(t, w.GUID(), s.Info.PublicationHandle)
	assert.Equal(t, uint64(1), s.Info.SequenceNumber)
	assert.False(t, s.Info.SourceTimestamp.IsZero())

	n, ok := s.Payload.(*payload.Numeric)
	require.True(t, ok)
	assert.Equal(t, float32(97), n.Value)
	require.NoError(t, ep.ReturnLoan(batch))

	require.Len(t, conn.published, 1)
	assert.Equal(t, "ice.0.Numeric.pulseox-1/MDC_PULS_OXIM_SAT_O2/0", conn.published[0].Subject)
	assert.Equal(t, 0, conn.flushes, "best effort does not flush")
}

func TestBus_CBORAndReliableFlush(t *testing.T) {
	ctx := context.Background()
	bus, conn := newTestBus(t)

	qos := transport.DefaultQoS()
	qos.Reliability = transport.Reliable

	ep, err := bus.CreateEndpoint(ctx, payload.NumericTopic, payload.NumericType, qos)
	require.NoError(t, err)
	w, err := bus.NewWriter(ctx, payload.NumericTopic, payload.NumericType, qos,
		WithContentType(payload.ContentTypeCBOR))
	require.NoError(t, err)

	require.NoError(t, w.Write(ctx, spo2(95)))
	assert.Equal(t, 1, conn.flushes)
	assert.Equal(t, payload.ContentTypeCBOR, conn.published[0].Header.Get(HeaderContentType))

	batch, err := ep.Drain()
	require.NoError(t, err)
	assert.Equal(t, float32(95), batch.Samples[0].Payload.(*payload.Numeric).Value)
	require.NoError(t, ep.ReturnLoan(batch))
}

func TestBus_DisposeAndUnregister(t *testing.T) {
	ctx := context.Background()
	bus, _ := newTestBus(t)

	ep, err := bus.CreateEndpoint(ctx, payload.NumericTopic, payload.NumericType, transport.DefaultQoS())
	require.NoError(t, err)
	w, err := bus.NewWriter(ctx, payload.NumericTopic, payload.NumericType, transport.DefaultQoS())
	require.NoError(t, err)

	require.NoError(t, w.Dispose(ctx, "a"))
	require.NoError(t, w.Unregister(ctx, "b"))

	batch, err := ep.Drain()
	require.NoError(t, err)
	require.Equal(t, 2, batch.Len())
	assert.False(t, batch.Samples[0].Info.ValidData)
	assert.Nil(t, batch.Samples[0].Payload)
	assert.Equal(t, transport.InstanceDisposed, batch.Samples[0].Info.InstanceState)
	assert.Equal(t, "a", batch.Samples[0].Info.InstanceKey)
	assert.Equal(t, transport.InstanceNoWriters, batch.Samples[1].Info.InstanceState)
	require.NoError(t, ep.ReturnLoan(batch))
}

func TestBus_WriteNeedsKeyedPayload(t *testing.T) {
	ctx := context.Background()
	bus, _ := newTestBus(t)
	w, err := bus.NewWriter(ctx, payload.NumericTopic, payload.NumericType, transport.DefaultQoS())
	require.NoError(t, err)

	err = w.Write(ctx, map[string]any{"value": 1})
	assert.True(t, errors.IsInvalid(err))
}

func TestEndpoint_RejectsUndecodable(t *testing.T) {
	ctx := context.Background()
	bus, conn := newTestBus(t)

	ep, err := bus.CreateEndpoint(ctx, payload.NumericTopic, payload.NumericType, transport.DefaultQoS())
	require.NoError(t, err)
	ep.StatusCondition().SetEnabledStatuses(transport.StatusMaskAll)

	msg := nats.NewMsg("ice.0.Numeric.x")
	msg.Header.Set(HeaderType, payload.NumericType)
	msg.Data = []byte("{broken")
	require.NoError(t, conn.PublishMsg(ctx, msg))

	r := ep.(*Endpoint)
	assert.Equal(t, uint64(1), r.Stats().Rejected)
	assert.Equal(t, 0, r.Stats().Pending)
	assert.Equal(t, transport.SampleRejectedStatus, ep.StatusChanges())
}

func TestEndpoint_IgnoresOtherType(t *testing.T) {
	ctx := context.Background()
	bus, conn := newTestBus(t)

	ep, err := bus.CreateEndpoint(ctx, payload.NumericTopic, payload.NumericType, transport.DefaultQoS())
	require.NoError(t, err)

	msg := nats.NewMsg("ice.0.Numeric.x")
	msg.Header.Set(HeaderType, "other::Numeric")
	msg.Data = []byte(`{}`)
	require.NoError(t, conn.PublishMsg(ctx, msg))

	stats := ep.(*Endpoint).Stats()
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Rejected)
}

func TestBus_TransientLocalUsesStream(t *testing.T) {
	ctx := context.Background()
	bus, conn := newTestBus(t)

	qos := transport.DefaultQoS()
	qos.Durability = transport.TransientLocal

	_, err := bus.CreateEndpoint(ctx, payload.NumericTopic, payload.NumericType, qos)
	require.NoError(t, err)

	require.Len(t, conn.streams, 1)
	assert.Equal(t, "ICE_0", conn.streams[0].Name)
	assert.Equal(t, []string{"ice.0.>"}, conn.streams[0].Subjects)
	assert.Equal(t, int64(1), conn.streams[0].MaxMsgsPerSubject)
	assert.Equal(t, jetstream.MemoryStorage, conn.streams[0].Storage)

	require.Len(t, conn.consumers, 1)
	assert.Equal(t, []string{"ice.0.Numeric.>"}, conn.consumers[0].FilterSubjects)
	assert.Equal(t, jetstream.DeliverLastPerSubjectPolicy, conn.consumers[0].DeliverPolicy)

	deeper := qos
	deeper.Depth = 5
	_, err = bus.CreateEndpoint(ctx, payload.SampleArrayTopic, payload.SampleArrayType, deeper)
	require.NoError(t, err)
	require.Len(t, conn.streams, 2)
	assert.Equal(t, int64(5), conn.streams[1].MaxMsgsPerSubject)
	require.Len(t, conn.consumers, 2)
	assert.Equal(t, jetstream.DeliverAllPolicy, conn.consumers[1].DeliverPolicy,
		"deeper history replays everything retained")

	all := qos
	all.History = transport.KeepAll
	_, err = bus.CreateEndpoint(ctx, payload.NumericTopic, payload.NumericType, all)
	require.NoError(t, err)
	require.Len(t, conn.consumers, 3)
	assert.Equal(t, jetstream.DeliverAllPolicy, conn.consumers[2].DeliverPolicy)

	shallower := qos
	shallower.Depth = 3
	_, err = bus.NewWriter(ctx, payload.NumericTopic, payload.NumericType, shallower)
	require.NoError(t, err)
	assert.Len(t, conn.streams, 2, "stream already deep enough")
}

func TestBus_CreateEndpointFailureShutsReader(t *testing.T) {
	ctx := context.Background()
	registry, err := payload.NewICERegistry()
	require.NoError(t, err)
	conn := newFakeConn()
	var logs syncBuffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	bus, err := New(conn, 0, registry, WithLogger(logger))
	require.NoError(t, err)

	boom := stderrors.New("subscribe refused")
	conn.subscribeErr = boom
	_, err = bus.CreateEndpoint(ctx, payload.NumericTopic, payload.NumericType, transport.DefaultQoS())
	require.ErrorIs(t, err, boom)
	assert.Empty(t, bus.endpoints)

	// The handler left behind by the failed subscribe feeds a closed reader.
	conn.subscribeErr = nil
	w, err := bus.NewWriter(ctx, payload.NumericTopic, payload.NumericType, transport.DefaultQoS())
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, spo2(95)))
	assert.Contains(t, logs.String(), "Sample after shutdown dropped")

	conn.consumeErr = stderrors.New("consumer refused")
	qos := transport.DefaultQoS()
	qos.Durability = transport.TransientLocal
	_, err = bus.CreateEndpoint(ctx, payload.NumericTopic, payload.NumericType, qos)
	require.ErrorIs(t, err, conn.consumeErr)
	assert.Empty(t, bus.endpoints)
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestBus_FailAndClose(t *testing.T) {
	ctx := context.Background()
	bus, _ := newTestBus(t)

	ep, err := bus.CreateEndpoint(ctx, payload.NumericTopic, payload.NumericType, transport.DefaultQoS())
	require.NoError(t, err)
	w, err := bus.NewWriter(ctx, payload.NumericTopic, payload.NumericType, transport.DefaultQoS())
	require.NoError(t, err)

	lost := stderrors.New("connection closed")
	bus.Fail(lost)

	assert.ErrorIs(t, ep.StatusCondition().Err(), lost)
	_, err = bus.CreateEndpoint(ctx, payload.NumericTopic, payload.NumericType, transport.DefaultQoS())
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, w.Write(ctx, spo2(90)), lost)

	require.NoError(t, bus.Close(ctx))
	assert.ErrorIs(t, ep.StatusCondition().Err(), lost, "first cause wins")
}

func TestBus_UnknownType(t *testing.T) {
	bus, _ := newTestBus(t)
	_, err := bus.CreateEndpoint(context.Background(), "Alarm", "ice::Alarm", transport.DefaultQoS())
	assert.True(t, errors.IsInvalid(err))
}

func TestEndpoint_Close(t *testing.T) {
	ctx := context.Background()
	bus, _ := newTestBus(t)

	ep, err := bus.CreateEndpoint(ctx, payload.NumericTopic, payload.NumericType, transport.DefaultQoS())
	require.NoError(t, err)

	require.NoError(t, ep.Close())
	require.NoError(t, ep.Close())
	assert.ErrorIs(t, ep.StatusCondition().Err(), transport.ErrEndpointClosed)
	assert.Empty(t, bus.endpoints)
}
