package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khtad/hello-openice/errors"
	"github.com/khtad/hello-openice/transport"
)

func keepAll() transport.QoSProfile {
	q := transport.DefaultQoS()
	q.History = transport.KeepAll
	return q
}

func TestBus_PublishReachesMatchingEndpoints(t *testing.T) {
	ctx := context.Background()
	bus := New(0)
	t.Cleanup(func() { _ = bus.Close(ctx) })

	numeric, err := bus.CreateEndpoint(ctx, "Numeric", "ice::Numeric", keepAll())
	require.NoError(t, err)
	waveform, err := bus.CreateEndpoint(ctx, "SampleArray", "ice::SampleArray", keepAll())
	require.NoError(t, err)

	n, err := bus.Publish("Numeric", "ice::Numeric", "spo2", 98)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.False(t, numeric.StatusCondition().TriggerValue(), "nothing enabled yet")

	batch, err := numeric.Drain()
	require.NoError(t, err)
	require.Equal(t, 1, batch.Len())
	s := batch.Samples[0]
	assert.Equal(t, 98, s.Payload)
	assert.True(t, s.Info.ValidData)
	assert.Equal(t, "spo2", s.Info.InstanceKey)
	assert.NotEmpty(t, s.Info.PublicationHandle)
	assert.Equal(t, uint64(1), s.Info.SequenceNumber)
	assert.False(t, s.Info.SourceTimestamp.IsZero())
	require.NoError(t, numeric.ReturnLoan(batch))

	_, err = waveform.Drain()
	assert.ErrorIs(t, err, transport.ErrNoData)
}

func TestBus_TypeMismatchNotDelivered(t *testing.T) {
	ctx := context.Background()
	bus := New(0)

	_, err := bus.CreateEndpoint(ctx, "Numeric", "ice::Numeric", keepAll())
	require.NoError(t, err)

	n, err := bus.Publish("Numeric", "other::Numeric", "k", 1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBus_DisposeIsInvalidData(t *testing.T) {
	ctx := context.Background()
	bus := New(0)
	ep, err := bus.CreateEndpoint(ctx, "Numeric", "ice::Numeric", keepAll())
	require.NoError(t, err)

	_, err = bus.Dispose("Numeric", "ice::Numeric", "spo2")
	require.NoError(t, err)
	_, err = bus.Unregister("Numeric", "ice::Numeric", "pr")
	require.NoError(t, err)

	batch, err := ep.Drain()
	require.NoError(t, err)
	require.Equal(t, 2, batch.Len())
	assert.False(t, batch.Samples[0].Info.ValidData)
	assert.Equal(t, transport.InstanceDisposed, batch.Samples[0].Info.InstanceState)
	assert.Nil(t, batch.Samples[0].Payload)
	assert.Equal(t, transport.InstanceNoWriters, batch.Samples[1].Info.InstanceState)
	require.NoError(t, ep.ReturnLoan(batch))
}

func TestBus_TransientLocalReplaysHistory(t *testing.T) {
	ctx := context.Background()
	bus := New(3)

	_, err := bus.Publish("Numeric", "ice::Numeric", "spo2", 96)
	require.NoError(t, err)
	_, err = bus.Publish("Numeric", "ice::Numeric", "spo2", 97)
	require.NoError(t, err)
	_, err = bus.Publish("Numeric", "ice::Numeric", "pr", 61)
	require.NoError(t, err)
	_, err = bus.Dispose("Numeric", "ice::Numeric", "pr")
	require.NoError(t, err)

	qos := transport.DefaultQoS()
	qos.Durability = transport.TransientLocal
	late, err := bus.CreateEndpoint(ctx, "Numeric", "ice::Numeric", qos)
	require.NoError(t, err)

	volatile, err := bus.CreateEndpoint(ctx, "Numeric", "ice::Numeric", transport.DefaultQoS())
	require.NoError(t, err)

	batch, err := late.Drain()
	require.NoError(t, err)
	require.Equal(t, 1, batch.Len())
	assert.Equal(t, 97, batch.Samples[0].Payload)
	require.NoError(t, late.ReturnLoan(batch))

	_, err = volatile.Drain()
	assert.ErrorIs(t, err, transport.ErrNoData)
}

func TestBus_CloseFailsEndpoints(t *testing.T) {
	ctx := context.Background()
	bus := New(0)
	ep, err := bus.CreateEndpoint(ctx, "Numeric", "ice::Numeric", keepAll())
	require.NoError(t, err)

	require.NoError(t, bus.Close(ctx))

	assert.ErrorIs(t, ep.StatusCondition().Err(), transport.ErrTransportClosed)
	_, err = ep.Drain()
	assert.ErrorIs(t, err, transport.ErrTransportClosed)

	_, err = bus.CreateEndpoint(ctx, "Numeric", "ice::Numeric", keepAll())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))

	_, err = bus.Publish("Numeric", "ice::Numeric", "k", 1)
	assert.Error(t, err)
}

func TestBus_FailUsesCause(t *testing.T) {
	ctx := context.Background()
	bus := New(0)
	ep, err := bus.CreateEndpoint(ctx, "Numeric", "ice::Numeric", keepAll())
	require.NoError(t, err)

	bus.Fail(errors.ErrConnectionLost)
	assert.ErrorIs(t, ep.StatusCondition().Err(), errors.ErrConnectionLost)
}

func TestEndpoint_CloseDetaches(t *testing.T) {
	ctx := context.Background()
	bus := New(0)
	ep, err := bus.CreateEndpoint(ctx, "Numeric", "ice::Numeric", keepAll())
	require.NoError(t, err)

	require.NoError(t, ep.Close())
	require.NoError(t, ep.Close())

	n, err := bus.Publish("Numeric", "ice::Numeric", "k", 1)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.ErrorIs(t, ep.StatusCondition().Err(), transport.ErrEndpointClosed)
}

func TestBus_RejectRaisesStatus(t *testing.T) {
	ctx := context.Background()
	bus := New(0)
	ep, err := bus.CreateEndpoint(ctx, "Numeric", "ice::Numeric", keepAll())
	require.NoError(t, err)
	ep.StatusCondition().SetEnabledStatuses(transport.SampleRejectedStatus)

	bus.Reject("Numeric")

	assert.True(t, ep.StatusCondition().TriggerValue())
	assert.Equal(t, transport.SampleRejectedStatus, ep.StatusChanges())
}

func TestBus_CreateEndpointValidates(t *testing.T) {
	ctx := context.Background()
	bus := New(0)

	_, err := bus.CreateEndpoint(ctx, "", "ice::Numeric", keepAll())
	assert.True(t, errors.IsInvalid(err))

	bad := transport.DefaultQoS()
	bad.Depth = 5
	bad.MaxSamples = 2
	_, err = bus.CreateEndpoint(ctx, "Numeric", "ice::Numeric", bad)
	assert.True(t, errors.IsInvalid(err))
}
