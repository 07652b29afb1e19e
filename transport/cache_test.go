package transport

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReader(t *testing.T, qos QoSProfile) *Reader {
	t.Helper()
	r := NewReader("Numeric", "ice::Numeric", qos)
	r.StatusCondition().SetEnabledStatuses(StatusMaskAll)
	return r
}

func keepAll() QoSProfile {
	q := DefaultQoS()
	q.History = KeepAll
	return q
}

func alive(key string, v int) Sample {
	return Sample{Payload: v, Info: SampleInfo{ValidData: true, InstanceKey: key}}
}

func TestReader_DrainNoData(t *testing.T) {
	r := newTestReader(t, keepAll())

	batch, err := r.Drain()
	assert.Nil(t, batch)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestReader_DrainTakesPendingAndClearsStatus(t *testing.T) {
	r := newTestReader(t, keepAll())

	require.NoError(t, r.Deliver(alive("a", 1)))
	require.NoError(t, r.Deliver(alive("b", 2)))
	assert.True(t, r.StatusChanges().Has(DataAvailableStatus))

	batch, err := r.Drain()
	require.NoError(t, err)
	require.Equal(t, 2, batch.Len())
	assert.Equal(t, 1, batch.Samples[0].Payload)
	assert.Equal(t, 2, batch.Samples[1].Payload)
	assert.False(t, batch.Samples[0].Info.ReceptionTimestamp.IsZero())
	assert.Equal(t, r.ID(), batch.Owner())
	assert.False(t, r.StatusCondition().TriggerValue(), "drain resets DATA_AVAILABLE")

	require.NoError(t, r.ReturnLoan(batch))
	assert.False(t, batch.Loaned())
	assert.Nil(t, batch.Samples)

	_, err = r.Drain()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestReader_OneOutstandingLoan(t *testing.T) {
	r := newTestReader(t, keepAll())
	require.NoError(t, r.Deliver(alive("a", 1)))

	batch, err := r.Drain()
	require.NoError(t, err)

	require.NoError(t, r.Deliver(alive("a", 2)))
	_, err = r.Drain()
	assert.ErrorIs(t, err, ErrLoanOutstanding)

	require.NoError(t, r.ReturnLoan(batch))
	assert.ErrorIs(t, r.ReturnLoan(batch), ErrLoanMismatch, "double return is rejected")

	next, err := r.Drain()
	require.NoError(t, err)
	assert.Equal(t, 1, next.Len())
	require.NoError(t, r.ReturnLoan(next))
}

func TestReader_ReturnForeignBatch(t *testing.T) {
	a := newTestReader(t, keepAll())
	b := newTestReader(t, keepAll())
	require.NoError(t, a.Deliver(alive("x", 1)))

	batch, err := a.Drain()
	require.NoError(t, err)

	assert.ErrorIs(t, b.ReturnLoan(batch), ErrLoanMismatch)
	assert.ErrorIs(t, b.ReturnLoan(nil), ErrLoanMismatch)
	require.NoError(t, a.ReturnLoan(batch))
}

func TestReader_KeepLastPerInstance(t *testing.T) {
	qos := DefaultQoS()
	qos.Depth = 2
	r := newTestReader(t, qos)

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Deliver(alive("a", i)))
	}
	require.NoError(t, r.Deliver(alive("b", 100)))

	batch, err := r.Drain()
	require.NoError(t, err)
	defer func() { require.NoError(t, r.ReturnLoan(batch)) }()

	var got []any
	for _, s := range batch.Samples {
		got = append(got, s.Payload)
	}
	assert.Equal(t, []any{3, 4, 100}, got)
	assert.Zero(t, r.Stats().Lost, "history replacement is not loss")
}

func TestReader_MaxSamplesRaisesSampleLost(t *testing.T) {
	qos := keepAll()
	qos.MaxSamples = 3
	r := newTestReader(t, qos)

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Deliver(alive(fmt.Sprintf("i%d", i), i)))
	}

	assert.True(t, r.StatusChanges().Has(SampleLostStatus))
	stats := r.Stats()
	assert.Equal(t, uint64(2), stats.Lost)
	assert.Equal(t, 3, stats.Pending)

	batch, err := r.Drain()
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Samples[0].Payload)
	assert.False(t, r.StatusChanges().Has(SampleLostStatus))
	require.NoError(t, r.ReturnLoan(batch))
}

func TestReader_Reject(t *testing.T) {
	r := newTestReader(t, keepAll())
	r.Reject()

	assert.True(t, r.StatusChanges().Has(SampleRejectedStatus))
	assert.False(t, r.StatusChanges().Has(DataAvailableStatus))
	assert.Equal(t, uint64(1), r.Stats().Rejected)
}

func TestReader_ShutdownKeepsLoanReturnable(t *testing.T) {
	r := newTestReader(t, keepAll())
	require.NoError(t, r.Deliver(alive("a", 1)))
	batch, err := r.Drain()
	require.NoError(t, err)

	r.Shutdown(ErrTransportClosed)

	assert.ErrorIs(t, r.Deliver(alive("a", 2)), ErrTransportClosed)
	_, err = r.Drain()
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.ErrorIs(t, r.StatusCondition().Err(), ErrTransportClosed)
	assert.NoError(t, r.ReturnLoan(batch))
}

func TestReader_StorageRecycled(t *testing.T) {
	r := newTestReader(t, keepAll())
	for round := 0; round < 3; round++ {
		for i := 0; i < 4; i++ {
			require.NoError(t, r.Deliver(alive("a", i)))
		}
		batch, err := r.Drain()
		require.NoError(t, err)
		assert.Equal(t, 4, batch.Len())
		require.NoError(t, r.ReturnLoan(batch))
	}
	assert.False(t, r.Stats().Loaned)
}

func TestQoSProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*QoSProfile)
		wantErr bool
	}{
		{"default", func(*QoSProfile) {}, false},
		{"reliable transient local", func(q *QoSProfile) {
			q.Reliability = Reliable
			q.Durability = TransientLocal
		}, false},
		{"bad reliability", func(q *QoSProfile) { q.Reliability = "sometimes" }, true},
		{"bad durability", func(q *QoSProfile) { q.Durability = "forever" }, true},
		{"bad history", func(q *QoSProfile) { q.History = "most" }, true},
		{"negative depth", func(q *QoSProfile) { q.Depth = -1 }, true},
		{"depth over max", func(q *QoSProfile) {
			q.Depth = 10
			q.MaxSamples = 5
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := DefaultQoS()
			tt.mutate(&q)
			err := q.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQoSProfile_HistoryDepth(t *testing.T) {
	q := DefaultQoS()
	assert.Equal(t, 1, q.HistoryDepth())
	q.Depth = 0
	assert.Equal(t, 1, q.HistoryDepth())
	q.History = KeepAll
	assert.Equal(t, 0, q.HistoryDepth())
	assert.Equal(t, "default::default", q.QualifiedName())
}
