package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khtad/hello-openice/transport"
)

type numeric struct {
	MetricID string
	Value    float32
}

func TestRouter_Handle(t *testing.T) {
	r := NewRouter()
	var got []numeric
	Handle(r, "ice::Numeric", func(_ context.Context, v *numeric, _ transport.SampleInfo) error {
		got = append(got, *v)
		return nil
	})

	err := r.Consume(context.Background(), Record{
		TypeTag: "ice::Numeric",
		Payload: &numeric{MetricID: "MDC_PULS_OXIM_SAT_O2", Value: 98},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, float32(98), got[0].Value)
}

func TestRouter_PayloadTypeMismatch(t *testing.T) {
	r := NewRouter()
	Handle(r, "ice::Numeric", func(context.Context, *numeric, transport.SampleInfo) error {
		t.Fatal("handler must not run")
		return nil
	})

	err := r.Consume(context.Background(), Record{TypeTag: "ice::Numeric", Payload: "text"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPayloadType)
}

func TestRouter_NoRouteAndFallback(t *testing.T) {
	r := NewRouter()

	err := r.Consume(context.Background(), Record{TypeTag: "ice::Unknown"})
	assert.ErrorIs(t, err, ErrNoRoute)

	var fallbackCalls int
	r.Fallback(ConsumerFunc(func(context.Context, Record) error {
		fallbackCalls++
		return nil
	}))
	require.NoError(t, r.Consume(context.Background(), Record{TypeTag: "ice::Unknown"}))
	assert.Equal(t, 1, fallbackCalls)
}
