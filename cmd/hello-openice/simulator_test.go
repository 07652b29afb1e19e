package main

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khtad/hello-openice/payload"
)

type published struct {
	topic, typeTag, key string
	v                   any
}

type recordingPublisher struct {
	out []published
	err error
}

func (p *recordingPublisher) Publish(topic, typeTag, key string, v any) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	p.out = append(p.out, published{topic, typeTag, key, v})
	return 1, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSimulator_Step(t *testing.T) {
	sim := newSimulator(time.Second, 1, discardLogger())
	pub := &recordingPublisher{}

	for i := 0; i < 20; i++ {
		require.NoError(t, sim.step(pub, time.Now()))
	}
	require.Len(t, pub.out, 60)

	for _, p := range pub.out {
		switch v := p.v.(type) {
		case *payload.Numeric:
			assert.Equal(t, payload.NumericTopic, p.topic)
			assert.Equal(t, payload.NumericType, p.typeTag)
			assert.Equal(t, v.InstanceKey(), p.key)
			require.NoError(t, v.Validate())
			switch v.MetricID {
			case payload.MetricSpO2:
				assert.InDelta(t, 95, v.Value, 5)
			case payload.MetricPulseRate:
				assert.InDelta(t, 85, v.Value, 35)
			default:
				t.Fatalf("unexpected metric %s", v.MetricID)
			}
		case *payload.SampleArray:
			assert.Equal(t, payload.SampleArrayTopic, p.topic)
			assert.Equal(t, payload.MetricPleth, v.MetricID)
			assert.Len(t, v.Values, plethFrequencyHz)
			require.NoError(t, v.Validate())
			lo, hi := bounds(v.Values)
			assert.Greater(t, hi-lo, float32(10), "waveform should oscillate")
		default:
			t.Fatalf("unexpected payload %T", p.v)
		}
	}
}

func TestSimulator_ShortIntervalStillEmitsSamples(t *testing.T) {
	sim := newSimulator(time.Millisecond, 2, discardLogger())
	assert.Len(t, sim.pleth(time.Now()).Values, 1)
}

func TestSimulator_StepStopsOnError(t *testing.T) {
	sim := newSimulator(time.Second, 3, discardLogger())
	boom := errors.New("closed")
	assert.ErrorIs(t, sim.step(&recordingPublisher{err: boom}, time.Now()), boom)
}
