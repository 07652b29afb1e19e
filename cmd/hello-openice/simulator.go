package main

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/khtad/hello-openice/payload"
)

const plethFrequencyHz = 50

// publisher is the write side of the in-memory bus
type publisher interface {
	Publish(topic, typeTag, instanceKey string, v any) (int, error)
}

// simulator emulates a pulse oximeter: SpO2 and pulse rate numerics plus a
// pleth waveform, one batch per interval.
type simulator struct {
	udi      string
	interval time.Duration
	rng      *rand.Rand
	logger   *slog.Logger

	spo2  float64
	pulse float64
	phase float64
}

func newSimulator(interval time.Duration, seed uint64, logger *slog.Logger) *simulator {
	return &simulator{
		udi:      "sim-" + uuid.NewString()[:8],
		interval: interval,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		logger:   logger,
		spo2:     97,
		pulse:    72,
	}
}

// Run publishes until ctx is done
func (s *simulator) Run(ctx context.Context, pub publisher) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Simulator started", "udi", s.udi, "interval", s.interval)
	for {
		if err := s.step(pub, time.Now()); err != nil {
			s.logger.Warn("Simulator publish failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("Simulator stopped", "udi", s.udi)
			return
		case <-ticker.C:
		}
	}
}

// step publishes one reading of each metric.
func (s *simulator) step(pub publisher, now time.Time) error {
	s.spo2 = clamp(s.spo2+s.rng.NormFloat64()*0.3, 90, 100)
	s.pulse = clamp(s.pulse+s.rng.NormFloat64()*1.5, 50, 120)

	for _, n := range []*payload.Numeric{
		s.numeric(payload.MetricSpO2, "MDC_DIM_PERCENT", math.Round(s.spo2), now),
		s.numeric(payload.MetricPulseRate, "MDC_DIM_BEAT_PER_MIN", math.Round(s.pulse), now),
	} {
		if _, err := pub.Publish(payload.NumericTopic, payload.NumericType, n.InstanceKey(), n); err != nil {
			return err
		}
	}

	pleth := s.pleth(now)
	_, err := pub.Publish(payload.SampleArrayTopic, payload.SampleArrayType, pleth.InstanceKey(), pleth)
	return err
}

func (s *simulator) numeric(metricID, unit string, value float64, now time.Time) *payload.Numeric {
	return &payload.Numeric{
		UniqueDeviceIdentifier: s.udi,
		MetricID:               metricID,
		UnitID:                 unit,
		Value:                  float32(value),
		DeviceTime:             now,
		PresentationTime:       now,
	}
}

// pleth synthesizes one interval of waveform at the current pulse rate,
// continuing the phase of the previous block.
func (s *simulator) pleth(now time.Time) *payload.SampleArray {
	n := max(1, int(s.interval.Seconds()*plethFrequencyHz))
	step := 2 * math.Pi * (s.pulse / 60) / plethFrequencyHz

	values := make([]float32, n)
	for i := range values {
		beat := math.Sin(s.phase) + 0.25*math.Sin(2*s.phase+0.5)
		values[i] = float32(50 + 40*beat + s.rng.NormFloat64()*0.5)
		s.phase = math.Mod(s.phase+step, 2*math.Pi)
	}

	return &payload.SampleArray{
		UniqueDeviceIdentifier: s.udi,
		MetricID:               payload.MetricPleth,
		UnitID:                 "MDC_DIM_DIMLESS",
		FrequencyHz:            plethFrequencyHz,
		Values:                 values,
		DeviceTime:             now,
		PresentationTime:       now,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
