package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/khtad/hello-openice/dispatch"
	"github.com/khtad/hello-openice/payload"
	"github.com/khtad/hello-openice/transport"
)

// printer writes one line per delivered sample.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) printf(format string, args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.w, format, args...)
	return err
}

func (p *printer) numeric(_ context.Context, n *payload.Numeric, info transport.SampleInfo) error {
	return p.printf("%-10s %8.2f %-12s udi=%s instance=%d seq=%d source=%s\n",
		payload.MetricLabel(n.MetricID), n.Value, n.UnitID,
		n.UniqueDeviceIdentifier, n.InstanceID, info.SequenceNumber, stamp(info.SourceTimestamp))
}

func (p *printer) sampleArray(_ context.Context, s *payload.SampleArray, info transport.SampleInfo) error {
	lo, hi := bounds(s.Values)
	return p.printf("%-10s %4d samples @ %dHz range=[%.2f, %.2f] udi=%s instance=%d seq=%d source=%s\n",
		payload.MetricLabel(s.MetricID), len(s.Values), s.FrequencyHz, lo, hi,
		s.UniqueDeviceIdentifier, s.InstanceID, info.SequenceNumber, stamp(info.SourceTimestamp))
}

func (p *printer) other(_ context.Context, rec dispatch.Record) error {
	return p.printf("%-10s %v\n", rec.TypeTag, rec.Payload)
}

// newRouter routes the ICE types to the printer and anything else to a
// generic line.
func newRouter(w io.Writer) *dispatch.Router {
	p := &printer{w: w}
	r := dispatch.NewRouter()
	dispatch.Handle(r, payload.NumericType, p.numeric)
	dispatch.Handle(r, payload.SampleArrayType, p.sampleArray)
	r.Fallback(dispatch.ConsumerFunc(p.other))
	return r
}

// instanceLogger reports disposals and lost writers.
func instanceLogger(logger *slog.Logger) dispatch.InstanceHandler {
	return func(_ context.Context, ev dispatch.InstanceEvent) {
		logger.Info("Instance state changed",
			"topic", ev.Topic,
			"type", ev.TypeTag,
			"instance", ev.Info.InstanceKey,
			"state", ev.Info.InstanceState.String())
	}
}

func bounds(values []float32) (lo, hi float32) {
	for i, v := range values {
		if i == 0 || v < lo {
			lo = v
		}
		if i == 0 || v > hi {
			hi = v
		}
	}
	return lo, hi
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339Nano)
}
