package natsbus

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/khtad/hello-openice/errors"
	"github.com/khtad/hello-openice/payload"
	"github.com/khtad/hello-openice/transport"
)

// WriterOption configures a Writer
type WriterOption func(*Writer)

// WithContentType selects the payload encoding. JSON by default.
func WithContentType(contentType string) WriterOption {
	return func(w *Writer) {
		w.contentType = contentType
	}
}

// Writer publishes samples of one topic and type on a Bus.
type Writer struct {
	bus         *Bus
	topic       string
	typeTag     string
	qos         transport.QoSProfile
	contentType string
	guid        string
	seq         atomic.Uint64
}

// NewWriter creates a writer. Transient-local writers make sure the domain
// stream exists so late-joining readers find the last sample of each instance.
func (b *Bus) NewWriter(ctx context.Context, topic, typeTag string, qos transport.QoSProfile, opts ...WriterOption) (*Writer, error) {
	if topic == "" || !b.registry.Known(typeTag) {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Bus", "NewWriter",
			fmt.Sprintf("topic %q type %q", topic, typeTag))
	}
	if err := qos.Validate(); err != nil {
		return nil, err
	}
	if err := b.usable("NewWriter"); err != nil {
		return nil, err
	}

	w := &Writer{
		bus:         b,
		topic:       topic,
		typeTag:     typeTag,
		qos:         qos,
		contentType: payload.ContentTypeJSON,
		guid:        uuid.NewString(),
	}
	for _, opt := range opts {
		opt(w)
	}

	if qos.Durability == transport.TransientLocal {
		if err := b.ensureStream(ctx, qos.HistoryDepth()); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// GUID identifies the writer; readers see it as the publication handle.
func (w *Writer) GUID() string { return w.guid }

// Write publishes v. The instance key comes from the payload.
func (w *Writer) Write(ctx context.Context, v any) error {
	keyed, ok := v.(payload.Keyed)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%T has no instance key", v), "Writer", "Write", "derive instance key")
	}
	data, err := w.bus.registry.Encode(w.contentType, v)
	if err != nil {
		return err
	}
	return w.publish(ctx, w.message(transport.InstanceAlive, keyed.InstanceKey(), data))
}

// Dispose announces that the instance no longer exists
func (w *Writer) Dispose(ctx context.Context, instanceKey string) error {
	return w.publish(ctx, w.message(transport.InstanceDisposed, instanceKey, nil))
}

// Unregister announces that this writer stops updating the instance
func (w *Writer) Unregister(ctx context.Context, instanceKey string) error {
	return w.publish(ctx, w.message(transport.InstanceNoWriters, instanceKey, nil))
}

func (w *Writer) message(state transport.InstanceState, instanceKey string, data []byte) *nats.Msg {
	msg := nats.NewMsg(Subject(w.bus.domain, w.topic, instanceKey))
	msg.Header.Set(HeaderType, w.typeTag)
	msg.Header.Set(HeaderInstance, instanceKey)
	msg.Header.Set(HeaderInstanceState, state.String())
	msg.Header.Set(HeaderSourceTime, time.Now().UTC().Format(time.RFC3339Nano))
	msg.Header.Set(HeaderWriter, w.guid)
	msg.Header.Set(HeaderSeq, strconv.FormatUint(w.seq.Add(1), 10))
	if data != nil {
		msg.Header.Set(HeaderContentType, w.contentType)
		msg.Data = data
	}
	return msg
}

func (w *Writer) publish(ctx context.Context, msg *nats.Msg) error {
	if err := w.bus.usable("Write"); err != nil {
		return err
	}

	if w.qos.Durability == transport.TransientLocal {
		return w.bus.conn.PublishToStream(ctx, msg)
	}
	if err := w.bus.conn.PublishMsg(ctx, msg); err != nil {
		return err
	}
	if w.qos.Reliability == transport.Reliable {
		return w.bus.conn.Flush(ctx)
	}
	return nil
}
