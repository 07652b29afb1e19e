package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/khtad/hello-openice/errors"
	"github.com/khtad/hello-openice/transport"
	"github.com/khtad/hello-openice/waitset"
)

// Loop registration errors
var (
	ErrDuplicateEndpoint = stderrors.New("endpoint already added")
	ErrUnknownEndpoint   = stderrors.New("endpoint not added")
	ErrAlreadyRunning    = stderrors.New("loop already running")
)

// Loop waits on the readiness of its endpoints and hands every valid sample to
// a single consumer, one batch at a time.
type Loop struct {
	ws         *waitset.WaitSet
	consumer   Consumer
	sink       ErrorSink
	onInstance InstanceHandler
	interval   time.Duration
	logger     *slog.Logger
	metrics    *Metrics

	mu        sync.RWMutex
	endpoints map[transport.EndpointID]transport.Endpoint

	running atomic.Bool
}

// New creates a loop delivering to consumer
func New(consumer Consumer, opts ...Option) (*Loop, error) {
	if consumer == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Loop", "New", "consumer is nil")
	}

	l := &Loop{
		ws:        waitset.New(),
		consumer:  consumer,
		interval:  DefaultWaitInterval,
		logger:    slog.Default(),
		endpoints: make(map[transport.EndpointID]transport.Endpoint),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "dispatch")
	if l.sink == nil {
		l.sink = func(err error) {
			l.logger.Error("Consumer fault", "error", err)
		}
	}
	return l, nil
}

// Add enables DATA_AVAILABLE on the endpoint's condition and attaches it.
func (l *Loop) Add(ep transport.Endpoint) error {
	l.mu.Lock()
	if _, ok := l.endpoints[ep.ID()]; ok {
		l.mu.Unlock()
		return errors.WrapInvalid(ErrDuplicateEndpoint, "Loop", "Add", fmt.Sprintf("add %s", ep.Topic()))
	}
	l.endpoints[ep.ID()] = ep
	l.mu.Unlock()

	cond := ep.StatusCondition()
	cond.SetEnabledStatuses(transport.DataAvailableStatus)
	l.ws.Attach(cond)

	l.logger.Debug("Endpoint added",
		"endpoint", ep.ID(), "topic", ep.Topic(), "type", ep.TypeTag())
	return nil
}

// Remove detaches an endpoint. It does not close it.
func (l *Loop) Remove(ep transport.Endpoint) error {
	l.mu.Lock()
	if _, ok := l.endpoints[ep.ID()]; !ok {
		l.mu.Unlock()
		return errors.WrapInvalid(ErrUnknownEndpoint, "Loop", "Remove", fmt.Sprintf("remove %s", ep.Topic()))
	}
	delete(l.endpoints, ep.ID())
	l.mu.Unlock()

	return l.ws.Detach(ep.StatusCondition())
}

// Len returns the number of endpoints
func (l *Loop) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.endpoints)
}

// Run dispatches until ctx is cancelled, which returns nil, or a transport
// fault, which is returned. Consumer faults never stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(ErrAlreadyRunning, "Loop", "Run", "start loop")
	}
	defer l.running.Store(false)

	l.logger.Info("Dispatch loop started", "endpoints", l.Len(), "wait_interval", l.interval)

	for {
		if ctx.Err() != nil {
			l.logger.Info("Dispatch loop stopped")
			return nil
		}
		if err := l.RunOnce(ctx); err != nil {
			if ctx.Err() != nil && isContextErr(err) {
				l.logger.Info("Dispatch loop stopped")
				return nil
			}
			l.logger.Error("Dispatch loop failed", "error", err)
			return err
		}
	}
}

// RunOnce performs one wait and drains every endpoint that woke it. A timeout
// is not an error.
func (l *Loop) RunOnce(ctx context.Context) error {
	conds, err := l.ws.Wait(ctx, l.interval)
	switch {
	case stderrors.Is(err, waitset.ErrTimeout):
		l.metrics.wait("timeout")
		return nil
	case err != nil:
		return err
	}
	l.metrics.wait("triggered")

	for _, cond := range conds {
		ep := l.resolve(cond)
		if ep == nil {
			continue
		}
		changes := ep.StatusChanges()
		if !changes.Has(transport.DataAvailableStatus) {
			// Clear what woke us so the next Wait blocks.
			ep.StatusCondition().Clear(changes)
			l.metrics.spurious(ep.Topic())
			continue
		}
		if err := l.drain(ctx, ep); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) resolve(cond transport.Condition) transport.Endpoint {
	owner, ok := l.ws.Owner(cond.ID())
	if !ok {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.endpoints[owner]
}

// drain takes the pending batch from ep, delivers it and returns the loan on
// every path out.
func (l *Loop) drain(ctx context.Context, ep transport.Endpoint) (err error) {
	topic := ep.Topic()

	batch, err := ep.Drain()
	if errors.IsNoData(err) {
		l.metrics.drain(topic, "no_data")
		return nil
	}
	if err != nil {
		l.metrics.drain(topic, "error")
		return errors.WrapTransportFault(err, "Loop", "drain", fmt.Sprintf("drain %s", topic))
	}
	l.metrics.drain(topic, "data")

	start := time.Now()
	l.metrics.loanAcquired(topic)
	defer func() {
		rerr := ep.ReturnLoan(batch)
		l.metrics.loanReturned(topic, start)
		if rerr != nil {
			err = errors.WrapTransportFault(rerr, "Loop", "drain", fmt.Sprintf("return loan %s", topic))
		}
	}()

	for i, s := range batch.Samples {
		if !s.Info.ValidData {
			l.metrics.record(topic, false)
			l.instanceEvent(ctx, ep, s.Info)
			continue
		}
		l.metrics.record(topic, true)

		if ferr := l.deliver(ctx, ep, i, s); ferr != nil {
			l.metrics.fault(topic)
			l.sink(ferr)
			l.logger.Debug("Abandoning rest of batch",
				"topic", topic, "index", i, "batch", batch.Len())
			return nil
		}
	}
	return nil
}

func (l *Loop) deliver(ctx context.Context, ep transport.Endpoint, index int, s transport.Sample) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = &errors.ConsumerFault{
				Topic:   ep.Topic(),
				TypeTag: ep.TypeTag(),
				Index:   index,
				Err:     err,
			}
		}
	}()

	return l.consumer.Consume(ctx, Record{
		Endpoint: ep.ID(),
		Topic:    ep.Topic(),
		TypeTag:  ep.TypeTag(),
		Payload:  s.Payload,
		Info:     s.Info,
	})
}

func (l *Loop) instanceEvent(ctx context.Context, ep transport.Endpoint, info transport.SampleInfo) {
	if l.onInstance == nil {
		l.logger.Debug("Dropping sample without valid data",
			"topic", ep.Topic(), "instance", info.InstanceKey, "state", info.InstanceState.String())
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.sink(&errors.ConsumerFault{
				Topic:   ep.Topic(),
				TypeTag: ep.TypeTag(),
				Index:   -1,
				Err:     fmt.Errorf("instance handler panic: %v", r),
			})
		}
	}()
	l.onInstance(ctx, InstanceEvent{
		Endpoint: ep.ID(),
		Topic:    ep.Topic(),
		TypeTag:  ep.TypeTag(),
		Info:     info,
	})
}

func isContextErr(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}
