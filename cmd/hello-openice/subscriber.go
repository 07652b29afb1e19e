package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/khtad/hello-openice/config"
	"github.com/khtad/hello-openice/dispatch"
	"github.com/khtad/hello-openice/errors"
	"github.com/khtad/hello-openice/health"
	"github.com/khtad/hello-openice/metric"
	"github.com/khtad/hello-openice/natsclient"
	"github.com/khtad/hello-openice/payload"
	"github.com/khtad/hello-openice/pkg/retry"
	"github.com/khtad/hello-openice/transport"
	"github.com/khtad/hello-openice/transport/memory"
	"github.com/khtad/hello-openice/transport/natsbus"
)

const (
	maxRestartBackoff = 30 * time.Second
	dispatchComponent = "dispatch"
)

// session is one transport instance. start runs after every endpoint is
// attached; release tears the transport down.
type session struct {
	transport transport.Transport
	start     func()
	release   func()
}

// subscriber owns the endpoints and dispatch loop for one domain and
// rebuilds both when the transport faults.
type subscriber struct {
	cfg      *config.Config
	subs     []config.Subscription
	logger   *slog.Logger
	consumer dispatch.Consumer
	loopOpts []dispatch.Option
	metrics  *metric.MetricsRegistry
	payloads *payload.Registry
	monitor  *health.Monitor

	open   func(ctx context.Context) (*session, error)
	client atomic.Pointer[natsclient.Client]
}

type subscriberDeps struct {
	cfg         *config.Config
	subs        []config.Subscription
	logger      *slog.Logger
	consumer    dispatch.Consumer
	metrics     *metric.MetricsRegistry
	loopMetrics *dispatch.Metrics
	payloads    *payload.Registry
	monitor     *health.Monitor
}

func newSubscriber(deps subscriberDeps) *subscriber {
	s := &subscriber{
		cfg:      deps.cfg,
		subs:     deps.subs,
		logger:   deps.logger,
		consumer: deps.consumer,
		metrics:  deps.metrics,
		payloads: deps.payloads,
		monitor:  deps.monitor,
	}
	if s.monitor == nil {
		s.monitor = health.NewMonitor()
	}
	s.loopOpts = []dispatch.Option{
		dispatch.WithWaitInterval(deps.cfg.Subscriber.WaitInterval),
		dispatch.WithLogger(deps.logger),
		dispatch.WithMetrics(deps.loopMetrics),
	}
	if deps.cfg.Subscriber.ReportInstanceEvents {
		s.loopOpts = append(s.loopOpts, dispatch.WithInstanceHandler(instanceLogger(deps.logger)))
	}
	s.open = s.openNATS
	s.monitor.AddProbe("nats", s.natsHealth)
	return s
}

// simulated switches the subscriber to an in-memory bus fed by sim.
func (s *subscriber) simulated(sim *simulator) {
	s.monitor.Remove("nats")
	s.open = func(ctx context.Context) (*session, error) {
		bus := memory.New(s.cfg.Domain, memory.WithLogger(s.logger))
		simCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		started := false
		return &session{
			transport: bus,
			start: func() {
				started = true
				go func() {
					defer close(done)
					sim.Run(simCtx, bus)
				}()
			},
			release: func() {
				cancel()
				if started {
					<-done
				}
				_ = bus.Close(context.Background())
			},
		}, nil
	}
}

func (s *subscriber) openNATS(ctx context.Context) (*session, error) {
	nc := s.cfg.NATS

	var bus atomic.Pointer[natsbus.Bus]
	opts := []natsclient.ClientOption{
		natsclient.WithMaxReconnects(nc.MaxReconnects),
		natsclient.WithReconnectWait(nc.ReconnectWait),
		natsclient.WithTimeout(nc.ConnectTimeout),
		natsclient.WithName(nc.ClientName),
		natsclient.WithSlog(s.logger),
		natsclient.WithMetrics(s.metrics),
		natsclient.WithConnectionLostCallback(func(err error) {
			if b := bus.Load(); b != nil {
				b.Fail(err)
			}
		}),
	}
	if nc.Username != "" {
		opts = append(opts, natsclient.WithCredentials(nc.Username, nc.Password))
	}
	if nc.Token != "" {
		opts = append(opts, natsclient.WithToken(nc.Token))
	}
	if nc.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(nc.TLS.CertFile, nc.TLS.KeyFile, nc.TLS.CAFile))
	}

	client, err := natsclient.NewClient(strings.Join(nc.URLs, ","), opts...)
	if err != nil {
		return nil, retry.NonRetryable(err)
	}

	s.logger.Info("Connecting to NATS", "urls", nc.URLs)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}

	b, err := natsbus.New(client, s.cfg.Domain, s.payloads, natsbus.WithLogger(s.logger))
	if err != nil {
		_ = client.Close(context.Background())
		return nil, retry.NonRetryable(err)
	}
	bus.Store(b)
	s.client.Store(client)

	return &session{
		transport: b,
		release: func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), nc.ConnectTimeout)
			defer cancel()
			if err := b.Close(closeCtx); err != nil {
				s.logger.Debug("Close transport", "error", err)
			}
			if err := client.Close(closeCtx); err != nil {
				s.logger.Debug("Close NATS client", "error", err)
			}
		},
	}, nil
}

// natsHealth reports the state of the current NATS connection.
func (s *subscriber) natsHealth() error {
	c := s.client.Load()
	if c == nil {
		return errors.ErrNoConnection
	}
	return c.Health()
}

// runSession subscribes every configured topic on a fresh transport and runs
// the dispatch loop until ctx ends or the transport faults.
func (s *subscriber) runSession(ctx context.Context) error {
	sess, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer sess.release()

	loop, err := dispatch.New(s.consumer, s.loopOpts...)
	if err != nil {
		return retry.NonRetryable(err)
	}

	for _, sub := range s.subs {
		ep, err := sess.transport.CreateEndpoint(ctx, sub.Topic, sub.TypeTag, sub.QoS)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", sub.Topic, err)
		}
		defer func() { _ = ep.Close() }()

		if err := loop.Add(ep); err != nil {
			return retry.NonRetryable(err)
		}
		s.logger.Info("Subscribed",
			"domain", s.cfg.Domain,
			"topic", sub.Topic,
			"type", sub.TypeTag,
			"qos", sub.QoS.QualifiedName())
	}

	s.monitor.UpdateHealthy(dispatchComponent, fmt.Sprintf("%d endpoints attached", loop.Len()))
	if sess.start != nil {
		sess.start()
	}
	return loop.Run(ctx)
}

// Run keeps a session alive until ctx ends, restarting after transport
// faults and transient connection errors.
func (s *subscriber) Run(ctx context.Context) error {
	backoff := s.cfg.Subscriber.RestartBackoff
	cfg := retry.Forever(backoff, max(backoff, maxRestartBackoff))
	if n := s.cfg.Subscriber.MaxRestarts; n > 0 {
		cfg.MaxAttempts = n + 1
	}
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Warn("Subscriber stopped, restarting",
			"attempt", attempt,
			"error", err,
			"delay", delay)
		s.monitor.UpdateDegraded(dispatchComponent, fmt.Sprintf("restarting, attempt %d", attempt+1))
		if s.metrics != nil {
			s.metrics.CoreMetrics().LoopRestarts.Inc()
		}
	}

	err := retry.Do(ctx, cfg, func(int) error {
		err := s.runSession(ctx)
		switch {
		case err == nil, ctx.Err() != nil:
			return nil
		case retry.IsNonRetryable(err):
			return err
		case errors.IsTransportFault(err), errors.IsTransient(err):
			return err
		default:
			return retry.NonRetryable(err)
		}
	})
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		s.monitor.UpdateUnhealthy(dispatchComponent, "stopped")
	}
	return err
}
