package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/pacer/internal/logging"
	pccontext "github.com/vnykmshr/pacer/pkg/common/context"
	pcerrors "github.com/vnykmshr/pacer/pkg/common/errors"
	"github.com/vnykmshr/pacer/pkg/metrics"
	"github.com/vnykmshr/pacer/pkg/transport"
	"github.com/vnykmshr/pacer/pkg/transport/gossip"
	"github.com/vnykmshr/pacer/pkg/transport/memory"
	"github.com/vnykmshr/pacer/pkg/transport/redisstore"
	"github.com/vnykmshr/pacer/pkg/transport/sqlitestore"
)

// Handler processes one envelope delivered by Listen.
type Handler func(ctx context.Context, env Envelope) error

// Option configures a Bus created with New.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) { b.logger = logging.NewComponentLogger(logger, "bus") }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithPollInterval sets the longest single wait on the transport.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// WithPublishTimeout bounds each Publish.
func WithPublishTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.publishTimeout = d
		}
	}
}

// Bus is a named-channel message bus over a transport.Store.
// It is safe for concurrent use.
type Bus struct {
	store          transport.Store
	configured     string
	fallback       bool
	logger         *slog.Logger
	metrics        *metrics.Registry
	pollInterval   time.Duration
	publishTimeout time.Duration
	closed         atomic.Bool
}

// New wraps an explicit store.
func New(store transport.Store, opts ...Option) *Bus {
	d := DefaultConfig()
	b := &Bus{
		store:          store,
		configured:     store.Name(),
		logger:         logging.NewComponentLogger(nil, "bus"),
		pollInterval:   d.PollInterval,
		publishTimeout: d.PublishTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open resolves the configured backend once. A backend that cannot be reached
// is logged and replaced by the memory store; only invalid configuration is
// returned as an error.
func Open(ctx context.Context, config Config) (*Bus, error) {
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts := []Option{
		WithLogger(config.Logger),
		WithMetrics(config.Metrics),
		WithPollInterval(config.PollInterval),
		WithPublishTimeout(config.PublishTimeout),
	}

	store, err := openStore(ctx, config)
	if err == nil {
		b := New(store, opts...)
		b.configured = config.Backend
		b.metrics.SetFallback(config.Backend, false)
		b.logger.Info("message bus ready",
			logging.String(logging.FieldBackend, store.Name()))
		return b, nil
	}
	if isConfigError(err) {
		return nil, err
	}

	mem, merr := newMemory(config)
	if merr != nil {
		return nil, merr
	}
	b := New(mem, opts...)
	b.configured = config.Backend
	b.fallback = true
	b.metrics.SetFallback(config.Backend, true)
	logging.WarnWithContext(b.logger, "transport unavailable, using in-memory channels", "bus_fallback",
		logging.String("configured_backend", config.Backend),
		logging.Error(err),
		logging.String(logging.FieldImpact, "messages are not shared with other processes"),
		logging.String(logging.FieldErrorHint, "check the transport endpoint and restart to reconnect"),
	)
	return b, nil
}

func openStore(ctx context.Context, config Config) (transport.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	switch config.Backend {
	case BackendRedis, BackendRedisPubSub:
		rc := redisstore.DefaultConfig()
		if config.URL != "" {
			rc.URL = config.URL
		}
		rc.KeyPrefix = config.KeyPrefix
		rc.ConnectTimeout = config.ConnectTimeout
		if config.Backend == BackendRedisPubSub {
			rc.Mode = redisstore.PubSub
		}
		return redisstore.New(ctx, rc)
	case BackendSQLite:
		sc := sqlitestore.DefaultConfig()
		sc.Path = config.SQLitePath
		return sqlitestore.Open(ctx, sc)
	case BackendGossip:
		opts := config.Gossip
		if opts.Logger == nil {
			opts.Logger = config.Logger
		}
		if opts.TopicPrefix == "" {
			opts.TopicPrefix = config.KeyPrefix
		}
		// The host outlives the connect timeout.
		return gossip.New(context.WithoutCancel(ctx), opts)
	default:
		return newMemory(config)
	}
}

func newMemory(config Config) (*memory.Store, error) {
	strategy, err := memory.ParseStrategy(config.MemoryStrategy)
	if err != nil {
		return nil, err
	}
	return memory.NewWithConfig(memory.Config{
		Capacity: config.MemoryCapacity,
		Strategy: strategy,
		Metrics:  config.Metrics,
	})
}

func isConfigError(err error) bool {
	var cerr *redisstore.ConfigError
	return errors.As(err, &cerr) || pcerrors.IsValidationError(err)
}

// Backend returns the name of the active store.
func (b *Bus) Backend() string { return b.store.Name() }

// Configured returns the backend named in configuration.
func (b *Bus) Configured() string { return b.configured }

// Fallback reports whether the configured backend was replaced by memory.
func (b *Bus) Fallback() bool { return b.fallback }

// Store returns the underlying store.
func (b *Bus) Store() transport.Store { return b.store }

// Close releases the store. Further calls are no-ops.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.store.Close()
}

// Publish serializes env and hands it to the transport. It returns true iff
// the transport accepted the message; for broadcast stores that also means at
// least one live subscriber received it. Failures are logged, not returned.
func (b *Bus) Publish(ctx context.Context, channel string, env Envelope) bool {
	start := time.Now()
	log := b.logger.With(
		logging.String(logging.FieldChannel, channel),
		logging.String(logging.FieldPipelineID, env.PipelineID()),
	)

	data, err := encode(env)
	if err != nil {
		log.Error("cannot serialize message", logging.Error(err))
		b.metrics.ObservePublish(b.Backend(), channel, metrics.OutcomeError, time.Since(start))
		return false
	}

	pctx, cancel := context.WithTimeout(ctx, b.publishTimeout)
	defer cancel()

	receipt, err := b.store.Push(pctx, channel, data)
	switch {
	case pcerrors.IsTemporary(err):
		logging.WarnWithContext(log, "message rejected by backpressure", "bus_publish_dropped", logging.Error(err))
		b.metrics.ObservePublish(b.Backend(), channel, metrics.OutcomeDropped, time.Since(start))
		return false
	case err != nil:
		logging.WarnWithContext(log, "publish failed", "bus_publish_failed", logging.Error(err))
		b.metrics.ObservePublish(b.Backend(), channel, metrics.OutcomeError, time.Since(start))
		return false
	case !receipt.Accepted:
		logging.WarnWithContext(log, "message dropped by backpressure", "bus_publish_dropped")
		b.metrics.ObservePublish(b.Backend(), channel, metrics.OutcomeDropped, time.Since(start))
		return false
	case !receipt.Delivered():
		logging.WarnWithContext(log, "dropped: no live subscribers", "bus_publish_dropped",
			logging.String(logging.FieldImpact, "broadcast transports do not retain messages"))
		b.metrics.ObservePublish(b.Backend(), channel, metrics.OutcomeDropped, time.Since(start))
		return false
	}

	b.metrics.ObservePublish(b.Backend(), channel, metrics.OutcomeAccepted, time.Since(start))
	log.Debug("message published", logging.Int64("receivers", receipt.Receivers))
	return true
}

// SubscribeOnce waits up to timeout for one message on channel and consumes
// it. Expiry, cancellation and transport failure all return (nil, false).
// Retryable transport failures are retried until the deadline.
func (b *Bus) SubscribeOnce(ctx context.Context, channel string, timeout time.Duration) (Envelope, bool) {
	log := b.logger.With(logging.String(logging.FieldChannel, channel))
	deadline := time.Now().Add(timeout)

	sub, err := b.store.Subscribe(ctx, channel)
	if err != nil {
		logging.WarnWithContext(log, "subscribe failed", "bus_subscribe_failed", logging.Error(err))
		return nil, false
	}
	defer sub.Close()

	for {
		wait := max(pccontext.Remaining(deadline, b.pollInterval), 0)
		payload, ok, err := sub.Next(ctx, wait)
		switch {
		case err != nil:
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return nil, false
			}
			if !pcerrors.IsRetryable(err) {
				log.Error("receive failed", logging.Error(err))
				return nil, false
			}
			logging.WarnWithContext(log, "receive failed, retrying", "bus_receive_failed", logging.Error(err))
			if !pccontext.SleepOrDone(ctx, max(pccontext.Remaining(deadline, b.pollInterval), 0)) {
				return nil, false
			}
		case ok:
			env, derr := decode(payload)
			if derr != nil {
				logging.WarnWithContext(log, "discarding undecodable message", "bus_decode_failed", logging.Error(derr))
				break
			}
			b.metrics.ObserveReceive(b.Backend(), channel)
			return env, true
		}

		if !time.Now().Before(deadline) {
			b.metrics.ObserveTimeout(channel)
			log.Debug("no message before timeout", logging.Duration("timeout", timeout))
			return nil, false
		}
	}
}

// Listen delivers every message on channel to handler, in order, until ctx
// is canceled. Handler errors and panics are logged and the loop continues.
// Retryable receive failures are retried after a poll interval. It returns an
// error when the subscription cannot be opened, the store is closed underneath
// it, or a receive fails for good.
func (b *Bus) Listen(ctx context.Context, channel string, handler Handler) error {
	log := b.logger.With(logging.String(logging.FieldChannel, channel))

	sub, err := b.store.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	defer sub.Close()

	log.Info("listening")
	for ctx.Err() == nil {
		payload, ok, err := sub.Next(ctx, b.pollInterval)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, transport.ErrClosed) || !pcerrors.IsRetryable(err) {
				return fmt.Errorf("listen %s: %w", channel, err)
			}
			logging.WarnWithContext(log, "receive failed, retrying", "bus_receive_failed", logging.Error(err))
			pccontext.SleepOrDone(ctx, b.pollInterval)
			continue
		}
		if !ok {
			continue
		}
		env, err := decode(payload)
		if err != nil {
			logging.WarnWithContext(log, "discarding undecodable message", "bus_decode_failed", logging.Error(err))
			continue
		}
		b.metrics.ObserveReceive(b.Backend(), channel)
		b.dispatch(ctx, log, channel, handler, env)
	}
	log.Info("listener stopped")
	return nil
}

func (b *Bus) dispatch(ctx context.Context, log *slog.Logger, channel string, handler Handler, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.ObserveHandlerFailure(channel)
			logging.ErrorWithContext(log, "handler panicked", "bus_handler_panic",
				logging.String(logging.FieldPipelineID, env.PipelineID()),
				logging.Any("panic", r))
		}
	}()
	if err := handler(ctx, env); err != nil {
		b.metrics.ObserveHandlerFailure(channel)
		logging.WarnWithContext(log, "handler failed", "bus_handler_failed",
			logging.String(logging.FieldPipelineID, env.PipelineID()),
			logging.Error(err))
	}
}

// Pending returns the number of messages waiting on channel. The second
// result is false when the store cannot report it.
func (b *Bus) Pending(ctx context.Context, channel string) (int64, bool) {
	insp, ok := b.store.(transport.Inspector)
	if !ok {
		return 0, false
	}
	n, err := insp.Pending(ctx, channel)
	if err != nil {
		return 0, false
	}
	b.metrics.SetPending(channel, n)
	return n, true
}
