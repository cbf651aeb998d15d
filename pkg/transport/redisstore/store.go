package redisstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	pcerrors "github.com/vnykmshr/pacer/pkg/common/errors"
	"github.com/vnykmshr/pacer/pkg/transport"
)

// Store is a transport.Store backed by redis.
type Store struct {
	config Config
	client redis.UniversalClient
	owned  bool
}

// New connects to redis and verifies it with a PING. A failed PING is
// returned as a *RedisError wrapping errors.ErrUnavailable.
func New(ctx context.Context, config Config) (*Store, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	config = applyConfigDefaults(config)

	s := &Store{config: config, client: config.Redis}
	if s.client == nil {
		opts, err := redis.ParseURL(config.URL)
		if err != nil {
			return nil, &ConfigError{fmt.Sprintf("invalid url: %v", err)}
		}
		opts.ClientName = "pacer-" + config.InstanceID
		opts.DialTimeout = config.ConnectTimeout
		s.client = redis.NewClient(opts)
		s.owned = true
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	if err := s.client.Ping(pingCtx).Err(); err != nil {
		if s.owned {
			_ = s.client.Close()
		}
		return nil, &RedisError{"ping", errors.Join(pcerrors.ErrUnavailable, err)}
	}
	return s, nil
}

// Name implements transport.Store.
func (s *Store) Name() string {
	if s.config.Mode == PubSub {
		return "redis-pubsub"
	}
	return "redis"
}

// Mode returns the configured channel mode.
func (s *Store) Mode() Mode { return s.config.Mode }

func (s *Store) key(channel string) string {
	return s.config.KeyPrefix + channel
}

// Push implements transport.Store.
func (s *Store) Push(ctx context.Context, channel string, payload []byte) (transport.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RedisTimeout)
	defer cancel()

	if s.config.Mode == PubSub {
		n, err := s.client.Publish(ctx, s.key(channel), payload).Result()
		if err != nil {
			return transport.Receipt{}, s.wrap("publish", err)
		}
		return transport.Receipt{Accepted: true, Receivers: n, Broadcast: true}, nil
	}

	if err := s.client.RPush(ctx, s.key(channel), payload).Err(); err != nil {
		return transport.Receipt{}, s.wrap("rpush", err)
	}
	return transport.Receipt{Accepted: true}, nil
}

// Subscribe implements transport.Store. In pub/sub mode the subscription is
// confirmed by redis before Subscribe returns, so a message published after
// that point reaches it.
func (s *Store) Subscribe(ctx context.Context, channel string) (transport.Subscription, error) {
	if s.config.Mode == List {
		return &listSubscription{store: s, key: s.key(channel)}, nil
	}

	ps := s.client.Subscribe(ctx, s.key(channel))
	confirmCtx, cancel := context.WithTimeout(ctx, s.config.RedisTimeout)
	defer cancel()
	if _, err := ps.Receive(confirmCtx); err != nil {
		_ = ps.Close()
		return nil, s.wrap("subscribe", err)
	}
	return &pubsubSubscription{ps: ps}, nil
}

// Pending implements transport.Inspector. Pub/sub channels hold no backlog.
func (s *Store) Pending(ctx context.Context, channel string) (int64, error) {
	if s.config.Mode == PubSub {
		return 0, errors.ErrUnsupported
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.RedisTimeout)
	defer cancel()
	n, err := s.client.LLen(ctx, s.key(channel)).Result()
	if err != nil {
		return 0, s.wrap("llen", err)
	}
	return n, nil
}

// Close implements transport.Store. A client passed in through Config is
// left open.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	if err := s.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return s.wrap("close", err)
	}
	return nil
}

func (s *Store) wrap(op string, err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return &RedisError{op, transport.ErrClosed}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &RedisError{op, errors.Join(pcerrors.ErrUnavailable, err)}
	}
	return &RedisError{op, err}
}

type listSubscription struct {
	store  *Store
	key    string
	closed bool
}

// splitWait divides wait into the whole seconds BLPop sends and a
// sub-second remainder. go-redis truncates BLPop timeouts to whole seconds,
// so the remainder goes out as a fractional BLPOP timeout instead.
func splitWait(wait time.Duration) (whole, rest time.Duration) {
	whole = wait.Truncate(time.Second)
	rest = wait - whole
	if rest > 0 && rest < time.Millisecond {
		rest = time.Millisecond
	}
	return whole, rest
}

// fractionalSeconds formats d for BLPOP. A zero timeout would block forever,
// so the floor is one millisecond.
func fractionalSeconds(d time.Duration) string {
	ms := max(d.Milliseconds(), 1)
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}

func (l *listSubscription) Next(ctx context.Context, wait time.Duration) ([]byte, bool, error) {
	if l.closed {
		return nil, false, transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	if wait <= 0 {
		popCtx, cancel := context.WithTimeout(ctx, l.store.config.RedisTimeout)
		defer cancel()
		payload, err := l.store.client.LPop(popCtx, l.key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, l.store.wrap("lpop", err)
		}
		return payload, true, nil
	}

	whole, rest := splitWait(wait)
	if whole > 0 {
		payload, ok, err := l.pop(ctx, l.store.client.BLPop(ctx, whole, l.key))
		if ok || err != nil || rest == 0 {
			return payload, ok, err
		}
	}
	cmd := redis.NewStringSliceCmd(ctx, "blpop", l.key, fractionalSeconds(rest))
	_ = l.store.client.Process(ctx, cmd)
	return l.pop(ctx, cmd)
}

func (l *listSubscription) pop(ctx context.Context, cmd *redis.StringSliceCmd) ([]byte, bool, error) {
	res, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		return nil, false, l.store.wrap("blpop", err)
	}
	// BLPOP replies with [key, value].
	if len(res) != 2 {
		return nil, false, l.store.wrap("blpop", fmt.Errorf("unexpected reply length %d", len(res)))
	}
	return []byte(res[1]), true, nil
}

func (l *listSubscription) Close() error {
	l.closed = true
	return nil
}

type pubsubSubscription struct {
	ps     *redis.PubSub
	closed bool
}

func (p *pubsubSubscription) Next(ctx context.Context, wait time.Duration) ([]byte, bool, error) {
	if p.closed {
		return nil, false, transport.ErrClosed
	}
	if wait <= 0 {
		wait = 10 * time.Millisecond
	}
	deadline := time.Now().Add(wait)

	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		left := time.Until(deadline)
		if left <= 0 {
			return nil, false, nil
		}

		msg, err := p.ps.ReceiveTimeout(ctx, left)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, false, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, false, ctxErr
			}
			if errors.Is(err, redis.ErrClosed) {
				return nil, false, transport.ErrClosed
			}
			return nil, false, &RedisError{"receive", err}
		}

		switch m := msg.(type) {
		case *redis.Message:
			return []byte(m.Payload), true, nil
		default:
			// subscription confirmations and pongs
			continue
		}
	}
}

func (p *pubsubSubscription) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.ps.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return &RedisError{"unsubscribe", err}
	}
	return nil
}

var (
	_ transport.Store     = (*Store)(nil)
	_ transport.Inspector = (*Store)(nil)
)
