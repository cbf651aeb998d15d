package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pcerrors "github.com/vnykmshr/pacer/pkg/common/errors"
	"github.com/vnykmshr/pacer/pkg/common/validation"
	"github.com/vnykmshr/pacer/pkg/metrics"
	"github.com/vnykmshr/pacer/pkg/transport"
)

// BackpressureStrategy defines how a bounded channel handles a push when full.
type BackpressureStrategy int

const (
	// Block waits for space until the push context ends.
	Block BackpressureStrategy = iota

	// Drop discards the new message.
	Drop

	// DropOldest discards the oldest waiting message to make room.
	DropOldest

	// Error rejects the push with ErrChannelFull.
	Error
)

func (s BackpressureStrategy) String() string {
	switch s {
	case Block:
		return "block"
	case Drop:
		return "drop"
	case DropOldest:
		return "drop_oldest"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps a config string to a BackpressureStrategy.
func ParseStrategy(s string) (BackpressureStrategy, error) {
	switch s {
	case "", "block":
		return Block, nil
	case "drop":
		return Drop, nil
	case "drop_oldest":
		return DropOldest, nil
	case "error":
		return Error, nil
	}
	return Block, validation.ValidateOneOf("memory", "strategy", s, "block", "drop", "drop_oldest", "error")
}

// ErrChannelFull is returned when a channel is full and the strategy is Error.
var ErrChannelFull = fmt.Errorf("channel buffer is full: %w", pcerrors.ErrCapacityExceeded)

// Config holds configuration for the memory store.
type Config struct {
	// Capacity bounds each channel. Zero means unbounded.
	Capacity int

	// Strategy defines how a full channel is handled.
	Strategy BackpressureStrategy

	// OnDrop is called with every discarded payload (Drop/DropOldest).
	OnDrop func(channel string, payload []byte)

	// Metrics records backpressure events. Optional.
	Metrics *metrics.Registry
}

// DefaultConfig returns an unbounded configuration.
func DefaultConfig() Config {
	return Config{Strategy: Block}
}

// Stats holds statistics about one channel.
type Stats struct {
	// Pushed is the number of accepted messages.
	Pushed int64

	// Delivered is the number of messages handed to a subscriber.
	Delivered int64

	// Dropped is the number of messages discarded by backpressure.
	Dropped int64

	// BlockedPushes is the number of pushes that had to wait for space.
	BlockedPushes int64

	// Pending is the number of messages currently waiting.
	Pending int

	// Subscribers is the number of open subscriptions.
	Subscribers int

	// LastPush is the timestamp of the last accepted message.
	LastPush time.Time

	// LastDelivery is the timestamp of the last delivered message.
	LastDelivery time.Time
}

// Store is an in-process transport.Store. Channels are created on first use
// and live until the store is closed.
type Store struct {
	config Config

	mu       sync.Mutex
	channels map[string]*queue
	closed   atomic.Bool
	done     chan struct{}
}

// New creates a memory store with the default configuration.
func New() *Store {
	s, _ := NewWithConfig(DefaultConfig())
	return s
}

// NewWithConfig creates a memory store with the specified configuration.
func NewWithConfig(config Config) (*Store, error) {
	if config.Capacity < 0 {
		return nil, validation.ValidateNonNegative("memory", "capacity", float64(config.Capacity))
	}
	if config.Strategy < Block || config.Strategy > Error {
		return nil, pcerrors.NewValidationError("memory", "strategy", int(config.Strategy), "unknown strategy")
	}
	return &Store{
		config:   config,
		channels: make(map[string]*queue),
		done:     make(chan struct{}),
	}, nil
}

// Name implements transport.Store.
func (s *Store) Name() string { return "memory" }

// Push implements transport.Store.
func (s *Store) Push(ctx context.Context, channel string, payload []byte) (transport.Receipt, error) {
	if s.closed.Load() {
		return transport.Receipt{}, transport.ErrClosed
	}
	q := s.queue(channel)
	accepted, err := q.push(ctx, s.done, payload)
	if err != nil {
		return transport.Receipt{}, err
	}
	return transport.Receipt{Accepted: accepted, Receivers: int64(q.subscribers())}, nil
}

// Subscribe implements transport.Store.
func (s *Store) Subscribe(_ context.Context, channel string) (transport.Subscription, error) {
	if s.closed.Load() {
		return nil, transport.ErrClosed
	}
	q := s.queue(channel)
	q.mu.Lock()
	q.subs++
	q.mu.Unlock()
	return &subscription{store: s, q: q}, nil
}

// Pending implements transport.Inspector.
func (s *Store) Pending(_ context.Context, channel string) (int64, error) {
	if s.closed.Load() {
		return 0, transport.ErrClosed
	}
	s.mu.Lock()
	q, ok := s.channels[channel]
	s.mu.Unlock()
	if !ok {
		return 0, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// Stats returns statistics for channel. Unknown channels report zero values.
func (s *Store) Stats(channel string) Stats {
	s.mu.Lock()
	q, ok := s.channels[channel]
	s.mu.Unlock()
	if !ok {
		return Stats{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	st := q.stats
	st.Pending = len(q.items)
	st.Subscribers = q.subs
	return st
}

// Channels returns the names of every channel created so far.
func (s *Store) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	return names
}

// Close implements transport.Store. Waiting subscribers return ErrClosed and
// undelivered messages are discarded.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.channels {
		q.mu.Lock()
		q.items = nil
		q.mu.Unlock()
	}
	return nil
}

func (s *Store) queue(channel string) *queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.channels[channel]
	if !ok {
		q = &queue{
			name:     channel,
			config:   &s.config,
			notEmpty: make(chan struct{}),
			notFull:  make(chan struct{}),
		}
		s.channels[channel] = q
	}
	return q
}

// queue is one FIFO channel. Waiters block on the notify channels, which are
// closed and replaced whenever the condition may have changed.
type queue struct {
	name   string
	config *Config

	mu       sync.Mutex
	items    [][]byte
	subs     int
	notEmpty chan struct{}
	notFull  chan struct{}
	stats    Stats
}

func (q *queue) subscribers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.subs
}

func (q *queue) full() bool {
	return q.config.Capacity > 0 && len(q.items) >= q.config.Capacity
}

func (q *queue) push(ctx context.Context, done <-chan struct{}, payload []byte) (bool, error) {
	q.mu.Lock()
	blocked := false
	for q.full() {
		switch q.config.Strategy {
		case Drop:
			q.stats.Dropped++
			q.mu.Unlock()
			q.dropped(payload)
			return false, nil
		case DropOldest:
			old := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.stats.Dropped++
			q.mu.Unlock()
			q.dropped(old)
			q.mu.Lock()
			continue
		case Error:
			q.mu.Unlock()
			q.config.Metrics.ObserveBackpressure(q.config.Strategy.String(), q.name)
			return false, ErrChannelFull
		}

		if !blocked {
			blocked = true
			q.stats.BlockedPushes++
			q.config.Metrics.ObserveBackpressure(q.config.Strategy.String(), q.name)
		}
		wait := q.notFull
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-done:
			return false, transport.ErrClosed
		case <-wait:
		}
		q.mu.Lock()
	}

	q.items = append(q.items, payload)
	q.stats.Pushed++
	q.stats.LastPush = time.Now()
	close(q.notEmpty)
	q.notEmpty = make(chan struct{})
	q.mu.Unlock()
	return true, nil
}

func (q *queue) dropped(payload []byte) {
	q.config.Metrics.ObserveBackpressure(q.config.Strategy.String(), q.name)
	if q.config.OnDrop != nil {
		q.config.OnDrop(q.name, payload)
	}
}

// pop removes the head of the queue, or returns the channel that will be
// closed by the next push.
func (q *queue) pop() ([]byte, bool, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false, q.notEmpty
	}
	payload := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.stats.Delivered++
	q.stats.LastDelivery = time.Now()
	if q.config.Capacity > 0 {
		close(q.notFull)
		q.notFull = make(chan struct{})
	}
	return payload, true, nil
}

type subscription struct {
	store  *Store
	q      *queue
	closed atomic.Bool
}

func (s *subscription) Next(ctx context.Context, wait time.Duration) ([]byte, bool, error) {
	if s.closed.Load() || s.store.closed.Load() {
		return nil, false, transport.ErrClosed
	}

	var expired <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		payload, ok, notify := s.q.pop()
		if ok {
			return payload, true, nil
		}
		if wait <= 0 {
			return nil, false, nil
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-s.store.done:
			return nil, false, transport.ErrClosed
		case <-expired:
			return nil, false, nil
		case <-notify:
		}
	}
}

func (s *subscription) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.q.mu.Lock()
	s.q.subs--
	s.q.mu.Unlock()
	return nil
}

var (
	_ transport.Store     = (*Store)(nil)
	_ transport.Inspector = (*Store)(nil)
)
