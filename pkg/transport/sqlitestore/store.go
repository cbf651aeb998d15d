package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	pcerrors "github.com/vnykmshr/pacer/pkg/common/errors"
	"github.com/vnykmshr/pacer/pkg/common/validation"
	"github.com/vnykmshr/pacer/pkg/transport"
)

// Config holds configuration for the sqlite store.
type Config struct {
	// Path is the database file. Parent directories are created.
	Path string

	// PollInterval is how often a waiting subscriber re-checks the table for
	// rows written by other processes.
	PollInterval time.Duration

	// BusyTimeout is handed to sqlite as PRAGMA busy_timeout.
	BusyTimeout time.Duration
}

// DefaultConfig returns defaults for everything but Path.
func DefaultConfig() Config {
	return Config{
		PollInterval: 50 * time.Millisecond,
		BusyTimeout:  5 * time.Second,
	}
}

// Store is a durable transport.Store. Each message is a row; consuming it
// deletes the row in the same statement, so competing consumers in different
// processes never see the same message.
type Store struct {
	db     *sql.DB
	path   string
	config Config

	notifyMu sync.Mutex
	notify   map[string]chan struct{}
	closed   atomic.Bool
	done     chan struct{}
}

// Open creates or opens the queue database at config.Path.
func Open(ctx context.Context, config Config) (*Store, error) {
	if err := validation.ValidateNotEmpty("sqlite", "path", config.Path); err != nil {
		return nil, err
	}
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = defaults.BusyTimeout
	}

	if dir := filepath.Dir(config.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create queue directory: %w", err)
		}
	}

	// busy_timeout is per connection, so it rides on the DSN for every pooled one.
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)", config.Path, config.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{
		db:     db,
		path:   config.Path,
		config: config,
		notify: make(map[string]chan struct{}),
		done:   make(chan struct{}),
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Name implements transport.Store.
func (s *Store) Name() string { return "sqlite" }

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Push implements transport.Store.
func (s *Store) Push(ctx context.Context, channel string, payload []byte) (transport.Receipt, error) {
	if s.closed.Load() {
		return transport.Receipt{}, transport.ErrClosed
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO envelopes (channel, payload, published_at) VALUES (?, ?, ?)",
			channel, payload, now)
		return err
	})
	if err != nil {
		return transport.Receipt{}, opError("push", channel, err)
	}
	s.wake(channel)
	return transport.Receipt{Accepted: true}, nil
}

// Subscribe implements transport.Store.
func (s *Store) Subscribe(_ context.Context, channel string) (transport.Subscription, error) {
	if s.closed.Load() {
		return nil, transport.ErrClosed
	}
	return &subscription{store: s, channel: channel}, nil
}

// Pending implements transport.Inspector.
func (s *Store) Pending(ctx context.Context, channel string) (int64, error) {
	if s.closed.Load() {
		return 0, transport.ErrClosed
	}
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM envelopes WHERE channel = ?", channel).Scan(&n)
	if err != nil {
		return 0, opError("pending", channel, err)
	}
	return n, nil
}

// Close implements transport.Store. Undelivered rows stay in the database.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)
	return s.db.Close()
}

// pop removes and returns the oldest row for channel.
func (s *Store) pop(ctx context.Context, channel string) ([]byte, bool, error) {
	var payload []byte
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`DELETE FROM envelopes
             WHERE id = (SELECT id FROM envelopes WHERE channel = ? ORDER BY id LIMIT 1)
             RETURNING payload`,
			channel,
		).Scan(&payload)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, opError("pop", channel, err)
	}
	return payload, true, nil
}

func opError(op, channel string, err error) error {
	return pcerrors.NewOperationError("sqlitestore", op, err).WithContext("channel " + channel)
}

func (s *Store) waiter(channel string) <-chan struct{} {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	ch, ok := s.notify[channel]
	if !ok {
		ch = make(chan struct{})
		s.notify[channel] = ch
	}
	return ch
}

func (s *Store) wake(channel string) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if ch, ok := s.notify[channel]; ok {
		close(ch)
		delete(s.notify, channel)
	}
}

type subscription struct {
	store   *Store
	channel string
	closed  atomic.Bool
}

func (sub *subscription) Next(ctx context.Context, wait time.Duration) ([]byte, bool, error) {
	s := sub.store
	if sub.closed.Load() || s.closed.Load() {
		return nil, false, transport.ErrClosed
	}

	deadline := time.Now().Add(wait)
	for {
		// Register before popping so a push between the two still wakes us.
		notify := s.waiter(sub.channel)
		payload, ok, err := s.pop(ctx, sub.channel)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, false, ctxErr
			}
			if s.closed.Load() {
				return nil, false, transport.ErrClosed
			}
			return nil, false, err
		}
		if ok {
			return payload, true, nil
		}

		left := time.Until(deadline)
		if left <= 0 {
			return nil, false, nil
		}
		if left > s.config.PollInterval {
			left = s.config.PollInterval
		}

		timer := time.NewTimer(left)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false, ctx.Err()
		case <-s.done:
			timer.Stop()
			return nil, false, transport.ErrClosed
		case <-notify:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (sub *subscription) Close() error {
	sub.closed.Store(true)
	return nil
}

var (
	_ transport.Store     = (*Store)(nil)
	_ transport.Inspector = (*Store)(nil)
)
