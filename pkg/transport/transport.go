// Package transport defines the channel store contract shared by every bus
// backend.
//
// A Store moves opaque payloads between named channels. Queue stores (memory,
// redis list mode, sqlite) give each message to exactly one Next call, in
// publish order per channel. Broker stores (redis pub/sub, gossip) fan a
// message out to the subscriptions that exist when it is published and drop
// it when there are none; they report Broadcast in every Receipt so callers
// can tell a delivered message from a discarded one.
package transport

import (
	"context"
	"time"

	pcerrors "github.com/vnykmshr/pacer/pkg/common/errors"
)

// ErrClosed is returned by operations on a closed store or subscription.
var ErrClosed = pcerrors.ErrClosed

// Receipt reports what a store did with a pushed payload.
type Receipt struct {
	// Accepted is false when the store discarded the payload without error,
	// as the memory store does under the Drop strategy.
	Accepted bool

	// Receivers is the number of live subscriptions that got the payload.
	// Only meaningful when Broadcast is set.
	Receivers int64

	// Broadcast marks broker semantics: no receivers means the payload is gone.
	Broadcast bool
}

// Delivered reports whether the payload reached a queue or at least one
// broker subscriber.
func (r Receipt) Delivered() bool {
	if !r.Accepted {
		return false
	}
	if r.Broadcast {
		return r.Receivers > 0
	}
	return true
}

// Store is a set of named FIFO channels.
type Store interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Push appends payload to channel.
	Push(ctx context.Context, channel string, payload []byte) (Receipt, error)

	// Subscribe opens a cursor on channel. The caller owns it and must Close it.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Close releases the store. Pending in-memory messages are lost.
	Close() error
}

// Subscription is a single-owner cursor over one channel.
type Subscription interface {
	// Next waits up to wait for one message. It returns ok=false with a nil
	// error when the wait elapsed empty, and ctx.Err() when ctx ends first.
	Next(ctx context.Context, wait time.Duration) (payload []byte, ok bool, err error)

	// Close ends the subscription. It is safe to call more than once.
	Close() error
}

// Inspector is implemented by stores that can count waiting messages.
type Inspector interface {
	Pending(ctx context.Context, channel string) (int64, error)
}
