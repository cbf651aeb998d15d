/*
Package memory provides the in-process channel store used when no external
transport is configured or the configured one is unreachable.

Each channel is an unbounded FIFO by default. Setting Config.Capacity bounds
every channel and selects a backpressure strategy for pushes into a full one:

	Block       wait for space until the push context ends
	Drop        discard the new message (Receipt.Accepted is false)
	DropOldest  discard the oldest waiting message
	Error       fail with ErrChannelFull

Subscriptions compete: each message is handed to exactly one Next call.
Waiting subscribers are woken by the next push rather than polling.

	store := memory.New()
	defer store.Close()

	sub, _ := store.Subscribe(ctx, "threat-raw")
	defer sub.Close()

	store.Push(ctx, "threat-raw", []byte(`{"host":"web-01"}`))
	payload, ok, err := sub.Next(ctx, time.Second)

Closing the store discards undelivered messages and releases every waiter
with transport.ErrClosed.
*/
package memory
