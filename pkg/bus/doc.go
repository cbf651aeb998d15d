/*
Package bus provides the named-channel message bus that pipeline stages use
to hand work to each other.

A Bus wraps one transport.Store chosen at start-up. Open resolves the
configured backend (memory, redis, redis-pubsub, sqlite or gossip) once; if
that backend cannot be reached the bus logs a warning and carries on with
in-memory channels, so callers see the same Publish/SubscribeOnce behavior
either way. Check Fallback to find out which happened.

	b, err := bus.Open(ctx, bus.Config{Backend: "redis", URL: "redis://localhost:6379"})
	if err != nil {
		return err // invalid configuration only
	}
	defer b.Close()

	b.Publish(ctx, "threat-raw", bus.Envelope{"host": "10.0.0.50", "severity": "HIGH"})
	env, ok := b.SubscribeOnce(ctx, "threat-raw", 30*time.Second)

Payloads are JSON objects. A subscriber therefore sees JSON-normalized
values: numbers arrive as float64.

On queue backends (memory, redis, sqlite) every message goes to exactly one
consumer. On broadcast backends (redis-pubsub, gossip) a message reaches every
subscriber that is listening at publish time, and Publish returns false when
nobody is.

SubscribeOnce never blocks longer than its timeout and never waits more than
the poll interval (one second by default) in a single transport call, so
cancellation is observed promptly. Listen keeps one subscription open and
runs a handler per message; a failing or panicking handler is logged and
does not stop the loop.
*/
package bus
