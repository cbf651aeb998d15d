/*
Package redisstore implements transport.Store on top of redis.

Two modes are available.

List mode (the default) keeps each channel in a redis list. Publishing is an
RPUSH and consuming is a BLPOP, so consumers in any number of processes
compete for messages, order is preserved per channel, and a message waits in
redis until it is taken:

	store, err := redisstore.New(ctx, redisstore.Config{URL: "redis://localhost:6379"})

PubSub mode maps channels onto PUBLISH/SUBSCRIBE. Every subscriber connected
at publish time receives its own copy and a message published while nobody is
subscribed is discarded. Receipts in this mode set Broadcast and carry the
receiver count reported by PUBLISH, which the bus uses to refuse
acknowledging a message nobody received.

New performs a PING bounded by ConnectTimeout. Failure is returned as a
*RedisError that matches errors.ErrUnavailable, which callers use to fall
back to the memory store.

BLPOP only accepts whole seconds and treats zero as "block forever", so waits
shorter than one second are rounded up to one second.
*/
package redisstore
