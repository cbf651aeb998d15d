/*
Package pacer moves events through a chain of processing stages that talk
only over named channels on a message bus.

Bus and transports (pkg/bus, pkg/transport):
  - memory: in-process FIFO channels, also the fallback backend
  - redisstore: redis lists (competing consumers) or pub/sub (broadcast)
  - sqlitestore: durable queue shared by processes on one host
  - gossip: libp2p GossipSub broadcast between peers

Pipeline (pkg/stage, pkg/coordinator, pkg/scheduler):
  - stage: consume one message, transform it, publish the result
  - coordinator: single, continuous and stop-with-join-timeout runs
  - scheduler: delayed and cron triggers for producers

The pacer command (cmd/pacer) wires these into a threat incident-response
pipeline: a monitor detects, an analyzer adds business context, and an
orchestrator remediates.

Example usage:

	import (
		"github.com/vnykmshr/pacer/pkg/bus"
		"github.com/vnykmshr/pacer/pkg/stage"
		"github.com/vnykmshr/pacer/pkg/transport/memory"
	)

	b := bus.New(memory.New())
	defer b.Close()

	runner, _ := stage.NewRunner(b, stage.Config{
		Name:   "enrich",
		Input:  "raw",
		Output: "enriched",
		Func:   stage.Typed(enrich),
	})

	b.Publish(ctx, "raw", bus.Envelope{"host": "srv-01"})
	out, ok := runner.RunOnce(ctx, 5*time.Second)
*/
package pacer
