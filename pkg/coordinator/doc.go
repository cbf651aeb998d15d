/*
Package coordinator drives a chain of stage runners through the message bus.

Single mode runs one pass in the caller's goroutine. An optional producer
publishes the first message, then each runner consumes, processes and
forwards in order. The pass stops at the first runner that yields nothing,
and the Report names it:

	report := c.RunOnce(ctx, producer)
	if !report.OK {
		log.Printf("pipeline failed at %s", report.FailedStage)
	}

Continuous mode starts one goroutine per runner. Each loop runs its stage
once, then sleeps the loop interval. Stop cancels the loops and waits up to
the join timeout. Cancellation is observed between iterations and between
bus polls; a loop inside a stage function is left to finish on its own and
reported as abandoned.

	Idle --Start--> Running --Stop--> Stopping --> Stopped
*/
package coordinator
