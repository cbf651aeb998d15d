// Package scheduler triggers work at a time, after a delay, on a fixed
// interval or on a cron schedule.
//
// Cron expressions take five fields, six with a leading seconds field, or a
// descriptor:
//
//	"*/30 * * * * *"  every 30 seconds
//	"0 */5 * * * *"   every five minutes
//	"@every 1m"       every minute
//
// Tasks run on their own goroutines, at most Config.MaxConcurrent at a time,
// with a context that Stop cancels. A task that fails or panics is logged and
// counted; it does not affect other tasks.
//
//	s := scheduler.New()
//	s.Start(ctx)
//	defer func() { <-s.Stop() }()
//
//	s.ScheduleCron("monitor", "*/30 * * * * *", scheduler.TaskFunc(inject))
package scheduler
