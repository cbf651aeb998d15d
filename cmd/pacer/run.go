package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/vnykmshr/pacer/internal/api"
	"github.com/vnykmshr/pacer/internal/logging"
	"github.com/vnykmshr/pacer/internal/threat"
	"github.com/vnykmshr/pacer/pkg/bus"
	"github.com/vnykmshr/pacer/pkg/coordinator"
	"github.com/vnykmshr/pacer/pkg/scheduler"
	"github.com/vnykmshr/pacer/pkg/stage"
)

var errPipelineFailed = errors.New("pipeline failed")

func runSingle(cmd *cobra.Command, cc *commandContext, source string) error {
	if err := cc.setup(cmd.ErrOrStderr()); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := cc.openBus(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	p, err := cc.pipeline(b, nil)
	if err != nil {
		return err
	}
	coord, err := cc.coordinator(p)
	if err != nil {
		return err
	}

	report := coord.RunOnce(ctx, p.Monitor.Producer(source))
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Backend: %s\n", backendLabel(b))
	fmt.Fprintln(out, renderReport(report))

	if !report.OK {
		if report.Err != nil {
			return fmt.Errorf("%w at %s: %w", errPipelineFailed, report.FailedStage, report.Err)
		}
		return fmt.Errorf("%w at %s", errPipelineFailed, report.FailedStage)
	}
	rem, err := stage.Decode[threat.Remediation](report.Output)
	if err != nil {
		return fmt.Errorf("decode remediation: %w", err)
	}
	fmt.Fprintln(out, renderRemediation(rem))
	return nil
}

func runContinuous(cmd *cobra.Command, cc *commandContext) error {
	if err := cc.setup(cmd.ErrOrStderr()); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	unlock, err := acquireLock(cc.config.Coordinator.LockFile)
	if err != nil {
		return err
	}
	defer unlock()

	return cc.serve(ctx, cmd.OutOrStdout(), func(ctx context.Context, sched *scheduler.Scheduler, p *threat.Pipeline) error {
		expr := cc.config.Coordinator.MonitorSchedule
		if expr == "" {
			return nil
		}
		source := cc.config.Coordinator.MonitorSource
		task := monitorTask(p.Monitor.Producer(source))
		if err := sched.ScheduleCron("monitor", expr, task); err != nil {
			return fmt.Errorf("monitor schedule: %w", err)
		}
		cc.logger.Info("periodic monitoring enabled",
			logging.String("schedule", expr),
			logging.String("source", source))
		return nil
	})
}

func runDemo(cmd *cobra.Command, cc *commandContext) error {
	if err := cc.setup(cmd.ErrOrStderr()); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, finish := context.WithCancel(ctx)
	defer finish()

	demo := cc.config.Demo
	return cc.serve(ctx, cmd.OutOrStdout(), func(ctx context.Context, sched *scheduler.Scheduler, p *threat.Pipeline) error {
		var at time.Duration
		for i, source := range demo.Sources {
			if i > 0 {
				at += demo.Interval()
			}
			id := fmt.Sprintf("demo-%d-%s", i, source)
			if err := sched.ScheduleAfter(id, scheduler.TaskFunc(p.Monitor.Producer(source)), at); err != nil {
				return err
			}
		}
		at += demo.Settle()
		return sched.ScheduleAfter("demo-stop", scheduler.TaskFunc(func(context.Context) error {
			cc.logger.Info("demo complete, stopping")
			finish()
			return nil
		}), at)
	})
}

const (
	monitorRetries       = 3
	monitorRetryDelay    = 200 * time.Millisecond
	monitorRetryMaxDelay = 2 * time.Second
)

// monitorTask retries a scheduled detection whose event the bus did not take.
// Other failures, such as an unknown source, are not retried.
func monitorTask(produce func(context.Context) error) scheduler.Task {
	return scheduler.BackoffTask{
		Task:         scheduler.TaskFunc(produce),
		MaxRetries:   monitorRetries,
		InitialDelay: monitorRetryDelay,
		MaxDelay:     monitorRetryMaxDelay,
		RetryIf: func(err error) bool {
			return errors.Is(err, threat.ErrNotPublished)
		},
	}
}

// serve runs the stage loops, the trigger scheduler and the optional admin
// API until ctx is done, then stops them in reverse order.
func (cc *commandContext) serve(ctx context.Context, out io.Writer, schedule func(context.Context, *scheduler.Scheduler, *threat.Pipeline) error) error {
	b, err := cc.openBus(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	var printMu sync.Mutex
	p, err := cc.pipeline(b, func(rem threat.Remediation) {
		printMu.Lock()
		defer printMu.Unlock()
		fmt.Fprintln(out, summarizeRemediation(rem))
	})
	if err != nil {
		return err
	}
	coord, err := cc.coordinator(p)
	if err != nil {
		return err
	}

	sched := scheduler.NewWithConfig(scheduler.Config{
		Name:    "triggers",
		Logger:  cc.logger,
		Metrics: cc.metrics,
	})
	if err := schedule(ctx, sched, p); err != nil {
		return err
	}
	for _, e := range sched.List() {
		cc.logger.Debug("trigger scheduled",
			logging.String("trigger", e.ID),
			logging.Time("run_at", e.RunAt),
			logging.String("cron", e.Cron))
	}

	if err := coord.Start(ctx); err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		coord.Stop()
		return err
	}
	fmt.Fprintf(out, "Backend: %s\n", backendLabel(b))

	var wg sync.WaitGroup
	apiErr := make(chan error, 1)
	if bind := cc.config.API.Bind; bind != "" {
		srv, err := api.NewServer(api.Config{
			Bind:      bind,
			RateLimit: cc.config.API.RateLimit,
			Burst:     cc.config.API.Burst,
			Gatherer:  cc.registry,
			Logger:    cc.logger,
			Metrics:   cc.metrics,
		}, p.Monitor, coord, b)
		if err != nil {
			<-sched.Stop()
			coord.Stop()
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			apiErr <- srv.ListenAndServe(ctx)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-apiErr:
	}

	<-sched.Stop()
	joined := coord.Stop()
	wg.Wait()

	fmt.Fprintln(out, renderStatus(coord.Status()))
	if runErr != nil {
		return runErr
	}
	if !joined {
		return errors.New("stage loops did not stop within the join timeout")
	}
	return nil
}

func (cc *commandContext) coordinator(p *threat.Pipeline) (*coordinator.Coordinator, error) {
	return coordinator.New(coordinator.Config{
		Steps:        p.Steps(),
		LoopInterval: cc.config.Coordinator.LoopInterval(),
		JoinTimeout:  cc.config.Coordinator.JoinTimeout(),
		Logger:       cc.logger,
		Metrics:      cc.metrics,
	})
}

func acquireLock(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another continuous instance holds %s", path)
	}
	return func() { _ = lock.Unlock() }, nil
}

func backendLabel(b *bus.Bus) string {
	if b.Fallback() {
		return fmt.Sprintf("%s (fallback from %s)", b.Backend(), b.Configured())
	}
	return b.Backend()
}
