package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vnykmshr/pacer/internal/logging"
	"github.com/vnykmshr/pacer/pkg/bus"
	pccontext "github.com/vnykmshr/pacer/pkg/common/context"
	pcerrors "github.com/vnykmshr/pacer/pkg/common/errors"
	"github.com/vnykmshr/pacer/pkg/common/validation"
	"github.com/vnykmshr/pacer/pkg/metrics"
	"github.com/vnykmshr/pacer/pkg/stage"
)

// State is the coordinator lifecycle state.
type State int32

const (
	Idle State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ProducerStage is the stage name reported when the producer fails.
const ProducerStage = "producer"

var (
	// ErrRunning is returned when an operation needs the continuous loops
	// to be stopped.
	ErrRunning = errors.New("coordinator is running")

	// ErrNotIdle is returned by Start outside the Idle state.
	ErrNotIdle = errors.New("coordinator already started")

	// ErrSinglePass is returned by Start and RunOnce while a single-mode
	// pass is in progress.
	ErrSinglePass = errors.New("single pass in progress")
)

// Runner is the stage runner contract the coordinator drives.
type Runner interface {
	Name() string
	RunOnceDetailed(ctx context.Context, timeout time.Duration) stage.Result
	Stats() stage.Stats
}

// Producer injects the first message of a pipeline run.
type Producer func(ctx context.Context) error

// Step is one runner and the receive timeout it is driven with.
type Step struct {
	Runner  Runner
	Timeout time.Duration
}

// Config holds coordinator configuration.
type Config struct {
	// Steps run in order in single mode and in parallel in continuous mode.
	Steps []Step

	// LoopInterval is the pause between iterations of a continuous loop.
	LoopInterval time.Duration

	// JoinTimeout bounds how long Stop waits for the loops.
	JoinTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// DefaultConfig returns the default loop interval and join timeout.
func DefaultConfig() Config {
	return Config{
		LoopInterval: 2 * time.Second,
		JoinTimeout:  5 * time.Second,
	}
}

// StageReport is one stage's part of a single-mode run.
type StageReport struct {
	Stage    string
	Outcome  stage.Outcome
	Err      error
	Duration time.Duration
}

// Report is the result of a single-mode run.
type Report struct {
	// OK is true when every stage produced output.
	OK bool

	// FailedStage names the first stage that produced nothing.
	FailedStage string

	// Output is the last stage's output when OK.
	Output bus.Envelope

	// PipelineID is taken from the first consumed message.
	PipelineID string

	Stages   []StageReport
	Duration time.Duration

	// Err is set when the run was refused or a step failed. A stage that
	// received nothing reports an error matching errors.ErrTimeout.
	Err error
}

// Coordinator drives stage runners in single or continuous mode.
type Coordinator struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Registry

	mu        sync.Mutex
	state     State
	single    bool
	cancel    context.CancelFunc
	loops     []*loop
	startedAt time.Time
	runs      int64
	succeeded int64
	abandoned []string
}

type loop struct {
	name string
	done chan struct{}
}

// New creates a coordinator in the Idle state.
func New(config Config) (*Coordinator, error) {
	d := DefaultConfig()
	if config.LoopInterval == 0 {
		config.LoopInterval = d.LoopInterval
	}
	if config.JoinTimeout == 0 {
		config.JoinTimeout = d.JoinTimeout
	}
	if len(config.Steps) == 0 {
		return nil, pcerrors.NewValidationError("coordinator", "steps", 0, "at least one stage is required")
	}
	for i, step := range config.Steps {
		if step.Runner == nil {
			return nil, pcerrors.NewValidationError("coordinator", fmt.Sprintf("steps[%d].runner", i), nil, "must not be nil")
		}
		if err := validation.ValidatePositiveDuration("coordinator", step.Runner.Name()+".timeout", step.Timeout); err != nil {
			return nil, err
		}
	}
	if err := validation.ValidatePositiveDuration("coordinator", "loop_interval", config.LoopInterval); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositiveDuration("coordinator", "join_timeout", config.JoinTimeout); err != nil {
		return nil, err
	}

	c := &Coordinator{
		config:  config,
		logger:  logging.NewComponentLogger(config.Logger, "coordinator"),
		metrics: config.Metrics,
	}
	c.metrics.SetCoordinatorState(int(Idle))
	return c, nil
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.state = s
	c.metrics.SetCoordinatorState(int(s))
}

// RunOnce runs one pipeline pass in the caller's goroutine: the producer, if
// any, then each stage in order. The first stage that yields nothing ends the
// run. It is refused while the continuous loops are running.
func (c *Coordinator) RunOnce(ctx context.Context, producer Producer) Report {
	c.mu.Lock()
	switch {
	case c.state == Running || c.state == Stopping:
		c.mu.Unlock()
		return Report{Err: ErrRunning}
	case c.single:
		c.mu.Unlock()
		return Report{Err: ErrSinglePass}
	}
	c.single = true
	c.mu.Unlock()

	start := time.Now()
	var report Report
	defer func() {
		report.Duration = time.Since(start)
		c.record(report)
		c.mu.Lock()
		c.single = false
		c.mu.Unlock()
	}()

	if producer != nil {
		if err := producer(ctx); err != nil {
			report.FailedStage = ProducerStage
			report.Err = err
			logging.ErrorWithContext(c.logger, "pipeline failed", "pipeline_failed",
				logging.String(logging.FieldStage, ProducerStage),
				logging.Error(err))
			return report
		}
	}

	for _, step := range c.config.Steps {
		res := step.Runner.RunOnceDetailed(ctx, step.Timeout)
		stepErr := res.Err
		if res.Outcome == stage.NoInput {
			stepErr = noInputError(ctx, step)
		}
		report.Stages = append(report.Stages, StageReport{
			Stage:    step.Runner.Name(),
			Outcome:  res.Outcome,
			Err:      stepErr,
			Duration: res.Duration,
		})
		if report.PipelineID == "" {
			report.PipelineID = res.PipelineID
		}
		if !res.Outcome.Succeeded() {
			report.FailedStage = step.Runner.Name()
			report.Err = stepErr
			logging.ErrorWithContext(c.logger, "pipeline failed", "pipeline_failed",
				logging.String(logging.FieldStage, report.FailedStage),
				logging.String(logging.FieldPipelineID, report.PipelineID),
				logging.String("outcome", res.Outcome.String()),
				logging.String(logging.FieldErrorHint, hint(res.Outcome)))
			return report
		}
		report.Output = res.Output
	}

	report.OK = true
	c.logger.Info("pipeline completed",
		logging.String(logging.FieldPipelineID, report.PipelineID),
		logging.Duration(logging.FieldDuration, time.Since(start)))
	return report
}

func noInputError(ctx context.Context, step Step) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: no message within %s", pcerrors.ErrTimeout, step.Timeout)
}

func hint(o stage.Outcome) string {
	if o == stage.NoInput {
		return "no message arrived before the stage timeout; check the upstream stage"
	}
	return "see the stage error above"
}

func (c *Coordinator) record(r Report) {
	if errors.Is(r.Err, ErrRunning) || errors.Is(r.Err, ErrSinglePass) {
		return
	}
	c.mu.Lock()
	c.runs++
	if r.OK {
		c.succeeded++
	}
	c.mu.Unlock()
	c.metrics.ObservePipeline(r.OK)
}

// Start launches one loop per step. Each loop runs its stage once, then
// sleeps the loop interval, until Stop or ctx cancellation.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return fmt.Errorf("%w (state %s)", ErrNotIdle, c.state)
	}
	if c.single {
		return ErrSinglePass
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.startedAt = time.Now()
	c.loops = make([]*loop, 0, len(c.config.Steps))
	for _, step := range c.config.Steps {
		l := &loop{name: step.Runner.Name(), done: make(chan struct{})}
		c.loops = append(c.loops, l)
		go c.run(loopCtx, step, l)
	}
	c.setState(Running)
	c.logger.Info("continuous mode started",
		logging.Int("stages", len(c.loops)),
		logging.Duration("loop_interval", c.config.LoopInterval))
	return nil
}

func (c *Coordinator) run(ctx context.Context, step Step, l *loop) {
	defer close(l.done)
	log := c.logger.With(logging.String(logging.FieldStage, l.name))
	log.Debug("stage loop started")
	for ctx.Err() == nil {
		step.Runner.RunOnceDetailed(ctx, step.Timeout)
		if !pccontext.SleepOrDone(ctx, c.config.LoopInterval) {
			break
		}
	}
	log.Debug("stage loop exited")
}

// Stop cancels the loops and waits up to the join timeout for them to exit.
// Loops still inside a stage function are left behind and logged. It returns
// true when every loop exited. Stop outside Running returns true.
func (c *Coordinator) Stop() bool {
	c.mu.Lock()
	if c.state != Running {
		c.mu.Unlock()
		return true
	}
	c.setState(Stopping)
	cancel, loops := c.cancel, c.loops
	c.mu.Unlock()

	c.logger.Info("stopping", logging.Duration("join_timeout", c.config.JoinTimeout))
	cancel()

	deadline := time.NewTimer(c.config.JoinTimeout)
	defer deadline.Stop()

wait:
	for _, l := range loops {
		select {
		case <-l.done:
		case <-deadline.C:
			break wait
		}
	}
	var abandoned []string
	for _, l := range loops {
		select {
		case <-l.done:
		default:
			abandoned = append(abandoned, l.name)
		}
	}

	c.mu.Lock()
	c.abandoned = abandoned
	c.setState(Stopped)
	c.mu.Unlock()

	if len(abandoned) > 0 {
		c.metrics.AddAbandoned(len(abandoned))
		logging.WarnWithContext(c.logger, "stage loops did not exit before the join timeout", "coordinator_abandoned",
			logging.Any("stages", abandoned),
			logging.String(logging.FieldImpact, "abandoned loops finish their current message in the background"))
		return false
	}
	c.logger.Info("stopped")
	return true
}

// StageStatus is one runner's view in Status.
type StageStatus struct {
	Name  string      `json:"name"`
	Stats stage.Stats `json:"stats"`
}

// Status is a snapshot of the coordinator.
type Status struct {
	State     string        `json:"state"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	Runs      int64         `json:"runs"`
	Succeeded int64         `json:"succeeded"`
	Abandoned []string      `json:"abandoned,omitempty"`
	Stages    []StageStatus `json:"stages"`
}

// Status returns the current state and per-stage statistics.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	st := Status{
		State:     c.state.String(),
		StartedAt: c.startedAt,
		Runs:      c.runs,
		Succeeded: c.succeeded,
		Abandoned: append([]string(nil), c.abandoned...),
	}
	c.mu.Unlock()

	for _, step := range c.config.Steps {
		st.Stages = append(st.Stages, StageStatus{Name: step.Runner.Name(), Stats: step.Runner.Stats()})
	}
	return st
}
