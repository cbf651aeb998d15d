package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vnykmshr/pacer/internal/logging"
	"github.com/vnykmshr/pacer/pkg/bus"
	pcerrors "github.com/vnykmshr/pacer/pkg/common/errors"
	"github.com/vnykmshr/pacer/pkg/common/validation"
	"github.com/vnykmshr/pacer/pkg/metrics"
)

// Func is the processing logic of a stage. It turns one input envelope into
// one output envelope or fails.
type Func func(ctx context.Context, in bus.Envelope) (bus.Envelope, error)

// Bus is the subset of *bus.Bus a Runner needs.
type Bus interface {
	Publish(ctx context.Context, channel string, env bus.Envelope) bool
	SubscribeOnce(ctx context.Context, channel string, timeout time.Duration) (bus.Envelope, bool)
}

// Outcome classifies one RunOnce.
type Outcome int

const (
	// NoInput means no message arrived before the timeout.
	NoInput Outcome = iota

	// Failed means the stage function returned an error or panicked.
	Failed

	// Undelivered means the stage succeeded but its output was not published.
	Undelivered

	// Completed means the stage succeeded and its output, if any, was published.
	Completed
)

func (o Outcome) String() string {
	switch o {
	case NoInput:
		return "no_input"
	case Failed:
		return "failed"
	case Undelivered:
		return "undelivered"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Succeeded reports whether the outcome carries a stage output.
func (o Outcome) Succeeded() bool {
	return o == Completed || o == Undelivered
}

// ErrNoOutput is returned when a stage function returns neither output nor error.
var ErrNoOutput = errors.New("stage returned no output")

// Result is the detailed outcome of one RunOnce.
type Result struct {
	// Stage is the runner name.
	Stage string

	// Outcome classifies the run.
	Outcome Outcome

	// Input is the consumed message, nil for NoInput.
	Input bus.Envelope

	// Output is the stage result, nil unless Outcome.Succeeded.
	Output bus.Envelope

	// Err is the stage failure for Failed.
	Err error

	// PipelineID is copied from the input.
	PipelineID string

	// CorrelationID identifies this run in logs and dead letters.
	CorrelationID string

	// Duration covers waiting, processing and publishing.
	Duration time.Duration

	StartTime time.Time
	EndTime   time.Time
}

// Stats holds execution statistics for one runner.
type Stats struct {
	Name            string        `json:"name"`
	Runs            int64         `json:"runs"`
	Completed       int64         `json:"completed"`
	Failed          int64         `json:"failed"`
	Undelivered     int64         `json:"undelivered"`
	Idle            int64         `json:"idle"`
	DeadLettered    int64         `json:"dead_lettered"`
	TotalDuration   time.Duration `json:"-"`
	AverageDuration time.Duration `json:"average_duration_ns"`
	LastRunAt       time.Time     `json:"last_run_at,omitzero"`
	LastOutcome     Outcome       `json:"last_outcome"`
	LastError       string        `json:"last_error,omitempty"`
}

// Config holds runner configuration.
type Config struct {
	// Name identifies the stage in logs, metrics and dead letters.
	Name string

	// Input is the channel the stage consumes.
	Input string

	// Output is the channel results are published to. Empty for a terminal stage.
	Output string

	// DeadLetter receives failed inputs when set. Empty drops them.
	DeadLetter string

	// Func is the stage logic.
	Func Func

	// OnComplete is called after every run that consumed a message.
	OnComplete func(Result)

	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// Runner binds a stage function to its input and output channels.
// It is safe for concurrent use.
type Runner struct {
	config  Config
	bus     Bus
	logger  *slog.Logger
	metrics *metrics.Registry

	mu    sync.Mutex
	stats Stats
}

// NewRunner creates a runner over b.
func NewRunner(b Bus, config Config) (*Runner, error) {
	if b == nil {
		return nil, pcerrors.NewValidationError("stage", "bus", nil, "must not be nil")
	}
	if err := validation.ValidateNotEmpty("stage", "name", config.Name); err != nil {
		return nil, err
	}
	if err := validation.ValidateNotEmpty("stage", "input", config.Input); err != nil {
		return nil, err
	}
	if config.Func == nil {
		return nil, pcerrors.NewValidationError("stage", "func", nil, "must not be nil")
	}
	return &Runner{
		config:  config,
		bus:     b,
		logger:  logging.NewComponentLogger(config.Logger, "stage").With(logging.String(logging.FieldStage, config.Name)),
		metrics: config.Metrics,
		stats:   Stats{Name: config.Name},
	}, nil
}

// Name returns the stage name.
func (r *Runner) Name() string { return r.config.Name }

// Input returns the input channel.
func (r *Runner) Input() string { return r.config.Input }

// Output returns the output channel, "" for a terminal stage.
func (r *Runner) Output() string { return r.config.Output }

// RunOnce consumes at most one message from the input channel, processes it
// and publishes the result. It returns the stage output, or false when no
// message arrived or processing failed. A failed publish still returns the
// output.
func (r *Runner) RunOnce(ctx context.Context, timeout time.Duration) (bus.Envelope, bool) {
	res := r.RunOnceDetailed(ctx, timeout)
	return res.Output, res.Outcome.Succeeded()
}

// RunOnceDetailed is RunOnce with the full Result.
func (r *Runner) RunOnceDetailed(ctx context.Context, timeout time.Duration) Result {
	start := time.Now()
	res := Result{Stage: r.config.Name, StartTime: start}

	in, ok := r.bus.SubscribeOnce(ctx, r.config.Input, timeout)
	if !ok {
		res.Outcome = NoInput
		r.finish(&res)
		r.logger.Debug("no input before timeout",
			logging.String(logging.FieldChannel, r.config.Input),
			logging.Duration("timeout", timeout))
		return res
	}

	res.Input = in
	res.PipelineID = in.PipelineID()
	res.CorrelationID = uuid.NewString()
	log := r.logger.With(
		logging.String(logging.FieldPipelineID, res.PipelineID),
		logging.String(logging.FieldCorrelationID, res.CorrelationID),
	)

	// The message is consumed; finish it even if ctx is canceled now.
	work := context.WithoutCancel(ctx)
	work = logging.WithPipelineID(logging.WithStage(work, r.config.Name), res.PipelineID)

	out, err := r.invoke(work, in)
	if err != nil {
		res.Outcome = Failed
		res.Err = err
		logging.ErrorWithContext(log, "stage failed", "stage_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the input is not retried"))
		r.deadLetter(work, log, &res)
		r.finish(&res)
		return res
	}

	res.Output = out
	res.Outcome = Completed
	if r.config.Output != "" && !r.bus.Publish(work, r.config.Output, out) {
		res.Outcome = Undelivered
		logging.WarnWithContext(log, "stage output undelivered", "stage_undelivered",
			logging.String(logging.FieldChannel, r.config.Output),
			logging.String(logging.FieldImpact, "downstream stages will not see this result"))
	}

	r.finish(&res)
	log.Info("stage completed",
		logging.String("outcome", res.Outcome.String()),
		logging.Duration(logging.FieldDuration, res.Duration))
	return res
}

func (r *Runner) invoke(ctx context.Context, in bus.Envelope) (out bus.Envelope, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("stage panicked: %v", p)
		}
	}()
	out, err = r.config.Func(ctx, in)
	if err == nil && out == nil {
		err = ErrNoOutput
	}
	return out, err
}

func (r *Runner) deadLetter(ctx context.Context, log *slog.Logger, res *Result) {
	if r.config.DeadLetter == "" {
		return
	}
	letter := bus.Envelope{
		"stage":          r.config.Name,
		"error":          res.Err.Error(),
		"pipeline_id":    res.PipelineID,
		"correlation_id": res.CorrelationID,
		"input":          map[string]any(res.Input),
		"failed_at":      time.Now().UTC().Format(time.RFC3339Nano),
	}
	if !r.bus.Publish(ctx, r.config.DeadLetter, letter) {
		logging.WarnWithContext(log, "dead letter undelivered", "stage_dead_letter_failed",
			logging.String(logging.FieldChannel, r.config.DeadLetter),
			logging.String(logging.FieldImpact, "failed input is lost"))
		return
	}
	r.mu.Lock()
	r.stats.DeadLettered++
	r.mu.Unlock()
}

func (r *Runner) finish(res *Result) {
	res.EndTime = time.Now()
	res.Duration = res.EndTime.Sub(res.StartTime)

	r.mu.Lock()
	r.stats.LastOutcome = res.Outcome
	switch res.Outcome {
	case NoInput:
		r.stats.Idle++
	case Failed:
		r.stats.Failed++
		r.stats.LastError = res.Err.Error()
	case Undelivered:
		r.stats.Undelivered++
	case Completed:
		r.stats.Completed++
	}
	if res.Outcome != NoInput {
		r.stats.Runs++
		r.stats.TotalDuration += res.Duration
		r.stats.LastRunAt = res.EndTime
	}
	r.mu.Unlock()

	r.metrics.ObserveStage(r.config.Name, res.Outcome.String(), res.Duration)
	if res.Outcome != NoInput && r.config.OnComplete != nil {
		r.config.OnComplete(*res)
	}
}

// Stats returns a snapshot of the runner statistics.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stats
	if st.Runs > 0 {
		st.AverageDuration = time.Duration(int64(st.TotalDuration) / st.Runs)
	}
	return st
}
