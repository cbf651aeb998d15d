package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vnykmshr/pacer/internal/logging"
	"github.com/vnykmshr/pacer/pkg/metrics"
)

// Task is a unit of scheduled work.
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) error

// Execute implements Task.
func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

// BackoffTask retries a task with exponential backoff.
type BackoffTask struct {
	Task         Task
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// RetryIf limits retries to matching errors. Nil retries every error.
	RetryIf func(error) bool
}

// Execute implements Task.
func (bt BackoffTask) Execute(ctx context.Context) error {
	var lastErr error
	delay := bt.InitialDelay

	for attempt := 0; attempt <= bt.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = bt.Task.Execute(ctx)
		if lastErr == nil {
			return nil
		}
		if bt.RetryIf != nil && !bt.RetryIf(lastErr) {
			return lastErr
		}

		delay *= 2
		if delay > bt.MaxDelay {
			delay = bt.MaxDelay
		}
	}
	return lastErr
}

// Entry describes a scheduled task.
type Entry struct {
	ID       string
	RunAt    time.Time
	Interval time.Duration // zero for one-time and cron tasks
	Cron     string
	Created  time.Time
	Runs     int64
}

// Config holds scheduler configuration.
type Config struct {
	// Name labels metrics and logs.
	Name string

	// Location evaluates cron expressions. Defaults to time.Local.
	Location *time.Location

	// TickInterval is how often ready tasks are checked (default 50ms).
	TickInterval time.Duration

	// MaxTasks bounds the number of scheduled tasks (default 10000).
	MaxTasks int

	// MaxConcurrent bounds concurrently executing tasks (default 4).
	MaxConcurrent int

	Logger  *slog.Logger
	Metrics *metrics.Registry
}

type scheduledTask struct {
	id           string
	task         Task
	runAt        time.Time
	interval     time.Duration
	cronExpr     string
	cronSchedule cron.Schedule
	created      time.Time
	runs         int64
}

// Scheduler runs tasks at a time, after a delay, on an interval or on a
// cron schedule (with seconds).
type Scheduler struct {
	name         string
	location     *time.Location
	tickInterval time.Duration
	maxTasks     int
	cronParser   cron.Parser
	logger       *slog.Logger
	metrics      *metrics.Registry
	sem          chan struct{}

	mu      sync.RWMutex
	tasks   map[string]*scheduledTask
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	stopped bool
	wg      sync.WaitGroup
}

// New creates a scheduler with default configuration.
func New() *Scheduler {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a scheduler with custom configuration.
func NewWithConfig(cfg Config) *Scheduler {
	name := cfg.Name
	if name == "" {
		name = "default"
	}
	location := cfg.Location
	if location == nil {
		location = time.Local
	}
	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = 50 * time.Millisecond
	}
	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 10000
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	return &Scheduler{
		name:         name,
		location:     location,
		tickInterval: tickInterval,
		maxTasks:     maxTasks,
		cronParser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:       logging.NewComponentLogger(cfg.Logger, "scheduler").With(logging.String("scheduler", name)),
		metrics:      cfg.Metrics,
		sem:          make(chan struct{}, maxConcurrent),
		tasks:        make(map[string]*scheduledTask),
		done:         make(chan struct{}),
	}
}

func validateTask(id string, task Task) error {
	if id == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if len(id) > 255 {
		return fmt.Errorf("task ID too long (max 255 characters)")
	}
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}
	return nil
}

func (s *Scheduler) add(t *scheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.id]; exists {
		return fmt.Errorf("task with ID %q already exists, use a different ID or cancel the existing task first", t.id)
	}
	if len(s.tasks) >= s.maxTasks {
		return fmt.Errorf("cannot schedule task: maximum number of tasks (%d) reached", s.maxTasks)
	}
	s.tasks[t.id] = t
	s.metrics.ObserveTask(s.name, true, nil)
	return nil
}

// Schedule runs task once at runAt.
func (s *Scheduler) Schedule(id string, task Task, runAt time.Time) error {
	if err := validateTask(id, task); err != nil {
		return err
	}
	if runAt.IsZero() {
		return fmt.Errorf("task run time cannot be zero")
	}
	return s.add(&scheduledTask{id: id, task: task, runAt: runAt, created: time.Now()})
}

// ScheduleAfter runs task once after delay.
func (s *Scheduler) ScheduleAfter(id string, task Task, delay time.Duration) error {
	return s.Schedule(id, task, time.Now().Add(delay))
}

// ScheduleRepeating runs task now and then every interval.
func (s *Scheduler) ScheduleRepeating(id string, task Task, interval time.Duration) error {
	if err := validateTask(id, task); err != nil {
		return err
	}
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", interval)
	}
	now := time.Now()
	return s.add(&scheduledTask{id: id, task: task, runAt: now, interval: interval, created: now})
}

// ScheduleCron runs task on a cron schedule. Expressions take five or six
// fields (leading seconds optional) or a descriptor such as @every 30s.
func (s *Scheduler) ScheduleCron(id string, cronExpr string, task Task) error {
	if err := validateTask(id, task); err != nil {
		return err
	}
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	schedule, err := s.cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return s.add(&scheduledTask{
		id:           id,
		task:         task,
		runAt:        schedule.Next(time.Now().In(s.location)),
		cronExpr:     cronExpr,
		cronSchedule: schedule,
		created:      time.Now(),
	})
}

// ValidateCron checks a cron expression without scheduling it.
func (s *Scheduler) ValidateCron(cronExpr string) error {
	_, err := s.cronParser.Parse(cronExpr)
	return err
}

// Cancel removes a task. It reports whether the task existed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[id]; exists {
		delete(s.tasks, id)
		return true
	}
	return false
}

// CancelAll removes every task.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]*scheduledTask)
}

// Pending returns the number of scheduled tasks.
func (s *Scheduler) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// List returns scheduled tasks ordered by next run time.
func (s *Scheduler) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.tasks))
	for _, t := range s.tasks {
		entries = append(entries, Entry{
			ID:       t.id,
			RunAt:    t.runAt,
			Interval: t.interval,
			Cron:     t.cronExpr,
			Created:  t.created,
			Runs:     t.runs,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RunAt.Before(entries[j].RunAt)
	})
	return entries
}

// Start begins dispatching tasks. Tasks receive a context derived from ctx
// that is canceled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running, call Stop() first")
	}
	if s.stopped {
		return fmt.Errorf("scheduler was stopped and cannot be restarted")
	}

	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
	return nil
}

// Stop halts dispatching, cancels running tasks and returns a channel that
// is closed once they have returned.
func (s *Scheduler) Stop() <-chan struct{} {
	s.mu.Lock()
	if s.running {
		s.running = false
		s.stopped = true
		close(s.done)
		s.cancel()
	}
	s.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		s.wg.Wait()
	}()
	return stopped
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.processReadyTasks()
		}
	}
}

func (s *Scheduler) processReadyTasks() {
	now := time.Now()

	s.mu.Lock()
	if len(s.tasks) == 0 {
		s.mu.Unlock()
		return
	}

	ready := make([]*scheduledTask, 0, len(s.tasks))
	for id, t := range s.tasks {
		if now.Before(t.runAt) {
			continue
		}
		ready = append(ready, t)
		t.runs++
		switch {
		case t.interval > 0:
			t.runAt = now.Add(t.interval)
		case t.cronSchedule != nil:
			t.runAt = t.cronSchedule.Next(now.In(s.location))
		default:
			delete(s.tasks, id)
		}
	}
	ctx := s.ctx
	s.mu.Unlock()

	for _, t := range ready {
		s.wg.Add(1)
		go s.execute(ctx, t.id, t.task)
	}
}

func (s *Scheduler) execute(ctx context.Context, id string, task Task) {
	defer s.wg.Done()

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return
	}

	log := s.logger.With(logging.String("task", id))
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return task.Execute(ctx)
	}()
	s.metrics.ObserveTask(s.name, false, err)
	if err != nil {
		logging.WarnWithContext(log, "scheduled task failed", "scheduler_task_failed", logging.Error(err))
		return
	}
	log.Debug("scheduled task executed")
}
