package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every pacer metric.
const DefaultNamespace = "pacer"

// Registry holds all metric instances for pacer components.
type Registry struct {
	// Bus Metrics
	BusPublished       *prometheus.CounterVec
	BusReceived        *prometheus.CounterVec
	BusTimeouts        *prometheus.CounterVec
	BusHandlerFailures *prometheus.CounterVec
	BusFallback        *prometheus.GaugeVec
	ChannelPending     *prometheus.GaugeVec
	BackpressureEvents *prometheus.CounterVec
	PublishDuration    *prometheus.HistogramVec

	// Stage Metrics
	StageRuns     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec

	// Coordinator Metrics
	PipelineRuns     *prometheus.CounterVec
	CoordinatorState prometheus.Gauge
	AbandonedLoops   prometheus.Counter

	// Scheduler Metrics
	TasksScheduled *prometheus.CounterVec
	TasksExecuted  *prometheus.CounterVec
	TasksFailed    *prometheus.CounterVec

	// Admin API Metrics
	APIRequests *prometheus.CounterVec
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return newRegistry(reg, DefaultNamespace)
}

func newRegistry(reg prometheus.Registerer, ns string) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		BusPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "bus",
				Name:      "published_total",
				Help:      "Messages handed to the bus, by outcome",
			},
			[]string{"backend", "channel", "outcome"},
		),

		BusReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "bus",
				Name:      "received_total",
				Help:      "Messages delivered to a subscriber",
			},
			[]string{"backend", "channel"},
		),

		BusTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "bus",
				Name:      "subscribe_timeouts_total",
				Help:      "Single-shot subscriptions that ended without a message",
			},
			[]string{"channel"},
		),

		BusHandlerFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "bus",
				Name:      "handler_failures_total",
				Help:      "Listener handler errors and panics",
			},
			[]string{"channel"},
		),

		BusFallback: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Subsystem: "bus",
				Name:      "fallback",
				Help:      "1 when the configured backend was unavailable and memory is in use",
			},
			[]string{"configured_backend"},
		),

		ChannelPending: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Subsystem: "bus",
				Name:      "channel_pending",
				Help:      "Messages waiting in a channel at last inspection",
			},
			[]string{"channel"},
		),

		BackpressureEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "backpressure",
				Name:      "events_total",
				Help:      "Total number of backpressure events",
			},
			[]string{"strategy", "channel"},
		),

		PublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: "bus",
				Name:      "publish_duration_seconds",
				Help:      "Time spent handing a message to the transport",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend"},
		),

		StageRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "stage",
				Name:      "runs_total",
				Help:      "Stage runner invocations, by outcome",
			},
			[]string{"stage", "outcome"},
		),

		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: "stage",
				Name:      "process_duration_seconds",
				Help:      "Time spent in stage logic for consumed messages",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		PipelineRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "coordinator",
				Name:      "pipeline_runs_total",
				Help:      "Single-pass pipeline runs, by result",
			},
			[]string{"result"},
		),

		CoordinatorState: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Subsystem: "coordinator",
				Name:      "state",
				Help:      "Coordinator lifecycle state (0 idle, 1 running, 2 stopping, 3 stopped)",
			},
		),

		AbandonedLoops: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "coordinator",
				Name:      "abandoned_loops_total",
				Help:      "Stage loops still running when the join timeout expired",
			},
		),

		TasksScheduled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "scheduler",
				Name:      "tasks_scheduled_total",
				Help:      "Total number of tasks scheduled",
			},
			[]string{"scheduler_name"},
		),

		TasksExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "scheduler",
				Name:      "tasks_executed_total",
				Help:      "Total number of tasks executed",
			},
			[]string{"scheduler_name"},
		),

		TasksFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "scheduler",
				Name:      "tasks_failed_total",
				Help:      "Total number of tasks that failed",
			},
			[]string{"scheduler_name"},
		),

		APIRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Admin API requests, by route and status code",
			},
			[]string{"route", "code"},
		),
	}
}

// Publish outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeDropped  = "dropped"
	OutcomeError    = "error"
)

// ObservePublish records one publish attempt.
func (r *Registry) ObservePublish(backend, channel, outcome string, took time.Duration) {
	if r == nil {
		return
	}
	r.BusPublished.WithLabelValues(backend, channel, outcome).Inc()
	r.PublishDuration.WithLabelValues(backend).Observe(took.Seconds())
}

// ObserveReceive records a delivered message.
func (r *Registry) ObserveReceive(backend, channel string) {
	if r == nil {
		return
	}
	r.BusReceived.WithLabelValues(backend, channel).Inc()
}

// ObserveTimeout records a single-shot subscription that expired empty.
func (r *Registry) ObserveTimeout(channel string) {
	if r == nil {
		return
	}
	r.BusTimeouts.WithLabelValues(channel).Inc()
}

// ObserveHandlerFailure records a listener handler error or panic.
func (r *Registry) ObserveHandlerFailure(channel string) {
	if r == nil {
		return
	}
	r.BusHandlerFailures.WithLabelValues(channel).Inc()
}

// SetFallback flags whether the bus runs on the memory fallback.
func (r *Registry) SetFallback(configured string, active bool) {
	if r == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	r.BusFallback.WithLabelValues(configured).Set(v)
}

// SetPending records the number of waiting messages in a channel.
func (r *Registry) SetPending(channel string, n int64) {
	if r == nil {
		return
	}
	r.ChannelPending.WithLabelValues(channel).Set(float64(n))
}

// ObserveBackpressure records a full-channel event handled by strategy.
func (r *Registry) ObserveBackpressure(strategy, channel string) {
	if r == nil {
		return
	}
	r.BackpressureEvents.WithLabelValues(strategy, channel).Inc()
}

// ObserveStage records one stage runner invocation.
func (r *Registry) ObserveStage(stage, outcome string, took time.Duration) {
	if r == nil {
		return
	}
	r.StageRuns.WithLabelValues(stage, outcome).Inc()
	if took > 0 {
		r.StageDuration.WithLabelValues(stage).Observe(took.Seconds())
	}
}

// ObservePipeline records a single-pass pipeline result.
func (r *Registry) ObservePipeline(ok bool) {
	if r == nil {
		return
	}
	result := "failed"
	if ok {
		result = "completed"
	}
	r.PipelineRuns.WithLabelValues(result).Inc()
}

// SetCoordinatorState records the lifecycle state as its ordinal.
func (r *Registry) SetCoordinatorState(state int) {
	if r == nil {
		return
	}
	r.CoordinatorState.Set(float64(state))
}

// AddAbandoned records stage loops that missed the join timeout.
func (r *Registry) AddAbandoned(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.AbandonedLoops.Add(float64(n))
}

// ObserveTask records scheduler activity. Pass scheduled=true when a task is
// added; otherwise err reports the execution result.
func (r *Registry) ObserveTask(scheduler string, scheduled bool, err error) {
	if r == nil {
		return
	}
	if scheduled {
		r.TasksScheduled.WithLabelValues(scheduler).Inc()
		return
	}
	r.TasksExecuted.WithLabelValues(scheduler).Inc()
	if err != nil {
		r.TasksFailed.WithLabelValues(scheduler).Inc()
	}
}

// ObserveRequest records an admin API response.
func (r *Registry) ObserveRequest(route, code string) {
	if r == nil {
		return
	}
	r.APIRequests.WithLabelValues(route, code).Inc()
}
