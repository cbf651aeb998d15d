// Package metrics provides Prometheus instrumentation for pacer components.
//
// A Registry groups the collectors for the message bus, stage runners, the
// pipeline coordinator, the trigger scheduler and the admin API. Components
// accept a *Registry and call its Observe/Set helpers; a nil *Registry is
// valid and records nothing, so metrics stay optional everywhere.
//
// There is no package-level default registry. Build one explicitly:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.NewRegistry(reg)
//	b, err := bus.Open(ctx, bus.Config{Backend: "redis", Metrics: m})
//
// and expose it with promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).
//
// # Available Metrics
//
//   - pacer_bus_published_total{backend,channel,outcome}
//   - pacer_bus_received_total{backend,channel}
//   - pacer_bus_subscribe_timeouts_total{channel}
//   - pacer_bus_handler_failures_total{channel}
//   - pacer_bus_fallback{configured_backend}
//   - pacer_bus_channel_pending{channel}
//   - pacer_bus_publish_duration_seconds{backend}
//   - pacer_backpressure_events_total{strategy,channel}
//   - pacer_stage_runs_total{stage,outcome}
//   - pacer_stage_process_duration_seconds{stage}
//   - pacer_coordinator_pipeline_runs_total{result}
//   - pacer_coordinator_state
//   - pacer_coordinator_abandoned_loops_total
//   - pacer_scheduler_tasks_{scheduled,executed,failed}_total{scheduler_name}
//   - pacer_api_requests_total{route,code}
package metrics
