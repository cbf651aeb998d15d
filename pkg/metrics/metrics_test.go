package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry

	r.ObservePublish("memory", "a", OutcomeAccepted, time.Millisecond)
	r.ObserveReceive("memory", "a")
	r.ObserveTimeout("a")
	r.ObserveHandlerFailure("a")
	r.SetFallback("redis", true)
	r.SetPending("a", 3)
	r.ObserveBackpressure("drop", "a")
	r.ObserveStage("analyzer", "completed", time.Millisecond)
	r.ObservePipeline(true)
	r.SetCoordinatorState(1)
	r.AddAbandoned(2)
	r.ObserveTask("demo", false, errors.New("boom"))
	r.ObserveRequest("/status", "200")
}

func TestRegistryRecords(t *testing.T) {
	m := NewRegistry(prometheus.NewRegistry())

	m.SetFallback("redis", true)
	if got := testutil.ToFloat64(m.BusFallback.WithLabelValues("redis")); got != 1 {
		t.Errorf("fallback gauge = %v, want 1", got)
	}
	m.SetFallback("redis", false)
	if got := testutil.ToFloat64(m.BusFallback.WithLabelValues("redis")); got != 0 {
		t.Errorf("fallback gauge = %v, want 0", got)
	}

	m.ObserveTask("demo", true, nil)
	m.ObserveTask("demo", false, nil)
	m.ObserveTask("demo", false, errors.New("boom"))
	if got := testutil.ToFloat64(m.TasksScheduled.WithLabelValues("demo")); got != 1 {
		t.Errorf("scheduled = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TasksExecuted.WithLabelValues("demo")); got != 2 {
		t.Errorf("executed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TasksFailed.WithLabelValues("demo")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}

	m.ObservePipeline(false)
	if got := testutil.ToFloat64(m.PipelineRuns.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed pipeline runs = %v, want 1", got)
	}

	m.AddAbandoned(0)
	m.AddAbandoned(2)
	if got := testutil.ToFloat64(m.AbandonedLoops); got != 2 {
		t.Errorf("abandoned = %v, want 2", got)
	}
}

func TestNewWithNamespaceAndLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{
		Enabled:   true,
		Registry:  reg,
		Namespace: "custom",
		Labels:    prometheus.Labels{"instance": "test"},
	})
	if m == nil {
		t.Fatal("expected registry")
	}

	m.ObserveTimeout("threat-raw")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "custom_bus_subscribe_timeouts_total" {
			found = true
			labels := mf.GetMetric()[0].GetLabel()
			hasInstance := false
			for _, l := range labels {
				if l.GetName() == "instance" && l.GetValue() == "test" {
					hasInstance = true
				}
			}
			if !hasInstance {
				t.Error("constant label not applied")
			}
		}
	}
	if !found {
		t.Error("namespaced metric not registered")
	}
}
