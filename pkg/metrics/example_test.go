package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Example_basicUsage demonstrates recording bus activity on an isolated registry.
func Example_basicUsage() {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.ObservePublish("memory", "threat-raw", OutcomeAccepted, time.Millisecond)
	m.ObservePublish("memory", "threat-raw", OutcomeAccepted, time.Millisecond)
	m.ObserveReceive("memory", "threat-raw")

	fmt.Println(testutil.ToFloat64(m.BusPublished.WithLabelValues("memory", "threat-raw", OutcomeAccepted)))
	fmt.Println(testutil.ToFloat64(m.BusReceived.WithLabelValues("memory", "threat-raw")))

	// Output:
	// 2
	// 1
}

// Example_configuration demonstrates the default and disabled configurations.
func Example_configuration() {
	def := DefaultConfig()
	fmt.Printf("Default enabled: %v\n", def.Enabled)
	fmt.Printf("Default namespace: %s\n", def.Namespace)

	disabled := New(Config{Enabled: false})
	fmt.Printf("Disabled registry is nil: %v\n", disabled == nil)

	// Output:
	// Default enabled: true
	// Default namespace: pacer
	// Disabled registry is nil: true
}
