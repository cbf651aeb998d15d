package bus_test

import (
	"context"
	"fmt"
	"time"

	"github.com/vnykmshr/pacer/pkg/bus"
	"github.com/vnykmshr/pacer/pkg/transport/memory"
)

func ExampleBus_SubscribeOnce() {
	b := bus.New(memory.New())
	defer b.Close()
	ctx := context.Background()

	b.Publish(ctx, "threat-raw", bus.Envelope{"host": "10.0.0.50", "severity": "HIGH"})

	env, ok := b.SubscribeOnce(ctx, "threat-raw", time.Second)
	fmt.Println(ok, env.String("host"), env.String("severity"))

	_, ok = b.SubscribeOnce(ctx, "threat-raw", 10*time.Millisecond)
	fmt.Println(ok)

	// Output:
	// true 10.0.0.50 HIGH
	// false
}

func ExampleOpen() {
	b, err := bus.Open(context.Background(), bus.Config{Backend: bus.BackendMemory})
	if err != nil {
		fmt.Println(err)
		return
	}
	defer b.Close()

	fmt.Println(b.Backend(), b.Fallback())

	// Output:
	// memory false
}
