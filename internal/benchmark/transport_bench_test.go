package benchmark

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/vnykmshr/pacer/pkg/bus"
	"github.com/vnykmshr/pacer/pkg/transport"
	"github.com/vnykmshr/pacer/pkg/transport/memory"
	"github.com/vnykmshr/pacer/pkg/transport/redisstore"
	"github.com/vnykmshr/pacer/pkg/transport/sqlitestore"
)

type storeFactory struct {
	name string
	open func(b *testing.B) transport.Store
}

func queueStores() []storeFactory {
	return []storeFactory{
		{"memory", func(b *testing.B) transport.Store {
			return memory.New()
		}},
		{"redis", func(b *testing.B) transport.Store {
			mr := miniredis.RunT(b)
			cfg := redisstore.DefaultConfig()
			cfg.URL = "redis://" + mr.Addr()
			s, err := redisstore.New(context.Background(), cfg)
			if err != nil {
				b.Fatalf("redis store: %v", err)
			}
			return s
		}},
		{"sqlite", func(b *testing.B) transport.Store {
			cfg := sqlitestore.DefaultConfig()
			cfg.Path = filepath.Join(b.TempDir(), "queue.db")
			s, err := sqlitestore.Open(context.Background(), cfg)
			if err != nil {
				b.Fatalf("sqlite store: %v", err)
			}
			return s
		}},
	}
}

// BenchmarkStorePush measures publish cost per backend.
func BenchmarkStorePush(b *testing.B) {
	payload := []byte(`{"host":"srv-finance-01","severity":"CRITICAL","pipeline_id":"pipe-bench"}`)
	for _, f := range queueStores() {
		b.Run(f.name, func(b *testing.B) {
			s := f.open(b)
			defer func() { _ = s.Close() }()
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := s.Push(ctx, "bench", payload); err != nil {
					b.Fatalf("push: %v", err)
				}
			}
		})
	}
}

// BenchmarkStoreRoundTrip measures push followed by a consuming Next.
func BenchmarkStoreRoundTrip(b *testing.B) {
	payload := []byte(`{"n":1}`)
	for _, f := range queueStores() {
		b.Run(f.name, func(b *testing.B) {
			s := f.open(b)
			defer func() { _ = s.Close() }()
			ctx := context.Background()

			sub, err := s.Subscribe(ctx, "bench")
			if err != nil {
				b.Fatalf("subscribe: %v", err)
			}
			defer func() { _ = sub.Close() }()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := s.Push(ctx, "bench", payload); err != nil {
					b.Fatalf("push: %v", err)
				}
				if _, ok, err := sub.Next(ctx, time.Second); err != nil || !ok {
					b.Fatalf("next: ok=%v err=%v", ok, err)
				}
			}
		})
	}
}

// BenchmarkBusFanIn measures bus throughput with several publishers and one
// consumer on a bounded memory store.
func BenchmarkBusFanIn(b *testing.B) {
	for _, capacity := range []int{10, 100, 1000} {
		b.Run("capacity_"+strconv.Itoa(capacity), func(b *testing.B) {
			store, err := memory.NewWithConfig(memory.Config{Capacity: capacity, Strategy: memory.Block})
			if err != nil {
				b.Fatal(err)
			}
			bb := bus.New(store)
			defer func() { _ = bb.Close() }()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = bb.Listen(ctx, "bench", func(context.Context, bus.Envelope) error { return nil })
			}()

			env := bus.Envelope{"pipeline_id": "pipe-bench"}
			b.ReportAllocs()
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					bb.Publish(ctx, "bench", env)
				}
			})
			b.StopTimer()

			cancel()
			<-done
		})
	}
}
