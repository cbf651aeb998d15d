package memory

import (
	"context"
	"testing"
)

func BenchmarkPushNext(b *testing.B) {
	s := New()
	defer s.Close()
	ctx := context.Background()
	sub, _ := s.Subscribe(ctx, "bench")
	defer sub.Close()
	payload := []byte(`{"host":"web-01","severity":"HIGH"}`)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.Push(ctx, "bench", payload)
		_, _, _ = sub.Next(ctx, 0)
	}
}

func BenchmarkParallelPush(b *testing.B) {
	s := New()
	defer s.Close()
	ctx := context.Background()
	payload := []byte("x")

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = s.Push(ctx, "bench", payload)
		}
	})
}
