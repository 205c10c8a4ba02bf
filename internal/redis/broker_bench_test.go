package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/agentq/internal/broker"
)

// newBenchBroker returns a Broker connected to localhost:6379.
// Benchmarks are skipped if Redis is not reachable.
func newBenchBroker(b *testing.B) *Broker {
	b.Helper()
	c := redis.NewClient(&redis.Options{
		Addr:         "localhost:6379",
		DialTimeout:  1 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	if err := c.Ping(context.Background()).Err(); err != nil {
		b.Skipf("Redis not available at localhost:6379: %v", err)
	}
	br := NewBroker(c, nil)
	b.Cleanup(func() { _ = br.Close() })
	return br
}

// BenchmarkBroker_PushPop measures one enqueue plus one blocking dequeue.
func BenchmarkBroker_PushPop(b *testing.B) {
	br := newBenchBroker(b)
	ctx := context.Background()
	const key = "bench:tasks"
	payload := []byte(`{"id":"bench","agentType":"data","status":"pending"}`)
	b.Cleanup(func() { _ = br.Del(ctx, key) })

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := br.Push(ctx, key, payload); err != nil {
			b.Fatal(err)
		}
		if _, _, err := br.BlockingPop(ctx, key, time.Second, broker.Head); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkBroker_SetWithTTL measures a result write.
func BenchmarkBroker_SetWithTTL(b *testing.B) {
	br := newBenchBroker(b)
	ctx := context.Background()
	value := []byte(`{"id":"bench","status":"completed"}`)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := br.Set(ctx, "bench:result", value, time.Minute); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkBroker_Set_Parallel stresses concurrent heartbeat writes.
func BenchmarkBroker_Set_Parallel(b *testing.B) {
	br := newBenchBroker(b)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := br.Set(ctx, "bench:last_seen", []byte(time.Now().UTC().Format(time.RFC3339Nano)), 0); err != nil {
				b.Fatal(err)
			}
		}
	})
}
