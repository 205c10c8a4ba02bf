package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ramiqadoumi/agentq/internal/broker/memory"
	"github.com/ramiqadoumi/agentq/internal/domain"
	"github.com/ramiqadoumi/agentq/internal/handlers"
)

func noopHandler() handlers.Handler {
	return handlers.HandlerFunc{HandlerName: "noop", Fn: func(context.Context, *domain.Task) (json.RawMessage, error) {
		return nil, nil
	}}
}

// BenchmarkWorker_Process measures the engine cost of one task with a no-op
// handler: decode, transition, result write and sink fan-out.
func BenchmarkWorker_Process(b *testing.B) {
	w := newTestWorker(memory.New(), noopHandler(), WithSinks(&fakeSink{}))
	raw, err := json.Marshal(newTask("bench-task", "noop"))
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := w.process(ctx, raw); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkWorker_Process_Parallel measures result writes under contention
// on one broker.
func BenchmarkWorker_Process_Parallel(b *testing.B) {
	br := memory.New()
	raw, err := json.Marshal(newTask("bench-task", "noop"))
	if err != nil {
		b.Fatal(err)
	}

	b.RunParallel(func(pb *testing.PB) {
		w := newTestWorker(br, noopHandler())
		ctx := context.Background()
		for pb.Next() {
			_ = w.process(ctx, raw)
		}
	})
}

// BenchmarkWorker_ProcessMalformed measures the failure path for entries
// that cannot be decoded.
func BenchmarkWorker_ProcessMalformed(b *testing.B) {
	w := newTestWorker(memory.New(), noopHandler())
	raw := []byte(`{"id":"bad","createdAt":"never"}`)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = w.process(ctx, raw)
	}
}
