package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/agentq/internal/broker"
	"github.com/ramiqadoumi/agentq/internal/broker/memory"
	"github.com/ramiqadoumi/agentq/internal/domain"
	"github.com/ramiqadoumi/agentq/internal/queue"
)

func newTask(id string) *domain.Task {
	return &domain.Task{
		ID:          id,
		AgentType:   "data",
		Description: "task " + id,
		Priority:    domain.PriorityNormal,
		CreatedAt:   time.Now().UTC(),
		Status:      domain.StatusPending,
	}
}

func TestParseOrder(t *testing.T) {
	o, err := queue.ParseOrder("")
	require.NoError(t, err)
	assert.Equal(t, queue.LIFO, o)

	o, err = queue.ParseOrder("FIFO")
	require.NoError(t, err)
	assert.Equal(t, queue.FIFO, o)

	_, err = queue.ParseOrder("random")
	assert.Error(t, err)
}

func TestPeek_MostRecentFirst(t *testing.T) {
	q := queue.New(memory.New(), queue.LIFO)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newTask("A")))
	require.NoError(t, q.Enqueue(ctx, newTask("B")))

	entries, err := q.Peek(ctx, "data", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "B", entries[0].Task.ID)
	assert.Equal(t, "A", entries[1].Task.ID)

	n, err := q.Length(ctx, "data")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n, "peek must not consume")
}

func TestDequeue_LIFO(t *testing.T) {
	q := queue.New(memory.New(), queue.LIFO)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newTask("A")))
	require.NoError(t, q.Enqueue(ctx, newTask("B")))

	first, found, err := q.DequeueTask(ctx, "data", time.Second)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "B", first.ID)
}

func TestDequeue_FIFO(t *testing.T) {
	q := queue.New(memory.New(), queue.FIFO)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newTask("A")))
	require.NoError(t, q.Enqueue(ctx, newTask("B")))

	first, found, err := q.DequeueTask(ctx, "data", time.Second)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "A", first.ID)
}

func TestDequeue_Timeout(t *testing.T) {
	q := queue.New(memory.New(), queue.LIFO)

	_, found, err := q.Dequeue(context.Background(), "data", 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDequeueTask_Malformed(t *testing.T) {
	b := memory.New()
	q := queue.New(b, queue.LIFO)
	ctx := context.Background()

	require.NoError(t, b.Push(ctx, broker.QueueKey("data"), []byte("{not json")))

	_, found, err := q.DequeueTask(ctx, "data", time.Second)
	assert.True(t, found, "the entry was consumed even though it is malformed")
	var serr *domain.SerializationError
	assert.True(t, errors.As(err, &serr), "expected SerializationError, got %T", err)
}

func TestDecode_RequiresID(t *testing.T) {
	_, err := queue.Decode([]byte(`{"agentType":"data"}`))
	var serr *domain.SerializationError
	assert.ErrorAs(t, err, &serr)
}

func TestPeek_ReportsMalformedEntries(t *testing.T) {
	b := memory.New()
	q := queue.New(b, queue.LIFO)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newTask("A")))
	require.NoError(t, b.Push(ctx, broker.QueueKey("data"), []byte("garbage")))

	entries, err := q.Peek(ctx, "data", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Nil(t, entries[0].Task)
	assert.Error(t, entries[0].Err)
	assert.Equal(t, "garbage", string(entries[0].Raw))
	assert.Equal(t, "A", entries[1].Task.ID)
}

func TestClear(t *testing.T) {
	q := queue.New(memory.New(), queue.LIFO)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, q.Enqueue(ctx, newTask(id)))
	}
	require.NoError(t, q.Clear(ctx, "data"))

	n, err := q.Length(ctx, "data")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPeek_NonPositiveLimit(t *testing.T) {
	q := queue.New(memory.New(), queue.LIFO)
	require.NoError(t, q.Enqueue(context.Background(), newTask("A")))

	entries, err := q.Peek(context.Background(), "data", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
