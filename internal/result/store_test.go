package result_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/agentq/internal/broker/memory"
	"github.com/ramiqadoumi/agentq/internal/domain"
	"github.com/ramiqadoumi/agentq/internal/result"
)

func completed(t *testing.T, id string) *domain.Result {
	t.Helper()
	task := domain.Task{ID: id, AgentType: "data", Status: domain.StatusPending}
	require.NoError(t, task.Transition(domain.StatusProcessing))
	res := domain.NewResult(task, time.Now().UTC())
	require.NoError(t, res.Complete(json.RawMessage(`{"rows":3}`), time.Now().UTC()))
	return res
}

func TestNewStore_DefaultTTL(t *testing.T) {
	assert.Equal(t, result.DefaultTTL, result.NewStore(memory.New(), 0).TTL())
	assert.Equal(t, 24*time.Hour, result.DefaultTTL)
}

func TestSaveGet_RoundTrip(t *testing.T) {
	store := result.NewStore(memory.New(), time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, completed(t, "t-1")))

	got, err := store.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"rows":3}`, string(got.Output))
	assert.Empty(t, got.Error)
}

func TestGet_Missing(t *testing.T) {
	store := result.NewStore(memory.New(), time.Hour)

	_, err := store.Get(context.Background(), "nope")
	var nf *domain.TaskNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.TaskID)
}

func TestResult_ExpiresAfterRetention(t *testing.T) {
	var now atomic.Int64
	now.Store(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	b := memory.New(memory.WithClock(func() time.Time { return time.Unix(0, now.Load()) }))
	store := result.NewStore(b, 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, completed(t, "t-exp")))

	_, err := store.Get(ctx, "t-exp")
	require.NoError(t, err, "retrievable immediately after completion")

	now.Add(int64(50 * time.Millisecond))

	_, err = store.Get(ctx, "t-exp")
	var nf *domain.TaskNotFoundError
	assert.ErrorAs(t, err, &nf, "absent once the retention window has elapsed")
}
