//go:build integration

package integration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/agentq/internal/broker"
	"github.com/ramiqadoumi/agentq/internal/domain"
	"github.com/ramiqadoumi/agentq/internal/queue"
	redisbroker "github.com/ramiqadoumi/agentq/internal/redis"
	"github.com/ramiqadoumi/agentq/internal/result"
	"github.com/ramiqadoumi/agentq/internal/status"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// newBroker returns a broker on the test container and flushes the database
// on cleanup so tests don't interfere with each other.
func newBroker(t *testing.T) *redisbroker.Broker {
	t.Helper()
	client, err := redisbroker.NewClient(testBrokerURL)
	require.NoError(t, err)
	b := redisbroker.NewBroker(client, discardLogger)
	t.Cleanup(func() {
		client.FlushDB(context.Background()) //nolint:errcheck
		b.Close()                            //nolint:errcheck
	})
	return b
}

func TestRedis_QueueOrder(t *testing.T) {
	b := newBroker(t)
	ctx := context.Background()

	for _, order := range []queue.Order{queue.LIFO, queue.FIFO} {
		q := queue.New(b, order)
		require.NoError(t, q.Enqueue(ctx, &domain.Task{ID: "A", AgentType: "data"}))
		require.NoError(t, q.Enqueue(ctx, &domain.Task{ID: "B", AgentType: "data"}))

		first, found, err := q.DequeueTask(ctx, "data", time.Second)
		require.NoError(t, err)
		require.True(t, found)
		if order == queue.LIFO {
			assert.Equal(t, "B", first.ID)
		} else {
			assert.Equal(t, "A", first.ID)
		}
		require.NoError(t, q.Clear(ctx, "data"))
	}
}

func TestRedis_BlockingPopTimesOut(t *testing.T) {
	b := newBroker(t)

	start := time.Now()
	_, found, err := b.BlockingPop(context.Background(), broker.QueueKey("empty"), time.Second, broker.Head)
	require.NoError(t, err)
	assert.False(t, found)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestRedis_ResultExpires(t *testing.T) {
	b := newBroker(t)
	ctx := context.Background()
	store := result.NewStore(b, time.Second)

	res := domain.NewResult(domain.Task{ID: "exp-1", AgentType: "data", Status: domain.StatusProcessing}, time.Now().UTC())
	require.NoError(t, res.Complete(nil, time.Now().UTC()))
	require.NoError(t, store.Save(ctx, res))

	_, err := store.Get(ctx, "exp-1")
	require.NoError(t, err)

	ttl, err := b.Client().TTL(ctx, broker.ResultKey("exp-1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.Eventually(t, func() bool {
		_, err := store.Get(ctx, "exp-1")
		var nf *domain.TaskNotFoundError
		return errors.As(err, &nf)
	}, 5*time.Second, 100*time.Millisecond)
}

func TestRedis_StatusRegistry(t *testing.T) {
	b := newBroker(t)
	ctx := context.Background()
	reg := status.NewRegistry(b)

	st, err := reg.GetStatus(ctx, "data")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentOffline, st)

	_, ok, err := reg.GetLastSeen(ctx, "data")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, reg.SetStatus(ctx, "data", domain.AgentOnline))
	at, err := reg.Touch(ctx, "data")
	require.NoError(t, err)

	got, ok, err := reg.GetLastSeen(ctx, "data")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(got))
}

func TestRedis_PubSub(t *testing.T) {
	b := newBroker(t)
	ctx := context.Background()

	got := make(chan []byte, 1)
	sub, err := b.Subscribe(ctx, broker.NotificationKey("data"), func(p []byte) { got <- p })
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, broker.NotificationKey("data"), []byte("hello")))
	select {
	case p := <-got:
		assert.Equal(t, "hello", string(p))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestRedis_RateLimiter(t *testing.T) {
	b := newBroker(t)
	ctx := context.Background()
	limiter := redisbroker.NewRateLimiter(b.Client(), 2, time.Minute)

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "data")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, "data")
	require.NoError(t, err)
	assert.False(t, ok)
}
