package status_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/agentq/internal/broker"
	"github.com/ramiqadoumi/agentq/internal/broker/memory"
	"github.com/ramiqadoumi/agentq/internal/domain"
	"github.com/ramiqadoumi/agentq/internal/status"
)

// steppingClock returns the queued times in order, then repeats the last.
type steppingClock struct {
	mu    sync.Mutex
	times []time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return t
}

func TestGetStatus_NeverStartedIsOffline(t *testing.T) {
	reg := status.NewRegistry(memory.New())

	s, err := reg.GetStatus(context.Background(), "data")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentOffline, s)

	_, ok, err := reg.GetLastSeen(context.Background(), "data")
	require.NoError(t, err)
	assert.False(t, ok, "never-started agent has no last-seen")
}

func TestSetStatus_RoundTrip(t *testing.T) {
	reg := status.NewRegistry(memory.New())
	ctx := context.Background()

	require.NoError(t, reg.SetStatus(ctx, "data", domain.AgentOnline))
	s, err := reg.GetStatus(ctx, "data")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentOnline, s)

	require.NoError(t, reg.SetStatus(ctx, "data", domain.AgentOffline))
	s, err = reg.GetStatus(ctx, "data")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentOffline, s)
}

func TestTouch_RoundTrip(t *testing.T) {
	at := time.Date(2025, 6, 1, 10, 0, 0, 123456789, time.UTC)
	reg := status.NewRegistry(memory.New(), status.WithClock(func() time.Time { return at }))
	ctx := context.Background()

	stamped, err := reg.Touch(ctx, "data")
	require.NoError(t, err)
	assert.Equal(t, at, stamped)

	got, ok, err := reg.GetLastSeen(ctx, "data")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(got))
}

func TestTouch_NeverGoesBackwards(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	clock := &steppingClock{times: []time.Time{base, base.Add(-time.Minute), base.Add(time.Second)}}
	reg := status.NewRegistry(memory.New(), status.WithClock(clock.Now))
	ctx := context.Background()

	first, err := reg.Touch(ctx, "data")
	require.NoError(t, err)
	second, err := reg.Touch(ctx, "data")
	require.NoError(t, err)
	third, err := reg.Touch(ctx, "data")
	require.NoError(t, err)

	assert.False(t, second.Before(first), "clock skew must not move last-seen backwards")
	assert.True(t, third.After(second))
}

func TestStatusAndLastSeenAreIndependent(t *testing.T) {
	b := memory.New()
	reg := status.NewRegistry(b)
	ctx := context.Background()

	_, err := reg.Touch(ctx, "data")
	require.NoError(t, err)

	s, err := reg.GetStatus(ctx, "data")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentOffline, s, "touch must not set the status flag")
}

func TestGetLastSeen_CorruptValue(t *testing.T) {
	b := memory.New()
	require.NoError(t, b.Set(context.Background(), broker.LastSeenKey("data"), []byte("yesterday"), 0))

	_, _, err := status.NewRegistry(b).GetLastSeen(context.Background(), "data")
	var serr *domain.SerializationError
	assert.ErrorAs(t, err, &serr)
}
