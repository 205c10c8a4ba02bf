// Package status tracks per-agent-type liveness: a coarse online/offline flag
// and a last-seen heartbeat, stored as two independent keys.
package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ramiqadoumi/agentq/internal/broker"
	"github.com/ramiqadoumi/agentq/internal/domain"
)

// Registry reads and writes agent status records. The two fields are never
// written atomically together; readers may see online with a stale last-seen.
type Registry struct {
	kv  broker.KV
	now func() time.Time

	mu       sync.Mutex
	lastSeen map[domain.AgentType]time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the heartbeat time source.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// NewRegistry returns a Registry over kv.
func NewRegistry(kv broker.KV, opts ...Option) *Registry {
	r := &Registry{
		kv:       kv,
		now:      time.Now,
		lastSeen: make(map[domain.AgentType]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetStatus writes the online/offline flag.
func (r *Registry) SetStatus(ctx context.Context, agentType domain.AgentType, s domain.AgentStatus) error {
	return r.kv.Set(ctx, broker.StatusKey(agentType), []byte(s), 0)
}

// Touch stamps last-seen with the current time and returns the stamp. Stamps
// written by one Registry never go backwards, even if the wall clock does.
func (r *Registry) Touch(ctx context.Context, agentType domain.AgentType) (time.Time, error) {
	r.mu.Lock()
	at := r.now().UTC()
	if prev := r.lastSeen[agentType]; at.Before(prev) {
		at = prev
	}
	r.lastSeen[agentType] = at
	r.mu.Unlock()

	if err := r.kv.Set(ctx, broker.LastSeenKey(agentType), []byte(at.Format(time.RFC3339Nano)), 0); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// GetStatus reads the flag. A missing record reads as offline.
func (r *Registry) GetStatus(ctx context.Context, agentType domain.AgentType) (domain.AgentStatus, error) {
	v, found, err := r.kv.Get(ctx, broker.StatusKey(agentType))
	if err != nil {
		return "", err
	}
	if !found {
		return domain.AgentOffline, nil
	}
	return domain.AgentStatus(v), nil
}

// GetLastSeen reads the heartbeat. ok is false when the agent was never seen.
func (r *Registry) GetLastSeen(ctx context.Context, agentType domain.AgentType) (at time.Time, ok bool, err error) {
	v, found, err := r.kv.Get(ctx, broker.LastSeenKey(agentType))
	if err != nil || !found {
		return time.Time{}, false, err
	}
	at, err = time.Parse(time.RFC3339Nano, string(v))
	if err != nil {
		return time.Time{}, false, &domain.SerializationError{
			Err: fmt.Errorf("last_seen for %s: %w", agentType, err),
		}
	}
	return at, true, nil
}
