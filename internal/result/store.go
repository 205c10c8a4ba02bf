// Package result persists task outcomes with a bounded lifetime.
package result

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ramiqadoumi/agentq/internal/broker"
	"github.com/ramiqadoumi/agentq/internal/domain"
)

// DefaultTTL is how long a result record survives before the broker drops it.
const DefaultTTL = 24 * time.Hour

// Store reads and writes result records at task:<id>.
type Store struct {
	kv  broker.KV
	ttl time.Duration
}

// NewStore returns a Store. A non-positive ttl falls back to DefaultTTL.
func NewStore(kv broker.KV, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, ttl: ttl}
}

// TTL is the retention window applied on Save.
func (s *Store) TTL() time.Duration { return s.ttl }

// Save writes res. Expiry is left to the broker.
func (s *Store) Save(ctx context.Context, res *domain.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return &domain.SerializationError{Err: err}
	}
	return s.kv.Set(ctx, broker.ResultKey(res.ID), data, s.ttl)
}

// Get returns the record for taskID, or TaskNotFoundError once it has expired
// or if it never existed.
func (s *Store) Get(ctx context.Context, taskID string) (*domain.Result, error) {
	data, found, err := s.kv.Get(ctx, broker.ResultKey(taskID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &domain.TaskNotFoundError{TaskID: taskID}
	}
	var res domain.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, &domain.SerializationError{Err: err}
	}
	return &res, nil
}

// Sink receives every terminal result after it has been saved. Sinks are
// secondary consumers; their failures never affect the stored record.
type Sink interface {
	Record(ctx context.Context, res *domain.Result) error
	Name() string
}
