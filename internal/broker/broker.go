// Package broker defines the capabilities the task-dispatch core consumes
// from shared infrastructure: an ordered list with blocking pop, a key/value
// store with optional expiry, and publish/subscribe channels.
package broker

import (
	"context"
	"time"
)

// End selects which side of a list a blocking pop takes from. Push always
// prepends, so popping the head yields LIFO order and popping the tail FIFO.
type End int

const (
	Head End = iota
	Tail
)

// Queue is the list capability.
type Queue interface {
	// Push prepends payload to the list at key.
	Push(ctx context.Context, key string, payload []byte) error
	// BlockingPop waits up to timeout for an element. found is false on timeout.
	BlockingPop(ctx context.Context, key string, timeout time.Duration, end End) (payload []byte, found bool, err error)
	Len(ctx context.Context, key string) (int64, error)
	// Range returns elements start..stop inclusive, head first. Negative
	// indexes count from the tail.
	Range(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	Del(ctx context.Context, key string) error
}

// KV is the key/value capability. A zero ttl means no expiry.
type KV interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
}

// Subscription is an active pub/sub registration.
type Subscription interface {
	Close() error
}

// PubSub is the broadcast capability. Messages published while nobody is
// subscribed are lost.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe registers fn, which is invoked asynchronously for each
	// message until the subscription is closed.
	Subscribe(ctx context.Context, channel string, fn func(payload []byte)) (Subscription, error)
}

// Broker bundles every capability behind one connection.
type Broker interface {
	Queue
	KV
	PubSub
	Ping(ctx context.Context) error
	Close() error
}
