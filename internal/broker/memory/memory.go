// Package memory is an in-process broker.Broker with the same observable
// semantics as the Redis backend. It is intended for tests and for embedding
// the worker loop in a single process.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/ramiqadoumi/agentq/internal/broker"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("memory broker closed")

// subscriberBuffer bounds undelivered messages per subscription; publishes
// beyond it are dropped.
const subscriberBuffer = 64

type entry struct {
	value     []byte
	expiresAt time.Time // zero = never
}

// Broker is safe for concurrent use.
type Broker struct {
	mu     sync.Mutex
	lists  map[string][][]byte // index 0 is the head
	kv     map[string]entry
	subs   map[string]map[*subscription]struct{}
	wake   map[string]chan struct{}
	closed bool
	now    func() time.Time
}

var _ broker.Broker = (*Broker)(nil)

// Option configures a Broker.
type Option func(*Broker)

// WithClock overrides the time source used for key expiry.
func WithClock(now func() time.Time) Option { return func(b *Broker) { b.now = now } }

// New returns an empty broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		lists: make(map[string][][]byte),
		kv:    make(map[string]entry),
		subs:  make(map[string]map[*subscription]struct{}),
		wake:  make(map[string]chan struct{}),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) Ping(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close wakes blocked pops and stops all subscriptions.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for key, ch := range b.wake {
		close(ch)
		delete(b.wake, key)
	}
	var subs []*subscription
	for _, set := range b.subs {
		for s := range set {
			subs = append(subs, s)
		}
	}
	b.subs = make(map[string]map[*subscription]struct{})
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	return nil
}

// ── queue ────────────────────────────────────────────────────────────────────

func (b *Broker) Push(_ context.Context, key string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.lists[key] = append([][]byte{slices.Clone(payload)}, b.lists[key]...)
	if ch, ok := b.wake[key]; ok {
		close(ch)
		delete(b.wake, key)
	}
	return nil
}

func (b *Broker) BlockingPop(ctx context.Context, key string, timeout time.Duration, end broker.End) ([]byte, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, false, ErrClosed
		}
		if v, ok := b.popLocked(key, end); ok {
			b.mu.Unlock()
			return v, true, nil
		}
		ch, ok := b.wake[key]
		if !ok {
			ch = make(chan struct{})
			b.wake[key] = ch
		}
		b.mu.Unlock()

		select {
		case <-ch:
			// Another waiter may win the element; loop and re-check.
		case <-timer.C:
			return nil, false, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

func (b *Broker) popLocked(key string, end broker.End) ([]byte, bool) {
	list := b.lists[key]
	if len(list) == 0 {
		return nil, false
	}
	var v []byte
	if end == broker.Tail {
		v, list = list[len(list)-1], list[:len(list)-1]
	} else {
		v, list = list[0], list[1:]
	}
	if len(list) == 0 {
		delete(b.lists, key)
	} else {
		b.lists[key] = list
	}
	return v, true
}

func (b *Broker) Len(_ context.Context, key string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	return int64(len(b.lists[key])), nil
}

// Range follows LRANGE index rules.
func (b *Broker) Range(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	list := b.lists[key]
	n := int64(len(list))
	if start < 0 {
		start = max(n+start, 0)
	}
	if stop < 0 {
		stop = n + stop
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return [][]byte{}, nil
	}
	out := make([][]byte, 0, stop-start+1)
	for _, v := range list[start : stop+1] {
		out = append(out, slices.Clone(v))
	}
	return out, nil
}

func (b *Broker) Del(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	delete(b.lists, key)
	delete(b.kv, key)
	return nil
}

// ── key/value ────────────────────────────────────────────────────────────────

func (b *Broker) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	e := entry{value: slices.Clone(value)}
	if ttl > 0 {
		e.expiresAt = b.now().Add(ttl)
	}
	b.kv[key] = e
	return nil
}

func (b *Broker) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false, ErrClosed
	}
	e, ok := b.kv[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !b.now().Before(e.expiresAt) {
		delete(b.kv, key)
		return nil, false, nil
	}
	return slices.Clone(e.value), true, nil
}

// ── pub/sub ──────────────────────────────────────────────────────────────────

type subscription struct {
	b       *Broker
	channel string
	msgs    chan []byte
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// Close unregisters the subscription. Pending messages are discarded.
func (s *subscription) Close() error {
	s.b.mu.Lock()
	if set, ok := s.b.subs[s.channel]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.b.subs, s.channel)
		}
	}
	s.b.mu.Unlock()
	s.stop()
	return nil
}

func (b *Broker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for s := range b.subs[channel] {
		select {
		case s.msgs <- slices.Clone(payload):
		default:
		}
	}
	return nil
}

func (b *Broker) Subscribe(_ context.Context, channel string, fn func([]byte)) (broker.Subscription, error) {
	s := &subscription{
		b:       b,
		channel: channel,
		msgs:    make(chan []byte, subscriberBuffer),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	set, ok := b.subs[channel]
	if !ok {
		set = make(map[*subscription]struct{})
		b.subs[channel] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-s.done:
				return
			case msg := <-s.msgs:
				fn(msg)
			}
		}
	}()
	return s, nil
}
