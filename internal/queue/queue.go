// Package queue stores pending task descriptors in one broker list per agent type.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ramiqadoumi/agentq/internal/broker"
	"github.com/ramiqadoumi/agentq/internal/domain"
)

// Order selects the dequeue end. Enqueue always pushes to the head.
type Order string

const (
	// LIFO pops the most recently enqueued task first.
	LIFO Order = "lifo"
	// FIFO pops the oldest task first.
	FIFO Order = "fifo"
)

// ParseOrder accepts "lifo" or "fifo"; empty means LIFO.
func ParseOrder(s string) (Order, error) {
	switch o := Order(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return LIFO, nil
	case LIFO, FIFO:
		return o, nil
	default:
		return "", fmt.Errorf("invalid queue order %q: want lifo or fifo", s)
	}
}

// Queue is the task queue for every agent type on one broker.
type Queue struct {
	list broker.Queue
	end  broker.End
}

// New returns a Queue popping according to order.
func New(list broker.Queue, order Order) *Queue {
	end := broker.Head
	if order == FIFO {
		end = broker.Tail
	}
	return &Queue{list: list, end: end}
}

// Enqueue serialises task and pushes it onto its agent type's list.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return &domain.SerializationError{Err: err}
	}
	return q.list.Push(ctx, broker.QueueKey(task.AgentType), data)
}

// Dequeue blocks up to timeout and returns the raw entry. Decoding is left to
// the caller so a malformed entry is reported against that entry alone.
func (q *Queue) Dequeue(ctx context.Context, agentType domain.AgentType, timeout time.Duration) ([]byte, bool, error) {
	return q.list.BlockingPop(ctx, broker.QueueKey(agentType), timeout, q.end)
}

// DequeueTask is Dequeue followed by Decode.
func (q *Queue) DequeueTask(ctx context.Context, agentType domain.AgentType, timeout time.Duration) (*domain.Task, bool, error) {
	raw, found, err := q.Dequeue(ctx, agentType, timeout)
	if err != nil || !found {
		return nil, found, err
	}
	task, err := Decode(raw)
	if err != nil {
		return nil, true, err
	}
	return task, true, nil
}

// Decode parses a queue entry. It rejects entries without an id.
func Decode(raw []byte) (*domain.Task, error) {
	var task domain.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, &domain.SerializationError{Err: err}
	}
	if task.ID == "" {
		return nil, &domain.SerializationError{Err: errors.New("task descriptor has no id")}
	}
	return &task, nil
}

// Length returns the number of pending entries.
func (q *Queue) Length(ctx context.Context, agentType domain.AgentType) (int64, error) {
	return q.list.Len(ctx, broker.QueueKey(agentType))
}

// Entry is one inspected queue element. Task is nil when Raw does not decode.
type Entry struct {
	Raw  []byte
	Task *domain.Task
	Err  error
}

// Peek returns up to n entries from the head (most recently enqueued first)
// without consuming them.
func (q *Queue) Peek(ctx context.Context, agentType domain.AgentType, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	vals, err := q.list.Range(ctx, broker.QueueKey(agentType), 0, int64(n-1))
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(vals))
	for i, raw := range vals {
		task, err := Decode(raw)
		out[i] = Entry{Raw: raw, Task: task, Err: err}
	}
	return out, nil
}

// Clear drops every pending entry for agentType.
func (q *Queue) Clear(ctx context.Context, agentType domain.AgentType) error {
	return q.list.Del(ctx, broker.QueueKey(agentType))
}
