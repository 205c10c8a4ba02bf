package domain

import (
	"fmt"
	"strings"
)

// ConnectivityError is returned when the broker cannot be reached or a broker
// operation fails at the transport level.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// HandlerError wraps a failure raised by the domain handler for one task.
type HandlerError struct {
	TaskID string
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler failed for task %s: %v", e.TaskID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// SerializationError is returned when a queue entry or record cannot be decoded.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("malformed payload: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// DispatchError is a dispatcher-side failure surfaced to the operator.
type DispatchError struct {
	Op  string
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// TaskNotFoundError is returned when no result record exists for a task ID.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// UnknownAgentTypeError is returned for names outside the configured set.
type UnknownAgentTypeError struct {
	AgentType string
	Known     []AgentType
}

func (e *UnknownAgentTypeError) Error() string {
	known := make([]string, len(e.Known))
	for i, k := range e.Known {
		known[i] = string(k)
	}
	return fmt.Sprintf("unknown agent type %q (known: %s)", e.AgentType, strings.Join(known, ", "))
}

// InvalidPriorityError is returned for priorities other than low, normal, high.
type InvalidPriorityError struct {
	Value string
}

func (e *InvalidPriorityError) Error() string {
	return fmt.Sprintf("invalid priority %q: want low, normal or high", e.Value)
}

// InvalidTransitionError is returned when a status change would regress or skip.
type InvalidTransitionError struct {
	TaskID string
	From   Status
	To     Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: illegal transition %s -> %s", e.TaskID, e.From, e.To)
}

// RateLimitExceededError is returned when an agent type exceeds its dispatch rate.
type RateLimitExceededError struct {
	AgentType AgentType
	Limit     int
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for agent type %q: limit is %d", e.AgentType, e.Limit)
}
