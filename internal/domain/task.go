package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Status represents the lifecycle states of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal returns true if no further state transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether s → next is a legal forward step.
// pending → processing → {completed | failed}; nothing else.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next.IsTerminal()
	default:
		return false
	}
}

// Priority is informational only; it never reorders a queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// ParsePriority accepts low, normal or high (case-insensitive). Empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh:
		return p, nil
	default:
		return "", &InvalidPriorityError{Value: s}
	}
}

// Task is the descriptor pushed onto an agent's queue.
type Task struct {
	ID          string    `json:"id"`
	AgentType   AgentType `json:"agentType"`
	Description string    `json:"description"`
	Priority    Priority  `json:"priority"`
	CreatedAt   time.Time `json:"createdAt"`
	Status      Status    `json:"status"`
}

// Transition moves the task to next, refusing regressions and skips.
func (t *Task) Transition(next Status) error {
	if !t.Status.CanTransition(next) {
		return &InvalidTransitionError{TaskID: t.ID, From: t.Status, To: next}
	}
	t.Status = next
	return nil
}

// Result is the TTL-bounded outcome record of one task, keyed by task ID.
type Result struct {
	Task
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt time.Time       `json:"completedAt"`
	Output      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// NewResult snapshots a task that has just entered processing.
func NewResult(task Task, startedAt time.Time) *Result {
	return &Result{Task: task, StartedAt: startedAt}
}

// Complete records a successful handler return.
func (r *Result) Complete(output json.RawMessage, at time.Time) error {
	if err := r.Transition(StatusCompleted); err != nil {
		return err
	}
	r.Output = output
	r.CompletedAt = at
	return nil
}

// Fail records a handler or decode failure. An empty message is replaced so
// failed results always carry a reason.
func (r *Result) Fail(msg string, at time.Time) error {
	if err := r.Transition(StatusFailed); err != nil {
		return err
	}
	if strings.TrimSpace(msg) == "" {
		msg = "unknown error"
	}
	r.Error = msg
	r.CompletedAt = at
	return nil
}

// Duration is the wall time spent between start and completion.
func (r *Result) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
