package domain_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/ramiqadoumi/agentq/internal/domain"
)

func TestTaskNotFoundError(t *testing.T) {
	err := &domain.TaskNotFoundError{TaskID: "abc-123"}
	if !strings.Contains(err.Error(), "abc-123") {
		t.Errorf("error message should contain task ID, got: %q", err.Error())
	}
}

func TestRateLimitExceededError(t *testing.T) {
	err := &domain.RateLimitExceededError{AgentType: "data", Limit: 100}
	msg := err.Error()
	if !strings.Contains(msg, "data") {
		t.Errorf("error message should contain agent type, got: %q", msg)
	}
	if !strings.Contains(msg, "100") {
		t.Errorf("error message should contain limit, got: %q", msg)
	}
}

func TestWrappingErrorsUnwrap(t *testing.T) {
	cause := errors.New("connection refused")

	wrapped := []error{
		&domain.ConnectivityError{Op: "BLPOP", Err: cause},
		&domain.HandlerError{TaskID: "t", Err: cause},
		&domain.SerializationError{Err: cause},
		&domain.DispatchError{Op: "enqueue", Err: cause},
	}
	for _, err := range wrapped {
		if !errors.Is(err, cause) {
			t.Errorf("%T should unwrap to its cause", err)
		}
		if !strings.Contains(err.Error(), "connection refused") {
			t.Errorf("%T message should include cause, got: %q", err, err.Error())
		}
	}
}

func TestConnectivityErrorThroughDispatchError(t *testing.T) {
	err := &domain.DispatchError{Op: "enqueue", Err: &domain.ConnectivityError{Op: "LPUSH", Err: errors.New("eof")}}

	var conn *domain.ConnectivityError
	if !errors.As(err, &conn) {
		t.Fatalf("expected ConnectivityError in chain, got %T", err)
	}
	if conn.Op != "LPUSH" {
		t.Errorf("Op = %q, want LPUSH", conn.Op)
	}
}

func TestAllErrorTypesImplementError(t *testing.T) {
	var _ error = &domain.ConnectivityError{}
	var _ error = &domain.HandlerError{}
	var _ error = &domain.SerializationError{}
	var _ error = &domain.DispatchError{}
	var _ error = &domain.TaskNotFoundError{}
	var _ error = &domain.UnknownAgentTypeError{}
	var _ error = &domain.InvalidPriorityError{}
	var _ error = &domain.InvalidTransitionError{}
	var _ error = &domain.RateLimitExceededError{}
}
