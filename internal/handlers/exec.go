package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/agentq/internal/domain"
)

// ExecHandler runs a local command per task. The description is written to
// stdin, task metadata is exported as AGENTQ_* environment variables and
// stdout becomes the task output.
type ExecHandler struct {
	command string
	args    []string
}

// NewExecHandler parses commandLine on whitespace; the first field is the program.
func NewExecHandler(commandLine string) *ExecHandler {
	fields := strings.Fields(commandLine)
	h := &ExecHandler{}
	if len(fields) > 0 {
		h.command, h.args = fields[0], fields[1:]
	}
	return h
}

func (h *ExecHandler) Name() string { return "exec" }

func (h *ExecHandler) Handle(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	ctx, span := otel.Tracer("agent").Start(ctx, "handler.exec")
	defer span.End()

	if h.command == "" {
		err := errors.New("exec handler has no command configured")
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing command")
		return nil, err
	}
	span.SetAttributes(attribute.String("exec.command", h.command))

	cmd := exec.CommandContext(ctx, h.command, h.args...)
	cmd.Stdin = strings.NewReader(task.Description)
	cmd.Env = append(os.Environ(),
		"AGENTQ_TASK_ID="+task.ID,
		"AGENTQ_AGENT_TYPE="+string(task.AgentType),
		"AGENTQ_PRIORITY="+string(task.Priority),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "command failed")
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", h.command, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", h.command, err)
	}
	return asOutput(stdout.Bytes()), nil
}
