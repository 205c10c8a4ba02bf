package handlers_test

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/agentq/internal/domain"
	"github.com/ramiqadoumi/agentq/internal/handlers"
)

func requireTool(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func TestExecHandler_Name(t *testing.T) {
	assert.Equal(t, "exec", handlers.NewExecHandler("true").Name())
}

func TestExecHandler_NoCommand(t *testing.T) {
	_, err := handlers.NewExecHandler("  ").Handle(context.Background(), &domain.Task{ID: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command")
}

func TestExecHandler_DescriptionOnStdin(t *testing.T) {
	requireTool(t, "cat")

	out, err := handlers.NewExecHandler("cat").Handle(context.Background(), &domain.Task{
		ID:          "t-1",
		Description: "load season 2024",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `"load season 2024"`, string(out))
}

func TestExecHandler_JSONStdoutPassesThrough(t *testing.T) {
	requireTool(t, "echo")

	out, err := handlers.NewExecHandler(`echo {"ok":true}`).Handle(context.Background(), &domain.Task{ID: "t-2"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out))
}

func TestExecHandler_NonZeroExit(t *testing.T) {
	requireTool(t, "false")

	_, err := handlers.NewExecHandler("false").Handle(context.Background(), &domain.Task{ID: "t-3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "false")
}
