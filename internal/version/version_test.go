package version

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFprint(t *testing.T) {
	var buf bytes.Buffer
	Fprint(&buf, "agentctl")

	out := buf.String()
	assert.Contains(t, out, "agentctl "+Version)
	assert.Contains(t, out, "commit:     "+GitCommit)
	assert.Contains(t, out, GoVersion())
}
