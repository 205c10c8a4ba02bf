package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/ramiqadoumi/agentq/internal/domain"
)

// Handler executes the domain logic for one task and returns its output.
// The output must be valid JSON; it is stored verbatim in the result record.
type Handler interface {
	Handle(ctx context.Context, task *domain.Task) (json.RawMessage, error)
	Name() string
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, task *domain.Task) (json.RawMessage, error)
}

func (f HandlerFunc) Name() string { return f.HandlerName }

func (f HandlerFunc) Handle(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	return f.Fn(ctx, task)
}

// UnknownHandlerError is returned when no handler is registered under a name.
type UnknownHandlerError struct {
	Name  string
	Known []string
}

func (e *UnknownHandlerError) Error() string {
	return fmt.Sprintf("no handler registered as %q (known: %v)", e.Name, e.Known)
}

// Registry maps handler names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Safe to call concurrently.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
}

// Get returns the handler registered as name.
func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, &UnknownHandlerError{Name: name, Known: r.namesLocked()}
	}
	return h, nil
}

// Names lists registered handlers alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// asOutput turns raw handler output into a JSON value: valid JSON passes
// through, anything else becomes a JSON string. Empty output is null.
func asOutput(raw []byte) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(raw) {
		return json.RawMessage(slices.Clone(raw))
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}
