package domain

import (
	"slices"
	"strings"
)

// AgentType names a logical worker role. Each type owns one queue, one
// status record and one notification channel.
type AgentType string

// DefaultAgentTypeNames returns the names used when no agent_types are
// configured. Each call returns a fresh slice.
func DefaultAgentTypeNames() []string {
	return []string{"data", "scraper", "frontend", "backend"}
}

// SplitAgentTypeNames flattens configured agent_types. It accepts both YAML
// lists and a single comma-separated value, the form env vars and flags
// arrive in.
func SplitAgentTypeNames(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// AgentTypes is the fixed set of agent types known to a process. It is built
// once at startup and never mutated.
type AgentTypes struct {
	names []AgentType
}

// NewAgentTypes builds the registry. Names are trimmed and lower-cased;
// blanks and duplicates are dropped while keeping the first-seen order.
func NewAgentTypes(names ...string) AgentTypes {
	seen := make(map[AgentType]struct{}, len(names))
	out := make([]AgentType, 0, len(names))
	for _, n := range names {
		t := AgentType(strings.ToLower(strings.TrimSpace(n)))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return AgentTypes{names: out}
}

// All returns a copy of the configured types in configuration order.
func (a AgentTypes) All() []AgentType {
	return slices.Clone(a.names)
}

// Lookup resolves a user-supplied name.
func (a AgentTypes) Lookup(name string) (AgentType, error) {
	t := AgentType(strings.ToLower(strings.TrimSpace(name)))
	if slices.Contains(a.names, t) {
		return t, nil
	}
	return "", &UnknownAgentTypeError{AgentType: name, Known: a.names}
}

// Select returns the single named type, or every type when name is empty.
func (a AgentTypes) Select(name string) ([]AgentType, error) {
	if name == "" {
		return a.All(), nil
	}
	t, err := a.Lookup(name)
	if err != nil {
		return nil, err
	}
	return []AgentType{t}, nil
}

// AgentStatus is the coarse liveness flag of an agent type.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentOffline AgentStatus = "offline"
)
