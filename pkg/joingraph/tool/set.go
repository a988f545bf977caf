package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/joingraph/pkg/joingraph/llm"
	"github.com/randalmurphal/joingraph/pkg/joingraph/registry"
)

// ErrUnknownTool indicates the model requested a tool the set does not have.
var ErrUnknownTool = errors.New("unknown tool")

// Set is the ordered collection of tools available to one branch.
type Set struct {
	tools *registry.Registry[string, Tool]
}

// NewSet builds a set. Tool names must be unique.
func NewSet(tools ...Tool) (*Set, error) {
	s := &Set{tools: registry.New[string, Tool]()}
	for _, t := range tools {
		if err := s.tools.Add(t.Definition().Name, t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustSet is like NewSet but panics on error.
func MustSet(tools ...Tool) *Set {
	s, err := NewSet(tools...)
	if err != nil {
		panic("tool: " + err.Error())
	}
	return s
}

// Definitions returns the tool definitions in registration order.
func (s *Set) Definitions() []llm.ToolDefinition {
	tools := s.tools.Values()
	defs := make([]llm.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = t.Definition()
	}
	return defs
}

// Names returns the tool names in registration order.
func (s *Set) Names() []string {
	return s.tools.Keys()
}

// Get returns a tool by name.
func (s *Set) Get(name string) (Tool, bool) {
	return s.tools.Get(name)
}

// Len returns the number of tools in the set.
func (s *Set) Len() int {
	return s.tools.Len()
}

// Execute runs one call. It returns the tool's output, or the error from an
// unknown tool or a failed call.
func (s *Set) Execute(ctx context.Context, call llm.ToolCall) (string, error) {
	t, ok := s.tools.Get(call.Name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}
	return t.Call(ctx, call.Arguments)
}
