package llm

import (
	"context"
	"slices"
	"strings"
)

// Reasoner is the reasoning capability a node calls. It must tolerate being
// called repeatedly with a growing conversation. The result may be a Message,
// a *CompletionResponse, a string, raw JSON or anything Normalize accepts.
type Reasoner interface {
	Invoke(ctx context.Context, messages []Message) (any, error)
}

// ReasonerFunc adapts a function to Reasoner.
type ReasonerFunc func(ctx context.Context, messages []Message) (any, error)

// Invoke calls f.
func (f ReasonerFunc) Invoke(ctx context.Context, messages []Message) (any, error) {
	return f(ctx, messages)
}

// Bound is a Client bound to a model configuration and an optional tool set.
type Bound struct {
	client      Client
	model       string
	maxTokens   int
	temperature float64
	tools       []ToolDefinition
}

// BindOption configures Bind.
type BindOption func(*Bound)

// WithModel sets the model name sent with each request.
func WithModel(name string) BindOption {
	return func(b *Bound) { b.model = name }
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int) BindOption {
	return func(b *Bound) { b.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) BindOption {
	return func(b *Bound) { b.temperature = t }
}

// WithTools offers tool definitions to the model.
func WithTools(defs ...ToolDefinition) BindOption {
	return func(b *Bound) { b.tools = append(b.tools, defs...) }
}

// Bind turns a Client into a Reasoner.
func Bind(client Client, opts ...BindOption) *Bound {
	b := &Bound{client: client}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WithoutTools returns a copy of b that offers no tools, so the model has to
// answer directly.
func (b *Bound) WithoutTools() *Bound {
	cp := *b
	cp.tools = nil
	return &cp
}

// Tools returns the bound tool definitions.
func (b *Bound) Tools() []ToolDefinition {
	return slices.Clone(b.tools)
}

// Invoke sends messages to the client. Leading and embedded system messages
// are lifted into the request's system prompt.
func (b *Bound) Invoke(ctx context.Context, messages []Message) (any, error) {
	var system []string
	conversation := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		conversation = append(conversation, m)
	}

	resp, err := b.client.Complete(ctx, CompletionRequest{
		SystemPrompt: strings.Join(system, "\n\n"),
		Messages:     conversation,
		Model:        b.model,
		MaxTokens:    b.maxTokens,
		Temperature:  b.temperature,
		Tools:        slices.Clone(b.tools),
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
