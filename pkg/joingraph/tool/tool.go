// Package tool defines the tool capability a branch invokes between
// reasoning calls, and Set, the per-branch collection of tools.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
	"github.com/randalmurphal/joingraph/pkg/joingraph/llm"
	"github.com/randalmurphal/joingraph/pkg/joingraph/retry"
)

// Tool is an external capability the model can request.
type Tool interface {
	// Definition describes the tool to the model.
	Definition() llm.ToolDefinition

	// Call runs the tool with JSON arguments and returns the result content.
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

// Func is a Tool backed by a typed Go function.
// Arguments are decoded into I; results other than string are JSON encoded.
type Func[I, O any] struct {
	def llm.ToolDefinition
	fn  func(context.Context, I) (O, error)
}

// New creates a typed tool. schema is the JSON Schema of I as sent to the model.
func New[I, O any](name, description string, schema json.RawMessage, fn func(context.Context, I) (O, error)) *Func[I, O] {
	if fn == nil {
		panic("tool: function cannot be nil")
	}
	return &Func[I, O]{
		def: llm.ToolDefinition{Name: name, Description: description, Parameters: schema},
		fn:  fn,
	}
}

// Definition implements Tool.
func (f *Func[I, O]) Definition() llm.ToolDefinition {
	return f.def
}

// Call implements Tool.
func (f *Func[I, O]) Call(ctx context.Context, args json.RawMessage) (string, error) {
	in, err := DecodeArgs[I](args)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", f.def.Name, err)
	}

	out, err := f.fn(ctx, in)
	if err != nil {
		return "", err
	}

	if s, ok := any(out).(string); ok {
		return s, nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("tool %s: encode result: %w", f.def.Name, err)
	}
	return string(data), nil
}

// DecodeArgs unmarshals model-supplied arguments into T. Models sometimes emit
// truncated or sloppy JSON, so a failed decode is retried once on the
// repaired text.
func DecodeArgs[T any](args json.RawMessage) (T, error) {
	var v T
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(args, &v); err == nil {
		return v, nil
	}

	repaired, err := jsonrepair.JSONRepair(string(args))
	if err != nil {
		return v, &retry.MalformedOutputError{Input: string(args), Message: "arguments are not valid JSON"}
	}
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		return v, &retry.MalformedOutputError{Input: string(args), Message: err.Error()}
	}
	return v, nil
}

type retryTool struct {
	next Tool
	cfg  retry.Config
}

// WithRetry wraps t so transient failures are retried per cfg.
func WithRetry(t Tool, cfg retry.Config) Tool {
	return &retryTool{next: t, cfg: cfg}
}

// Definition implements Tool.
func (r *retryTool) Definition() llm.ToolDefinition {
	return r.next.Definition()
}

// Call implements Tool.
func (r *retryTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	res := retry.Do(ctx, r.cfg, "tool "+r.next.Definition().Name, func(ctx context.Context) (string, error) {
		return r.next.Call(ctx, args)
	})
	return res.Value, res.Err
}
