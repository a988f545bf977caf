package branch

import (
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/joingraph/pkg/joingraph"
	"github.com/randalmurphal/joingraph/pkg/joingraph/llm"
	"github.com/randalmurphal/joingraph/pkg/joingraph/observability"
	"github.com/randalmurphal/joingraph/pkg/joingraph/state"
	"github.com/randalmurphal/joingraph/pkg/joingraph/tool"
)

var (
	// ErrNoPendingToolCall indicates the tool node ran although the last
	// message of its field requests no tool call. This is a wiring error.
	ErrNoPendingToolCall = errors.New("no pending tool call")

	// ErrToolLoopExhausted indicates a branch requested more tool rounds
	// than its cap allows.
	ErrToolLoopExhausted = errors.New("tool loop exhausted")
)

// ToolNode executes the pending tool calls of one branch. It appends one
// result message per call to Field and writes nothing else.
type ToolNode struct {
	// Field is the branch's private message history.
	Field string

	// Tools is the branch's tool set.
	Tools *tool.Set

	// Anchor is the fork anchor field, used to count rounds this epoch.
	Anchor string

	// MaxToolRounds must match the branch Agent. Default: DefaultMaxToolRounds.
	MaxToolRounds int

	// Metrics and Spans are optional.
	Metrics observability.MetricsRecorder
	Spans   observability.SpanManager
}

// Node returns the tool node function.
func (t *ToolNode) Node() joingraph.NodeFunc {
	return t.Invoke
}

// Invoke runs every tool call of the last message in order.
//
// A failed call becomes an error result message so the branch's model can
// react to it. Only cancellation and wiring errors fail the node.
func (t *ToolNode) Invoke(ctx joingraph.Context, s state.Snapshot) (state.Delta, error) {
	history := state.Seq[llm.Message](s, t.Field)
	last, ok := llm.Last(history)
	if !ok || last.Role != llm.RoleAssistant || !last.HasToolCalls() {
		return nil, fmt.Errorf("%w in %s", ErrNoPendingToolCall, t.Field)
	}

	maxRounds := t.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}
	offset := 0
	if t.Anchor != "" {
		offset = min(state.GetOr(s, t.Anchor, Anchor{}).Offset(t.Field), len(history))
	}
	if rounds := ToolRounds(history[offset:]); rounds > maxRounds {
		return nil, fmt.Errorf("%w: %d rounds in %s (max %d)", ErrToolLoopExhausted, rounds, t.Field, maxRounds)
	}

	metrics := t.Metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	spans := t.Spans
	if spans == nil {
		spans = observability.NoopSpanManager{}
	}

	results := make([]llm.Message, 0, len(last.ToolCalls))
	for _, call := range last.ToolCalls {
		spanCtx, span := spans.StartToolSpan(ctx, call.Name, call.ID)
		start := time.Now()
		out, err := t.Tools.Execute(spanCtx, call)
		duration := time.Since(start)

		metrics.RecordToolCall(spanCtx, call.Name, duration, err)
		spans.AddSpanEvent(spanCtx, "tool.result", attribute.Int("tool.output_bytes", len(out)))
		spans.EndSpanWithError(span, err)
		observability.LogToolCall(ctx.Logger(), call.Name, call.ID, float64(duration.Milliseconds()), err)

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			results = append(results, llm.ToolResult(call, "Error: "+err.Error(), true))
			continue
		}
		results = append(results, llm.ToolResult(call, out, false))
	}

	return state.Delta{t.Field: results}, nil
}
