package reservation

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/randalmurphal/joingraph/pkg/joingraph/llm"
)

// Replies of the scripted model.
const (
	ScriptedGreeting = "Hello! I can look up reservations and answer questions about hotel policies."
	ScriptedNoData   = "I don't have access to that data."
)

// ScriptedClient is a deterministic llm.Client for offline runs and tests.
//
// Given a guest message and tools, it calls the first tool with the message
// as the query. Given a tool result, it answers with the result, or says it
// has no data when the call failed or found nothing. A user message of the
// form "Header:\n\nbody" is answered with the body; anything else gets a
// greeting.
type ScriptedClient struct{}

// Complete implements llm.Client.
func (ScriptedClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp := &llm.CompletionResponse{Model: "scripted", FinishReason: "stop"}

	last, ok := llm.Last(req.Messages)
	switch {
	case !ok:
		resp.Content = ScriptedGreeting

	case last.Role == llm.RoleTool:
		if last.IsError || last.Content == NoResults || strings.TrimSpace(last.Content) == "" {
			resp.Content = ScriptedNoData
		} else {
			resp.Content = last.Content
		}

	case len(req.Tools) > 0:
		args, err := json.Marshal(queryArgs{Query: last.Content})
		if err != nil {
			return nil, err
		}
		resp.ToolCalls = []llm.ToolCall{{
			ID:        "call_" + llm.NewID(),
			Name:      req.Tools[0].Name,
			Arguments: args,
		}}
		resp.FinishReason = "tool_use"

	default:
		if header, body, found := strings.Cut(last.Content, "\n\n"); found && strings.HasSuffix(header, ":") {
			resp.Content = strings.TrimSpace(body)
		} else {
			resp.Content = ScriptedGreeting
		}
	}
	return resp, nil
}
