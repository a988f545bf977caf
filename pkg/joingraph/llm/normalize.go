package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/randalmurphal/joingraph/pkg/joingraph/retry"
)

// ErrUnusableOutput indicates a reasoning result that cannot become a message:
// nil, or empty with no tool calls.
var ErrUnusableOutput = errors.New("unusable reasoning output")

// wireMessage is the loose JSON shape accepted from raw model output.
type wireMessage struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls"`
}

// Normalize converts a raw reasoning result into a canonical assistant
// message.
//
// Accepted inputs:
//   - Message / *Message: used as is (role defaults to assistant)
//   - *CompletionResponse / CompletionResponse: content and tool calls
//   - string: the text content
//   - []byte / json.RawMessage / map[string]any: a JSON message object
//     ({"content": ..., "tool_calls": [...]}, repaired if malformed), or
//     plain text when it is not one
//   - fmt.Stringer and anything else: its printed form
//
// Missing message and tool-call IDs are generated. Tool calls without
// arguments get "{}".
func Normalize(raw any) (Message, error) {
	msg, err := coerce(raw)
	if err != nil {
		return Message{}, err
	}

	if msg.Role == "" {
		msg.Role = RoleAssistant
	}
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if len(msg.ToolCalls) > 0 {
		calls := make([]ToolCall, len(msg.ToolCalls))
		for i, c := range msg.ToolCalls {
			if c.ID == "" {
				c.ID = "call_" + NewID()
			}
			if len(bytes.TrimSpace(c.Arguments)) == 0 {
				c.Arguments = json.RawMessage(`{}`)
			}
			calls[i] = c
		}
		msg.ToolCalls = calls
	}

	if strings.TrimSpace(msg.Content) == "" && len(msg.ToolCalls) == 0 {
		return Message{}, unusable("empty output", "")
	}
	return msg, nil
}

func coerce(raw any) (Message, error) {
	switch v := raw.(type) {
	case nil:
		return Message{}, unusable("nil output", "")
	case Message:
		return v, nil
	case *Message:
		if v == nil {
			return Message{}, unusable("nil message", "")
		}
		return *v, nil
	case *CompletionResponse:
		if v == nil {
			return Message{}, unusable("nil response", "")
		}
		return Message{Content: v.Content, ToolCalls: v.ToolCalls}, nil
	case CompletionResponse:
		return Message{Content: v.Content, ToolCalls: v.ToolCalls}, nil
	case string:
		return Message{Content: v}, nil
	case json.RawMessage:
		return fromJSON(v)
	case []byte:
		return fromJSON(v)
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return Message{}, unusable(err.Error(), fmt.Sprint(v))
		}
		return fromJSON(data)
	case fmt.Stringer:
		return Message{Content: v.String()}, nil
	default:
		return Message{Content: fmt.Sprint(v)}, nil
	}
}

// fromJSON decodes a message object, repairing truncated or sloppy JSON the
// way models tend to emit it. Input that is not an object is plain text.
func fromJSON(data []byte) (Message, error) {
	text := strings.TrimSpace(string(data))
	if !strings.HasPrefix(text, "{") {
		return Message{Content: text}, nil
	}

	var w wireMessage
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(text)
		if repairErr != nil {
			return Message{Content: text}, nil
		}
		if err := json.Unmarshal([]byte(repaired), &w); err != nil {
			return Message{Content: text}, nil
		}
	}

	if w.Content == nil && len(w.ToolCalls) == 0 {
		return Message{Content: text}, nil
	}

	msg := Message{Role: Role(w.Role), ToolCalls: w.ToolCalls}
	if w.Content != nil {
		msg.Content = *w.Content
	}
	return msg, nil
}

func unusable(reason, input string) error {
	return fmt.Errorf("%w: %w", ErrUnusableOutput, &retry.MalformedOutputError{Input: input, Message: reason})
}
