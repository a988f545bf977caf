package branch

import "github.com/randalmurphal/joingraph/pkg/joingraph/llm"

// Phase is where a branch stands in its tool loop.
type Phase int

const (
	// AwaitingModel means the branch needs its next reasoning call.
	AwaitingModel Phase = iota
	// AwaitingTool means the last message requests tool calls.
	AwaitingTool
	// Done means the last message is a final answer.
	Done
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case AwaitingModel:
		return "AWAITING_MODEL"
	case AwaitingTool:
		return "AWAITING_TOOL"
	case Done:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// PhaseOf derives the phase from a branch history.
func PhaseOf(msgs []llm.Message) Phase {
	last, ok := llm.Last(msgs)
	if !ok {
		return AwaitingModel
	}
	if last.Role != llm.RoleAssistant {
		return AwaitingModel
	}
	if last.HasToolCalls() {
		return AwaitingTool
	}
	return Done
}

// ToolRounds counts the tool rounds requested in msgs.
func ToolRounds(msgs []llm.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Role == llm.RoleAssistant && m.HasToolCalls() {
			n++
		}
	}
	return n
}
