package branch

import (
	"github.com/randalmurphal/joingraph/pkg/joingraph"
	"github.com/randalmurphal/joingraph/pkg/joingraph/llm"
	"github.com/randalmurphal/joingraph/pkg/joingraph/state"
)

// ToolsCondition routes to toolsNode when the last message of field has
// pending tool calls, and to doneNode otherwise, including when field is
// still empty.
//
// Each branch gets its own condition over its own field:
//
//	g.AddConditionalEdge("assistant_1",
//	    branch.ToolsCondition("messages_assistant_1", "tools_1", "reducer"),
//	    "tools_1", "reducer")
func ToolsCondition(field, toolsNode, doneNode string) joingraph.RouterFunc {
	return func(_ joingraph.Context, s state.Snapshot) string {
		if PhaseOf(state.Seq[llm.Message](s, field)) == AwaitingTool {
			return toolsNode
		}
		return doneNode
	}
}
