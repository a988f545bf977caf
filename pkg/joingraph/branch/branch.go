package branch

import "github.com/randalmurphal/joingraph/pkg/joingraph"

// Branch is one agent and its optional tool node.
type Branch struct {
	AgentID string
	ToolsID string
	Agent   *Agent
	Tools   *ToolNode
}

// AddTo registers the branch on g and routes it to joinID once its agent
// answers without a tool request. Both nodes may only write the agent's field.
func (b Branch) AddTo(g *joingraph.Graph, joinID string) *joingraph.Graph {
	g.AddNode(b.AgentID, b.Agent.Node(), joingraph.WithWrites(b.Agent.Field))
	if b.Tools == nil {
		return g.AddEdge(b.AgentID, joinID)
	}

	return g.AddNode(b.ToolsID, b.Tools.Node(), joingraph.WithWrites(b.Tools.Field)).
		AddConditionalEdge(b.AgentID, ToolsCondition(b.Agent.Field, b.ToolsID, joinID), b.ToolsID, joinID).
		AddEdge(b.ToolsID, b.AgentID)
}
