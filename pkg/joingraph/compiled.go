package joingraph

import (
	"slices"

	"github.com/randalmurphal/joingraph/pkg/joingraph/state"
)

// ForkNode describes a node whose simple edges start parallel branches.
type ForkNode struct {
	// NodeID is the fork node.
	NodeID string
	// Branches are the first node of every branch, in edge order.
	Branches []string
	// JoinNodeID is the closest node all branches converge on, if any.
	JoinNodeID string
	// Joins are the join nodes reachable from the fork. They are reset every
	// time the fork runs.
	Joins []string
}

// CompiledGraph is an immutable, executable graph.
// It is created by calling Compile() on a Graph builder.
//
// CompiledGraph is thread-safe and can be used concurrently for multiple
// Run() calls. The graph structure cannot be modified after compilation.
//
// Use the introspection methods (NodeIDs, Successors, etc.) to examine
// the graph structure for debugging or visualization.
type CompiledGraph struct {
	schema           *state.Schema
	nodes            map[string]*node
	order            []string
	edges            map[string][]string
	conditionalEdges map[string]*conditionalEdge
	entryPoint       string

	// Pre-computed for efficient lookup
	successors   map[string][]string
	predecessors map[string][]string
	joins        map[string]bool
	forks        map[string]*ForkNode
}

// Schema returns the state schema the graph was built with.
func (cg *CompiledGraph) Schema() *state.Schema {
	return cg.schema
}

// EntryPoint returns the entry node ID.
func (cg *CompiledGraph) EntryPoint() string {
	return cg.entryPoint
}

// NodeIDs returns all node identifiers in registration order.
func (cg *CompiledGraph) NodeIDs() []string {
	return slices.Clone(cg.order)
}

// HasNode checks if a node exists in the graph.
func (cg *CompiledGraph) HasNode(id string) bool {
	_, exists := cg.nodes[id]
	return exists
}

// Successors returns the statically known successors of a node: its simple
// edge targets, or the declared targets of its conditional edge.
// Returns nil for END or unknown nodes.
func (cg *CompiledGraph) Successors(id string) []string {
	if id == END {
		return nil
	}
	return slices.Clone(cg.successors[id])
}

// Predecessors returns the node IDs with a static edge to the given node.
func (cg *CompiledGraph) Predecessors(id string) []string {
	return slices.Clone(cg.predecessors[id])
}

// IsConditional returns true if the node has a conditional edge.
func (cg *CompiledGraph) IsConditional(id string) bool {
	_, ok := cg.conditionalEdges[id]
	return ok
}

// IsJoin returns true if the node was added with AddJoin.
func (cg *CompiledGraph) IsJoin(id string) bool {
	return cg.joins[id]
}

// IsForkNode returns true if the node starts parallel branches.
func (cg *CompiledGraph) IsForkNode(id string) bool {
	_, exists := cg.forks[id]
	return exists
}

// GetForkNode returns the fork information for a node, or nil if not a fork.
func (cg *CompiledGraph) GetForkNode(id string) *ForkNode {
	return cg.forks[id]
}

// ForkNodes returns all fork nodes in registration order.
func (cg *CompiledGraph) ForkNodes() []*ForkNode {
	result := make([]*ForkNode, 0, len(cg.forks))
	for _, id := range cg.order {
		if f, ok := cg.forks[id]; ok {
			result = append(result, f)
		}
	}
	return result
}

// HasParallelExecution returns true if the graph contains any fork.
func (cg *CompiledGraph) HasParallelExecution() bool {
	return len(cg.forks) > 0
}
