package joingraph

import (
	"fmt"
	"strings"
	"sync"

	"github.com/randalmurphal/joingraph/pkg/joingraph/state"
)

// Graph is a mutable builder for creating execution graphs.
// Use NewGraph to create a new graph, then chain AddNode, AddJoin, AddEdge,
// and SetEntry calls to define the workflow.
//
// Graph is NOT thread-safe during building. Use a single goroutine
// to construct the graph, then call Compile() to create an immutable
// CompiledGraph that can be safely shared.
//
// Example:
//
//	graph := joingraph.NewGraph(schema).
//	    AddNode("split", split).
//	    AddNode("left", left).
//	    AddNode("right", right).
//	    AddJoin("merge", merge).
//	    AddEdge("split", "left").
//	    AddEdge("split", "right").
//	    AddEdge("left", "merge").
//	    AddEdge("right", "merge").
//	    AddEdge("merge", joingraph.END).
//	    SetEntry("split")
//
//	compiled, err := graph.Compile()
type Graph struct {
	mu               sync.RWMutex
	schema           *state.Schema
	nodes            map[string]*node
	order            []string
	edges            map[string][]string
	conditionalEdges map[string]*conditionalEdge
	entryPoint       string
}

// conditionalEdge is a router plus the targets it may return.
// An empty target list means any node in the graph.
type conditionalEdge struct {
	router  RouterFunc
	targets []string
}

// NewGraph creates a new graph builder over the given state schema.
// Panics if schema is nil.
func NewGraph(schema *state.Schema) *Graph {
	if schema == nil {
		panic("joingraph: schema cannot be nil")
	}
	return &Graph{
		schema:           schema,
		nodes:            make(map[string]*node),
		edges:            make(map[string][]string),
		conditionalEdges: make(map[string]*conditionalEdge),
	}
}

// AddNode adds a named node to the graph.
// Returns the graph for method chaining.
//
// Panics if:
//   - id is empty
//   - id is the reserved word "END" or "__end__" (case-insensitive)
//   - id contains whitespace (space, tab, newline)
//   - fn is nil
//   - id already exists in the graph
func (g *Graph) AddNode(id string, fn NodeFunc, opts ...NodeOption) *Graph {
	return g.addNode(id, fn, false, opts)
}

// AddJoin adds a barrier node where parallel branches converge.
//
// The executor polls a join every time a branch arrives and again after
// every state change while it waits. An empty delta means "not ready"; the
// first non-empty delta fires the join, its single unconditional edge is
// taken, and later arrivals from the same fan-out are dropped. The join is
// armed again when its fork node runs again.
//
// Panics under the same conditions as AddNode.
func (g *Graph) AddJoin(id string, fn NodeFunc, opts ...NodeOption) *Graph {
	return g.addNode(id, fn, true, opts)
}

func (g *Graph) addNode(id string, fn NodeFunc, join bool, opts []NodeOption) *Graph {
	if id == "" {
		panic("joingraph: node ID cannot be empty")
	}

	idLower := strings.ToLower(id)
	if idLower == "end" || idLower == END {
		panic("joingraph: node ID cannot be reserved word 'END'")
	}

	if strings.ContainsAny(id, " \t\n\r") {
		panic("joingraph: node ID cannot contain whitespace")
	}

	if fn == nil {
		panic("joingraph: node function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		panic(fmt.Sprintf("joingraph: duplicate node ID: %s", id))
	}

	n := &node{id: id, fn: fn, join: join}
	for _, opt := range opts {
		opt(n)
	}
	g.nodes[id] = n
	g.order = append(g.order, id)
	return g
}

// AddEdge adds an unconditional edge from one node to another.
// The target can be a node ID or joingraph.END.
// Returns the graph for method chaining.
//
// A node with more than one unconditional edge is a fork: every target is
// scheduled when it completes, and the targets run concurrently.
//
// Edge validation happens at Compile() time, not here.
// This allows edges to be added in any order.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge adds a conditional edge where a RouterFunc
// determines the next node at runtime based on state.
// Returns the graph for method chaining.
//
// targets optionally declares every value the router may return. When given,
// Compile checks them, uses them for reachability and fork/join analysis,
// and a router result outside the set fails the run with
// ErrRouterTargetNotDeclared.
//
// A node can have either simple edges or a conditional edge, not both.
func (g *Graph) AddConditionalEdge(from string, router RouterFunc, targets ...string) *Graph {
	if router == nil {
		panic("joingraph: router function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.conditionalEdges[from] = &conditionalEdge{
		router:  router,
		targets: append([]string(nil), targets...),
	}
	return g
}

// SetEntry designates the entry point node.
// This must be called before Compile().
// Returns the graph for method chaining.
//
// Entry point validation happens at Compile() time.
func (g *Graph) SetEntry(id string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entryPoint = id
	return g
}
