package joingraph

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/randalmurphal/joingraph/pkg/joingraph/state"
)

// Compile validates the graph and creates an executable CompiledGraph.
// Returns an error if validation fails. Multiple errors are joined together.
//
// Validation checks:
//  1. Entry point must be set and reference an existing node
//  2. All edge sources and targets must reference existing nodes or END
//  3. Conditional edge sources and declared targets must exist
//  4. Every node needs outgoing edges, either simple or conditional
//  5. Join nodes need exactly one simple edge and no conditional edge
//  6. Declared writes must name schema fields
//  7. The entry point must have a path to END
//
// Unreachable nodes (not reachable from entry) are logged as warnings
// but do not cause compilation to fail.
func (g *Graph) Compile() (*CompiledGraph, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error

	if g.entryPoint == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, exists := g.nodes[g.entryPoint]; !exists {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entryPoint))
	}

	for _, from := range sortedKeys(g.edges) {
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		for _, to := range g.edges[from] {
			if to != END {
				if _, exists := g.nodes[to]; !exists {
					errs = append(errs, fmt.Errorf("%w: edge target '%s' does not exist", ErrNodeNotFound, to))
				}
			}
		}
	}

	for _, from := range sortedKeys(g.conditionalEdges) {
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: conditional edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		for _, to := range g.conditionalEdges[from].targets {
			if to != END {
				if _, exists := g.nodes[to]; !exists {
					errs = append(errs, fmt.Errorf("%w: conditional target '%s' of '%s' does not exist", ErrNodeNotFound, to, from))
				}
			}
		}
		if len(g.edges[from]) > 0 {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMixedEdges, from))
		}
	}

	for _, id := range g.order {
		n := g.nodes[id]
		_, conditional := g.conditionalEdges[id]
		simple := len(g.edges[id])

		if n.join {
			if simple != 1 || conditional {
				errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidJoin, id))
			}
		} else if simple == 0 && !conditional {
			errs = append(errs, fmt.Errorf("%w: %s", ErrNoOutgoingEdge, id))
		}

		for _, field := range sortedKeys(n.writes) {
			if !g.schema.Has(field) {
				errs = append(errs, fmt.Errorf("%w: node %s declares write to %q", state.ErrUndeclaredField, id, field))
			}
		}
	}

	if g.entryPoint != "" {
		if _, exists := g.nodes[g.entryPoint]; exists {
			if !g.hasPathToEnd() {
				errs = append(errs, ErrNoPathToEnd)
			}
		}
	}

	g.warnUnreachableNodes()

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return g.buildCompiledGraph(), nil
}

// hasPathToEnd checks if there's a path from entry to END.
// A conditional edge without declared targets is assumed to reach END,
// since its router might return it.
func (g *Graph) hasPathToEnd() bool {
	canReachEnd := map[string]bool{END: true}

	changed := true
	for changed {
		changed = false
		for from := range g.nodes {
			if canReachEnd[from] {
				continue
			}
			targets, open := g.targetsOf(from)
			if open {
				canReachEnd[from] = true
				changed = true
				continue
			}
			for _, to := range targets {
				if canReachEnd[to] {
					canReachEnd[from] = true
					changed = true
					break
				}
			}
		}
	}

	return canReachEnd[g.entryPoint]
}

// targetsOf returns every statically known successor of a node. open is true
// when the node has a conditional edge without declared targets.
func (g *Graph) targetsOf(id string) (targets []string, open bool) {
	if ce, ok := g.conditionalEdges[id]; ok {
		if len(ce.targets) == 0 {
			return nil, true
		}
		return ce.targets, false
	}
	return g.edges[id], false
}

// warnUnreachableNodes logs warnings for nodes not reachable from entry.
func (g *Graph) warnUnreachableNodes() {
	if g.entryPoint == "" {
		return
	}

	reachable := g.findReachableNodes()
	for _, nodeID := range g.order {
		if !reachable[nodeID] {
			slog.Warn("node is unreachable from entry", "node_id", nodeID)
		}
	}
}

// findReachableNodes returns the set of nodes reachable from the entry point.
func (g *Graph) findReachableNodes() map[string]bool {
	reachable := make(map[string]bool)
	if g.entryPoint == "" {
		return reachable
	}

	queue := []string{g.entryPoint}
	reachable[g.entryPoint] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		targets, open := g.targetsOf(current)
		if open {
			// The router could return any node ID.
			for _, nodeID := range g.order {
				if !reachable[nodeID] {
					reachable[nodeID] = true
					queue = append(queue, nodeID)
				}
			}
			continue
		}
		for _, target := range targets {
			if target != END && !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}

	return reachable
}

// buildCompiledGraph creates the immutable CompiledGraph from the builder state.
func (g *Graph) buildCompiledGraph() *CompiledGraph {
	nodes := make(map[string]*node, len(g.nodes))
	for id, n := range g.nodes {
		nodes[id] = n
	}

	edges := make(map[string][]string, len(g.edges))
	for from, targets := range g.edges {
		edges[from] = slices.Clone(targets)
	}

	conditionalEdges := make(map[string]*conditionalEdge, len(g.conditionalEdges))
	for from, ce := range g.conditionalEdges {
		conditionalEdges[from] = &conditionalEdge{router: ce.router, targets: slices.Clone(ce.targets)}
	}

	// Static successor graph used for analysis: simple edges plus declared
	// conditional targets.
	static := make(map[string][]string, len(nodes))
	for id := range nodes {
		targets, _ := g.targetsOf(id)
		static[id] = slices.Clone(targets)
	}

	predecessors := make(map[string][]string)
	for _, from := range g.order {
		for _, to := range static[from] {
			if to != END {
				predecessors[to] = append(predecessors[to], from)
			}
		}
	}

	joins := make(map[string]bool)
	for id, n := range nodes {
		if n.join {
			joins[id] = true
		}
	}

	return &CompiledGraph{
		schema:           g.schema,
		nodes:            nodes,
		order:            slices.Clone(g.order),
		edges:            edges,
		conditionalEdges: conditionalEdges,
		entryPoint:       g.entryPoint,
		successors:       static,
		predecessors:     predecessors,
		joins:            joins,
		forks:            detectForkJoinNodes(g.order, edges, static, joins),
	}
}

// detectForkJoinNodes identifies fork nodes and the joins they arm.
// A fork node has more than one simple edge. Its joins are the join nodes
// reachable from it; running the fork again resets them for a new epoch.
//
// When the closest node every branch converges on is not a join, the
// branches will run it once each, which is logged as a warning.
func detectForkJoinNodes(order []string, edges, static map[string][]string, joins map[string]bool) map[string]*ForkNode {
	forks := make(map[string]*ForkNode)

	for _, from := range order {
		branches := edges[from]
		if len(branches) < 2 {
			continue
		}

		fork := &ForkNode{NodeID: from, Branches: slices.Clone(branches)}
		reachable := computeReachable(from, static)
		for _, id := range order {
			if joins[id] && reachable[id] {
				fork.Joins = append(fork.Joins, id)
			}
		}

		converge := findJoinNode(branches, static)
		if converge != "" && !joins[converge] {
			slog.Warn("parallel branches converge on a node that is not a join",
				"fork", from, "node_id", converge)
		}
		fork.JoinNodeID = converge
		forks[from] = fork
	}

	return forks
}

// findJoinNode finds the first node every branch can reach, using a
// simplified post-dominator analysis.
func findJoinNode(branches []string, edges map[string][]string) string {
	if len(branches) == 0 {
		return ""
	}

	branchReachable := make([]map[string]bool, len(branches))
	for i, branch := range branches {
		branchReachable[i] = computeReachable(branch, edges)
	}

	common := make(map[string]bool)
	for node := range branchReachable[0] {
		common[node] = true
	}
	for i := 1; i < len(branches); i++ {
		for node := range common {
			if !branchReachable[i][node] {
				delete(common, node)
			}
		}
	}

	if len(common) == 0 {
		return ""
	}
	return findClosestNode(branches[0], common, edges)
}

// computeReachable returns all nodes reachable from the given start node.
func computeReachable(start string, edges map[string][]string) map[string]bool {
	reachable := make(map[string]bool)
	queue := []string{start}
	reachable[start] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range edges[current] {
			if next != END && !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	return reachable
}

// findClosestNode finds the closest node in targets reachable from start using BFS.
func findClosestNode(start string, targets map[string]bool, edges map[string][]string) string {
	if targets[start] {
		return start
	}

	visited := map[string]bool{start: true}
	queue := []string{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range edges[current] {
			if next == END {
				continue
			}
			if targets[next] {
				return next
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
