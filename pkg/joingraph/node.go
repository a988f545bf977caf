package joingraph

import "github.com/randalmurphal/joingraph/pkg/joingraph/state"

// END is the terminal node identifier.
// Use this as an edge target to indicate a path of the graph is finished.
const END = "__end__"

// NodeFunc is the signature for all node functions.
// Nodes receive the execution context and a snapshot of the shared state,
// and return a delta naming only the fields they change.
//
// The snapshot is immutable. A nil or empty delta leaves the state untouched;
// for a join node it means "not ready yet".
//
// Example:
//
//	func count(ctx joingraph.Context, s state.Snapshot) (state.Delta, error) {
//	    return state.Delta{"events": []string{"counted"}}, nil
//	}
type NodeFunc func(ctx Context, s state.Snapshot) (state.Delta, error)

// RouterFunc determines the next node based on state.
// It is used for conditional edges where the next node depends on runtime state.
// Routers must be pure: they run on the executor goroutine and see the state
// right after the source node's delta was merged.
//
// The router should return a valid node ID or joingraph.END.
// Returning an empty string or an unknown node ID will cause a runtime error.
type RouterFunc func(ctx Context, s state.Snapshot) string

// node is a registered node and its execution constraints.
type node struct {
	id     string
	fn     NodeFunc
	join   bool
	writes map[string]bool // nil means any declared field
}

// NodeOption configures a node at registration.
type NodeOption func(*node)

// WithWrites restricts the fields a node may write. Compile checks the names
// against the schema; at run time a delta touching any other field fails the
// run with ErrUndeclaredWrite.
func WithWrites(fields ...string) NodeOption {
	return func(n *node) {
		if n.writes == nil {
			n.writes = make(map[string]bool, len(fields))
		}
		for _, f := range fields {
			n.writes[f] = true
		}
	}
}

// checkWrites returns the first delta field outside the node's write set.
func (n *node) checkWrites(delta state.Delta) (string, bool) {
	if n.writes == nil {
		return "", true
	}
	for field := range delta {
		if !n.writes[field] {
			return field, false
		}
	}
	return "", true
}
