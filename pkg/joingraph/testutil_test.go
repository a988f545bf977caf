package joingraph

import (
	"context"

	"github.com/randalmurphal/joingraph/pkg/joingraph/state"
)

// testSchema is shared by most executor tests.
func testSchema() *state.Schema {
	return state.MustSchema(
		state.Sequence[string]("trail"),
		state.Sequence[string]("left"),
		state.Sequence[string]("right"),
		state.Value[string]("merged"),
		state.Value[int]("count"),
	)
}

// appendTo returns a node that appends name to field.
func appendTo(field, name string) NodeFunc {
	return func(ctx Context, s state.Snapshot) (state.Delta, error) {
		return state.Delta{field: name}, nil
	}
}

// track returns a node that appends its name to the trail.
func track(name string) NodeFunc {
	return appendTo("trail", name)
}

// noop returns an empty delta.
func noop(ctx Context, s state.Snapshot) (state.Delta, error) {
	return nil, nil
}

// failing returns a node that always fails.
func failing(err error) NodeFunc {
	return func(ctx Context, s state.Snapshot) (state.Delta, error) {
		return nil, err
	}
}

// bothSides is a join that fires once both branch fields have output.
func bothSides(ctx Context, s state.Snapshot) (state.Delta, error) {
	if s.Has("merged") || s.Len("left") == 0 || s.Len("right") == 0 {
		return nil, nil
	}
	left := state.Seq[string](s, "left")
	right := state.Seq[string](s, "right")
	return state.Delta{"merged": left[len(left)-1] + "+" + right[len(right)-1]}, nil
}

// forkGraph builds split -> {left, right} -> join -> END.
func forkGraph(left, right, join NodeFunc) *Graph {
	return NewGraph(testSchema()).
		AddNode("split", track("split")).
		AddNode("left", left).
		AddNode("right", right).
		AddJoin("join", join).
		AddEdge("split", "left").
		AddEdge("split", "right").
		AddEdge("left", "join").
		AddEdge("right", "join").
		AddEdge("join", END).
		SetEntry("split")
}

// testCtx creates a simple test context.
func testCtx() Context {
	return NewContext(context.Background())
}
