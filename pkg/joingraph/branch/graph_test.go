package branch

import (
	"context"
	"errors"
	"testing"

	"github.com/randalmurphal/joingraph/pkg/joingraph"
	"github.com/randalmurphal/joingraph/pkg/joingraph/checkpoint"
	"github.com/randalmurphal/joingraph/pkg/joingraph/llm"
	"github.com/randalmurphal/joingraph/pkg/joingraph/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildReservationGraph wires fanout -> two branches -> reducer -> END.
// The first branch looks the reservation up with a tool; the second has no
// data.
func buildReservationGraph(t *testing.T, aggregator llm.Reasoner) *joingraph.CompiledGraph {
	t.Helper()

	client := llm.NewMockClient("").WithReplies(
		llm.CompletionResponse{ToolCalls: []llm.ToolCall{{Name: "lookup_reservation", Arguments: []byte(`{"guest": "Ana"}`)}}},
		llm.CompletionResponse{Content: "Your reservation is confirmed for June 5"},
	)
	tools := testTools()

	fan := testFanOut()
	red := testReducer(aggregator)

	first := Branch{
		AgentID: "reservation_assistant_1",
		ToolsID: "sql_tools_1",
		Agent:   &Agent{Field: branch1, Anchor: anchorField, Reasoner: llm.Bind(client, llm.WithTools(tools.Definitions()...))},
		Tools:   &ToolNode{Field: branch1, Anchor: anchorField, Tools: tools},
	}
	second := Branch{
		AgentID: "reservation_assistant_2",
		ToolsID: "sql_tools_2",
		Agent:   &Agent{Field: branch2, Anchor: anchorField, Reasoner: &countingReasoner{reply: "I don't have access to that data"}},
		Tools:   &ToolNode{Field: branch2, Anchor: anchorField, Tools: tools},
	}

	g := joingraph.NewGraph(testSchema()).
		AddNode("fanout", fan.Node(), joingraph.WithWrites(fan.Writes()...)).
		AddJoin("reducer", red.Node(), joingraph.WithWrites(red.Writes()...))
	first.AddTo(g, "reducer")
	second.AddTo(g, "reducer")
	g.AddEdge("fanout", first.AgentID).
		AddEdge("fanout", second.AgentID).
		AddEdge("reducer", joingraph.END).
		SetEntry("fanout")

	compiled, err := g.Compile()
	require.NoError(t, err)
	return compiled
}

// TestGraph_FanOutFanIn runs the whole workflow through the executor.
func TestGraph_FanOutFanIn(t *testing.T) {
	compiled := buildReservationGraph(t, PreferInformative())
	require.Equal(t, []string{"reducer"}, compiled.GetForkNode("fanout").Joins)

	store := checkpoint.NewMemoryStore()
	question := llm.User("Is my reservation confirmed?")

	snap, err := compiled.Run(testCtx(), state.Delta{
		sharedField: question,
		confidence:  []int{90},
	}, joingraph.WithCheckpointing(store), joingraph.WithRunID("reservation-run"))
	require.NoError(t, err)

	shared := state.Seq[llm.Message](snap, sharedField)
	require.Len(t, shared, 2, "the question plus exactly one merged answer")
	assert.Equal(t, question, shared[0])
	assert.Equal(t, "Your reservation is confirmed for June 5", shared[1].Content)

	b1 := state.Seq[llm.Message](snap, branch1)
	require.Len(t, b1, 4, "seed, tool request, tool result, answer")
	assert.Equal(t, llm.RoleTool, b1[2].Role)
	assert.Equal(t, "reservation for Ana on June 5", b1[2].Content)

	b2 := state.Seq[llm.Message](snap, branch2)
	require.Len(t, b2, 2, "the first branch's tool loop never touches the second")
	assert.Equal(t, "I don't have access to that data", b2[1].Content)

	assert.Equal(t, []int{90}, state.Seq[int](snap, confidence))
	assert.Equal(t, 1, state.GetOr(snap, epochField, 0))

	assertAppendOnly(t, compiled.Schema(), store, "reservation-run")
}

// assertAppendOnly checks that no sequence field shrinks between checkpoints.
func assertAppendOnly(t *testing.T, schema *state.Schema, store checkpoint.Store, runID string) {
	t.Helper()
	ctx := context.Background()

	infos, err := store.List(ctx, runID)
	require.NoError(t, err)
	require.NotEmpty(t, infos)

	fields := []string{sharedField, branch1, branch2, confidence}
	prev := make(map[string]int)
	for _, info := range infos {
		data, err := store.Load(ctx, runID, info.Sequence)
		require.NoError(t, err)
		cp, err := checkpoint.Unmarshal(data)
		require.NoError(t, err)
		values, err := schema.Decode(cp.State)
		require.NoError(t, err)
		snap := state.Restore(schema, values, cp.StateVersion).Snapshot()

		for _, f := range fields {
			assert.GreaterOrEqual(t, snap.Len(f), prev[f], "field %s shrank at sequence %d", f, info.Sequence)
			prev[f] = snap.Len(f)
		}
	}
}

func TestGraph_AggregationFailureSurfaces(t *testing.T) {
	boom := errors.New("aggregator unavailable")
	compiled := buildReservationGraph(t, &countingReasoner{err: boom})

	snap, err := compiled.Run(testCtx(), state.Delta{sharedField: llm.User("Is my reservation confirmed?")})

	require.Error(t, err)
	var callErr *joingraph.ExternalCallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, "reducer", callErr.NodeID)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, snap.Len(sharedField), "nothing is published on failure")
}
