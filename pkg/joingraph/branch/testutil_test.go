package branch

import (
	"context"
	"fmt"
	"testing"

	"github.com/randalmurphal/joingraph/pkg/joingraph"
	"github.com/randalmurphal/joingraph/pkg/joingraph/llm"
	"github.com/randalmurphal/joingraph/pkg/joingraph/state"
	"github.com/stretchr/testify/require"
)

const (
	sharedField = "messages"
	branch1     = "messages_assistant_1"
	branch2     = "messages_assistant_2"
	anchorField = "messages_anchor"
	epochField  = "reduced_epoch"
	confidence  = "confidence"
)

func testSchema() *state.Schema {
	return state.MustSchema(
		MessagesField(sharedField),
		MessagesField(branch1),
		MessagesField(branch2),
		AnchorField(anchorField),
		EpochField(epochField),
		state.Sequence[int](confidence),
	)
}

func testFanOut() FanOut {
	return FanOut{Shared: sharedField, Branches: []string{branch1, branch2}, Anchor: anchorField}
}

func testCtx() joingraph.Context {
	return joingraph.NewContext(context.Background())
}

// conversation builds n alternating user/assistant messages.
func conversation(n int) []llm.Message {
	msgs := make([]llm.Message, n)
	for i := range msgs {
		if i%2 == 0 {
			msgs[i] = llm.User(fmt.Sprintf("question %d", i))
		} else {
			msgs[i] = llm.Assistant(fmt.Sprintf("answer %d", i))
		}
	}
	return msgs
}

// newStore returns a store holding a shared conversation of n messages.
func newStore(t *testing.T, n int) *state.Store {
	t.Helper()
	store, err := state.NewStore(testSchema(), state.Delta{sharedField: conversation(n)})
	require.NoError(t, err)
	return store
}

// apply merges delta into store and returns the new snapshot.
func apply(t *testing.T, store *state.Store, delta state.Delta) state.Snapshot {
	t.Helper()
	snap, err := store.Merge(delta)
	require.NoError(t, err)
	return snap
}

// fork runs the fan-out against store.
func fork(t *testing.T, store *state.Store) state.Snapshot {
	t.Helper()
	delta, err := testFanOut().Fork(testCtx(), store.Snapshot())
	require.NoError(t, err)
	return apply(t, store, delta)
}

// toolCall builds an assistant message requesting one tool call.
func toolCall(name, args string) llm.Message {
	msg := llm.Assistant("")
	msg.ToolCalls = []llm.ToolCall{{ID: "call_" + llm.NewID(), Name: name, Arguments: []byte(args)}}
	return msg
}

// countingReasoner records its calls and answers with reply.
type countingReasoner struct {
	reply any
	err   error
	calls [][]llm.Message
}

func (c *countingReasoner) Invoke(_ context.Context, messages []llm.Message) (any, error) {
	c.calls = append(c.calls, messages)
	if c.err != nil {
		return nil, c.err
	}
	return c.reply, nil
}
