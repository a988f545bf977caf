package reservation

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/randalmurphal/joingraph/pkg/joingraph"
	"github.com/randalmurphal/joingraph/pkg/joingraph/branch"
	"github.com/randalmurphal/joingraph/pkg/joingraph/checkpoint"
	"github.com/randalmurphal/joingraph/pkg/joingraph/llm"
	"github.com/randalmurphal/joingraph/pkg/joingraph/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const anaBooking = "Reservation R-1001 for Ana Silva: deluxe room 204, check-in 2026-06-05, 3 night(s), confirmed."

func fixedToday() time.Time {
	return time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
}

func compileWorkflow(t *testing.T, client llm.Client, mutate func(*Settings)) *joingraph.CompiledGraph {
	t.Helper()
	settings := DefaultSettings()
	if mutate != nil {
		mutate(&settings)
	}
	wf := &Workflow{Settings: settings, Client: client, DB: openTestDB(t), Today: fixedToday}
	compiled, err := wf.Compile()
	require.NoError(t, err)
	return compiled
}

// recordingClient wraps ScriptedClient and records every request.
type recordingClient struct {
	mu       sync.Mutex
	requests []llm.CompletionRequest
	// fail makes requests offering this tool fail.
	fail string
}

func newRecordingClient() *recordingClient {
	return &recordingClient{}
}

func (c *recordingClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if c.fail != "" && slices.ContainsFunc(req.Tools, func(d llm.ToolDefinition) bool { return d.Name == c.fail }) {
		return nil, errors.New("upstream unavailable")
	}
	return ScriptedClient{}.Complete(ctx, req)
}

func (c *recordingClient) withSystemPrompt(prefix string) []llm.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []llm.CompletionRequest
	for _, r := range c.requests {
		if strings.HasPrefix(r.SystemPrompt, prefix) {
			out = append(out, r)
		}
	}
	return out
}

func TestWorkflow_Topology(t *testing.T) {
	compiled := compileWorkflow(t, ScriptedClient{}, nil)

	assert.Equal(t, NodeConversation, compiled.EntryPoint())
	assert.True(t, compiled.IsConditional(NodeConversation))
	assert.True(t, compiled.IsJoin(NodeReducer))

	fork := compiled.GetForkNode(NodeFanOut)
	require.NotNil(t, fork)
	assert.ElementsMatch(t, []string{NodeAssistant1, NodeAssistant2}, fork.Branches)
	assert.Equal(t, []string{NodeReducer}, fork.Joins)
}

func TestWorkflow_Reservation(t *testing.T) {
	compiled := compileWorkflow(t, ScriptedClient{}, nil)

	answer, snap, err := Ask(testCtx(), compiled, "Is my reservation for Ana Silva confirmed?")
	require.NoError(t, err)
	assert.Equal(t, anaBooking, answer.Content)

	shared := state.Seq[llm.Message](snap, FieldMessages)
	require.Len(t, shared, 2, "the question and exactly one merged answer")

	b1 := state.Seq[llm.Message](snap, FieldAssistant1)
	require.Len(t, b1, 4)
	assert.Equal(t, ToolFindReservation, b1[1].ToolCalls[0].Name)

	b2 := state.Seq[llm.Message](snap, FieldAssistant2)
	require.Len(t, b2, 4)
	assert.Equal(t, NoResults, b2[2].Content)
	assert.Equal(t, ScriptedNoData, b2[3].Content)

	assert.Equal(t, []int{100}, state.Seq[int](snap, FieldConfidence))
	assert.Equal(t, string(IntentReservation), state.GetOr(snap, FieldIntent, ""))
	assert.Equal(t, 1, state.GetOr(snap, FieldReducedEpoch, 0))
	assert.Empty(t, state.Seq[llm.Message](snap, FieldCompliance))
}

func TestWorkflow_AssistantsSeeTodaysDate(t *testing.T) {
	client := newRecordingClient()
	compiled := compileWorkflow(t, client, nil)

	_, _, err := Ask(testCtx(), compiled, "Is my reservation for Ana Silva confirmed?")
	require.NoError(t, err)

	reqs := client.withSystemPrompt(SQLPrompt)
	require.Len(t, reqs, 4, "two calls per branch")
	for _, r := range reqs {
		assert.Contains(t, r.SystemPrompt, "Today's date is 2026-06-01.")
	}
}

func TestWorkflow_PromptsNameTheHotel(t *testing.T) {
	client := newRecordingClient()
	compiled := compileWorkflow(t, client, func(s *Settings) { s.Hotel = "Hotel Aurora" })

	_, _, err := Ask(testCtx(), compiled, "Can I bring my dog?")
	require.NoError(t, err)

	reqs := client.withSystemPrompt("You check the policies of Hotel Aurora.")
	assert.Len(t, reqs, 1)
}

func TestWorkflow_ModelAggregatorSeesOnlyDrafts(t *testing.T) {
	client := newRecordingClient()
	compiled := compileWorkflow(t, client, func(s *Settings) { s.Aggregator = AggregatorModel })

	answer, _, err := Ask(testCtx(), compiled, "Is my reservation for Ana Silva confirmed?")
	require.NoError(t, err)
	assert.Contains(t, answer.Content, anaBooking)

	reqs := client.withSystemPrompt(branch.DefaultInstruction)
	require.Len(t, reqs, 1, "aggregated exactly once")
	msgs := reqs[0].Messages
	require.Len(t, msgs, 2, "the question and one anonymized drafts message")
	assert.Equal(t, llm.RoleUser, msgs[1].Role)
	assert.Empty(t, reqs[0].Tools)
	for _, m := range msgs {
		assert.NotEqual(t, llm.RoleTool, m.Role)
		assert.NotContains(t, m.Content, FieldAssistant1)
		assert.NotContains(t, m.Content, NodeAssistant2)
	}
}

func TestWorkflow_BranchFailureDegrades(t *testing.T) {
	client := newRecordingClient()
	client.fail = ToolRoomRates
	compiled := compileWorkflow(t, client, nil)

	answer, snap, err := Ask(testCtx(), compiled, "Is my reservation for Ana Silva confirmed?")
	require.NoError(t, err)
	assert.Equal(t, anaBooking, answer.Content, "the unhelpful fallback is dropped")

	b2 := state.Seq[llm.Message](snap, FieldAssistant2)
	require.Len(t, b2, 2)
	assert.Equal(t, DefaultFallback, b2[1].Content)
}

func TestWorkflow_Compliance(t *testing.T) {
	compiled := compileWorkflow(t, ScriptedClient{}, nil)

	answer, snap, err := Ask(testCtx(), compiled, "Can I bring my dog?")
	require.NoError(t, err)
	assert.Contains(t, answer.Content, "Dogs and cats under 15 kg are welcome")

	shared := state.Seq[llm.Message](snap, FieldMessages)
	require.Len(t, shared, 2)
	for _, m := range shared {
		assert.False(t, m.HasToolCalls())
	}

	compliance := state.Seq[llm.Message](snap, FieldCompliance)
	require.Len(t, compliance, 3, "question, search request, search result")
	assert.Equal(t, llm.RoleTool, compliance[2].Role)

	assert.Empty(t, state.Seq[llm.Message](snap, FieldAssistant1), "no fan-out")
	assert.Equal(t, 0, state.GetOr(snap, FieldAnchor, branch.Anchor{}).Epoch)
}

func TestWorkflow_SmallTalk(t *testing.T) {
	compiled := compileWorkflow(t, ScriptedClient{}, nil)

	answer, snap, err := Ask(testCtx(), compiled, "Hello there")
	require.NoError(t, err)
	assert.Equal(t, ScriptedGreeting, answer.Content)
	assert.Equal(t, []int{50}, state.Seq[int](snap, FieldConfidence))
}

func TestWorkflow_Checkpointed(t *testing.T) {
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	compiled := compileWorkflow(t, ScriptedClient{}, nil)
	_, _, err = Ask(testCtx(), compiled, "Is my reservation for Ana Silva confirmed?",
		joingraph.WithCheckpointing(store), joingraph.WithRunID("front-desk-1"))
	require.NoError(t, err)

	infos, err := store.List(context.Background(), "front-desk-1")
	require.NoError(t, err)
	require.NotEmpty(t, infos)
	assert.Equal(t, NodeConversation, infos[0].NodeID)
	assert.Equal(t, NodeReducer, infos[len(infos)-1].NodeID)
}

func TestWorkflow_FollowUpFansOutAgain(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	opts := []joingraph.RunOption{joingraph.WithCheckpointing(store), joingraph.WithRunID("guest-42")}
	compiled := compileWorkflow(t, ScriptedClient{}, nil)

	first, _, err := Ask(testCtx(), compiled, "Is my reservation for Ana Silva confirmed?", opts...)
	require.NoError(t, err)
	assert.Equal(t, anaBooking, first.Content)

	second, snap, err := FollowUp(testCtx(), compiled, store, "guest-42", "Is booking R-1001 confirmed?", opts...)
	require.NoError(t, err)
	assert.Equal(t, anaBooking, second.Content)
	assert.NotEqual(t, first.ID, second.ID)

	shared := state.Seq[llm.Message](snap, FieldMessages)
	require.Len(t, shared, 4, "two questions and one merged answer per turn")
	assert.Equal(t, []llm.Role{llm.RoleUser, llm.RoleAssistant, llm.RoleUser, llm.RoleAssistant},
		[]llm.Role{shared[0].Role, shared[1].Role, shared[2].Role, shared[3].Role})
	assert.Equal(t, "Is booking R-1001 confirmed?", shared[2].Content)

	assert.Equal(t, 2, state.GetOr(snap, FieldReducedEpoch, 0))
	assert.Equal(t, 2, state.GetOr(snap, FieldAnchor, branch.Anchor{}).Epoch)
	assert.Equal(t, []int{100, 100}, state.Seq[int](snap, FieldConfidence))

	// The second turn's drafts start after the first turn's history.
	anchor := state.GetOr(snap, FieldAnchor, branch.Anchor{})
	b1 := state.Seq[llm.Message](snap, FieldAssistant1)
	assert.Equal(t, ToolFindReservation, b1[anchor.Offset(FieldAssistant1)].ToolCalls[0].Name)
}

func TestWorkflow_FollowUpAfterPolicyQuestion(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	opts := []joingraph.RunOption{joingraph.WithCheckpointing(store), joingraph.WithRunID("guest-43")}
	compiled := compileWorkflow(t, ScriptedClient{}, nil)

	_, _, err := Ask(testCtx(), compiled, "Can I bring my dog?", opts...)
	require.NoError(t, err)

	answer, snap, err := FollowUp(testCtx(), compiled, store, "guest-43", "Is my reservation for Ana Silva confirmed?", opts...)
	require.NoError(t, err)
	assert.Equal(t, anaBooking, answer.Content)
	assert.Len(t, state.Seq[llm.Message](snap, FieldMessages), 4)
	assert.Equal(t, 1, state.GetOr(snap, FieldReducedEpoch, 0))
}

func TestWorkflow_FollowUpUnknownRun(t *testing.T) {
	compiled := compileWorkflow(t, ScriptedClient{}, nil)

	_, _, err := FollowUp(testCtx(), compiled, checkpoint.NewMemoryStore(), "nobody", "hello")
	assert.ErrorIs(t, err, joingraph.ErrNoCheckpoints)
}

func TestWorkflow_Cancelled(t *testing.T) {
	compiled := compileWorkflow(t, ScriptedClient{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Ask(joingraph.NewContext(ctx), compiled, "Is my reservation for Ana Silva confirmed?")
	var cancelErr *joingraph.CancellationError
	require.ErrorAs(t, err, &cancelErr)
}

func TestWorkflow_CompileRequiresDependencies(t *testing.T) {
	tests := []struct {
		name string
		wf   *Workflow
	}{
		{"no client", &Workflow{Settings: DefaultSettings(), DB: &DB{}}},
		{"no database", &Workflow{Settings: DefaultSettings(), Client: ScriptedClient{}}},
		{"invalid settings", &Workflow{Settings: Settings{}, Client: ScriptedClient{}, DB: &DB{}}},
		{"undefined prompt variable", &Workflow{
			Settings: func() Settings {
				s := DefaultSettings()
				s.Prompts.Retriever = "Answer for ${brand}."
				return s
			}(),
			Client: ScriptedClient{}, DB: &DB{},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.wf.Compile()
			require.Error(t, err)
		})
	}
}

func TestAnswer_Unanswered(t *testing.T) {
	snap := snapshot(t, state.Delta{FieldMessages: llm.User("hello?")})
	assert.Equal(t, llm.Message{}, Answer(snap))
}
