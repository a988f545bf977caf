package reservation

import (
	"fmt"
	"slices"
	"time"

	"github.com/randalmurphal/joingraph/pkg/joingraph"
	"github.com/randalmurphal/joingraph/pkg/joingraph/branch"
	"github.com/randalmurphal/joingraph/pkg/joingraph/checkpoint"
	"github.com/randalmurphal/joingraph/pkg/joingraph/llm"
	"github.com/randalmurphal/joingraph/pkg/joingraph/observability"
	"github.com/randalmurphal/joingraph/pkg/joingraph/state"
	"github.com/randalmurphal/joingraph/pkg/joingraph/tool"
)

// State fields.
const (
	FieldMessages         = "messages"
	FieldAssistant1       = "messages_assistant_1"
	FieldAssistant2       = "messages_assistant_2"
	FieldAnchor           = "messages_anchor"
	FieldReducedEpoch     = "reduced_epoch"
	FieldConfidence       = "confidence"
	FieldIntent           = "intent"
	FieldCompliance       = "messages_compliance"
	FieldComplianceAnchor = "compliance_anchor"
)

// Node IDs.
const (
	NodeConversation = "conv_assistant"
	NodeFanOut       = "fanout_reservation"
	NodeAssistant1   = "reservation_assistant1"
	NodeAssistant2   = "reservation_assistant2"
	NodeTools1       = "sql_tools1"
	NodeTools2       = "sql_tools2"
	NodeReducer      = "reservation_reducer"
	NodeCompliance   = "compliance_checker"
	NodeRAGTools     = "rag_tools"
	NodeRetriever    = "retriever"
)

// Default system prompts. ${hotel} is filled from Settings.Hotel.
const (
	ConversationPrompt = "You are the front desk assistant of ${hotel}. Answer greetings and small talk briefly."
	SQLPrompt          = "You are a hotel reservation SQL assistant. Use tools when necessary."
	CompliancePrompt   = "You check the policies of ${hotel}. Search the policy handbook before answering."
	RetrieverPrompt    = "Answer the guest's policy question using only the policy excerpts provided. Be concise."
)

// Schema declares the workflow state.
func Schema() *state.Schema {
	return state.MustSchema(
		branch.MessagesField(FieldMessages),
		branch.MessagesField(FieldAssistant1),
		branch.MessagesField(FieldAssistant2),
		branch.AnchorField(FieldAnchor),
		branch.EpochField(FieldReducedEpoch),
		state.Sequence[int](FieldConfidence),
		state.Value[string](FieldIntent),
		branch.MessagesField(FieldCompliance),
		branch.AnchorField(FieldComplianceAnchor),
	)
}

// Workflow holds what the reservation graph is built from.
type Workflow struct {
	Settings Settings
	Client   llm.Client
	DB       *DB
	// Policies defaults to DefaultPolicies.
	Policies []Policy

	// Metrics and Spans are passed to the tool nodes. Optional.
	Metrics observability.MetricsRecorder
	Spans   observability.SpanManager

	// Today stamps the assistants' system prompt. Defaults to time.Now.
	Today func() time.Time
}

// Compile builds the reservation graph:
//
//	conv_assistant ──ChooseNext──► fanout_reservation | compliance_checker | END
//	fanout_reservation ──► reservation_assistant1 ⇄ sql_tools1 ──► reservation_reducer ──► END
//	                   ──► reservation_assistant2 ⇄ sql_tools2 ──►
//	compliance_checker ──► rag_tools ──► retriever ──► conv_assistant
//	                   └─(no tool request)──────────► conv_assistant
func (w *Workflow) Compile() (*joingraph.CompiledGraph, error) {
	if w.Client == nil {
		return nil, fmt.Errorf("reservation workflow: client is required")
	}
	if w.DB == nil {
		return nil, fmt.Errorf("reservation workflow: database is required")
	}
	if err := w.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("reservation workflow: %w", err)
	}
	prompts, err := w.Settings.RenderPrompts()
	if err != nil {
		return nil, fmt.Errorf("reservation workflow: %w", err)
	}

	opts := []llm.BindOption{llm.WithMaxTokens(w.Settings.MaxTokens)}
	if w.Settings.Model != "" {
		opts = append(opts, llm.WithModel(w.Settings.Model))
	}
	plain := llm.Bind(w.Client, opts...)

	policies := w.Policies
	if policies == nil {
		policies = DefaultPolicies
	}
	today := w.Today
	if today == nil {
		today = time.Now
	}

	first := w.newBranch(NodeAssistant1, NodeTools1, FieldAssistant1, BookingTools(w.DB, w.Settings.Retry), prompts.SQL, opts, today)
	second := w.newBranch(NodeAssistant2, NodeTools2, FieldAssistant2, RateTools(w.DB, w.Settings.Retry), prompts.SQL, opts, today)

	fan := branch.FanOut{
		Shared:   FieldMessages,
		Branches: []string{FieldAssistant1, FieldAssistant2},
		Anchor:   FieldAnchor,
	}
	reducer := &branch.Reducer{
		Shared:     FieldMessages,
		Branches:   fan.Branches,
		Anchor:     FieldAnchor,
		Epoch:      FieldReducedEpoch,
		Aggregator: plain,
	}
	if w.Settings.Aggregator == AggregatorInformative {
		reducer.Aggregator = branch.PreferInformative()
	}

	ragTools := PolicyTools(policies)
	conversation := &Conversation{System: prompts.Conversation, Reasoner: plain}
	compliance := &ComplianceChecker{
		System:   prompts.Compliance,
		Reasoner: llm.Bind(w.Client, withTools(opts, ragTools)...),
	}
	retriever := &Retriever{System: prompts.Retriever, Reasoner: plain}
	rag := &branch.ToolNode{
		Field:   FieldCompliance,
		Tools:   ragTools,
		Anchor:  FieldComplianceAnchor,
		Metrics: w.Metrics,
		Spans:   w.Spans,
	}

	g := joingraph.NewGraph(Schema()).
		AddNode(NodeConversation, conversation.Invoke,
			joingraph.WithWrites(FieldMessages, FieldIntent, FieldConfidence)).
		AddNode(NodeFanOut, fan.Node(), joingraph.WithWrites(fan.Writes()...)).
		AddJoin(NodeReducer, reducer.Node(), joingraph.WithWrites(reducer.Writes()...)).
		AddNode(NodeCompliance, compliance.Invoke,
			joingraph.WithWrites(FieldCompliance, FieldComplianceAnchor, FieldMessages)).
		AddNode(NodeRAGTools, rag.Node(), joingraph.WithWrites(FieldCompliance)).
		AddNode(NodeRetriever, retriever.Invoke, joingraph.WithWrites(FieldMessages))

	first.AddTo(g, NodeReducer)
	second.AddTo(g, NodeReducer)

	g.AddConditionalEdge(NodeConversation, ChooseNext, NodeFanOut, NodeCompliance, joingraph.END).
		AddEdge(NodeFanOut, first.AgentID).
		AddEdge(NodeFanOut, second.AgentID).
		AddEdge(NodeReducer, joingraph.END).
		AddConditionalEdge(NodeCompliance,
			branch.ToolsCondition(FieldCompliance, NodeRAGTools, NodeConversation),
			NodeRAGTools, NodeConversation).
		AddEdge(NodeRAGTools, NodeRetriever).
		AddEdge(NodeRetriever, NodeConversation).
		SetEntry(NodeConversation)

	return g.Compile()
}

func (w *Workflow) newBranch(agentID, toolsID, field string, tools *tool.Set, system string, opts []llm.BindOption, today func() time.Time) branch.Branch {
	bound := llm.Bind(w.Client, withTools(opts, tools)...)
	return branch.Branch{
		AgentID: agentID,
		ToolsID: toolsID,
		Agent: &branch.Agent{
			Field:         field,
			Anchor:        FieldAnchor,
			System:        system,
			Reasoner:      bound,
			Final:         bound.WithoutTools(),
			MaxToolRounds: w.Settings.MaxToolRounds,
			Fallback:      w.Settings.Fallback,
			Today:         today,
		},
		Tools: &branch.ToolNode{
			Field:         field,
			Tools:         tools,
			Anchor:        FieldAnchor,
			MaxToolRounds: w.Settings.MaxToolRounds,
			Metrics:       w.Metrics,
			Spans:         w.Spans,
		},
	}
}

func withTools(opts []llm.BindOption, tools *tool.Set) []llm.BindOption {
	return slices.Concat(opts, []llm.BindOption{llm.WithTools(tools.Definitions()...)})
}

// Ask runs compiled for one guest message and returns the answer that ends
// the shared conversation, along with the final state.
func Ask(ctx joingraph.Context, compiled *joingraph.CompiledGraph, question string, opts ...joingraph.RunOption) (llm.Message, state.Snapshot, error) {
	snap, err := compiled.Run(ctx, state.Delta{FieldMessages: llm.User(question)}, opts...)
	if err != nil {
		return llm.Message{}, snap, err
	}
	return Answer(snap), snap, nil
}

// FollowUp asks question in the conversation checkpointed under runID. The
// previous turns stay in the shared conversation, and a reservation question
// fans out again in a new epoch.
func FollowUp(ctx joingraph.Context, compiled *joingraph.CompiledGraph, store checkpoint.Store, runID, question string, opts ...joingraph.RunOption) (llm.Message, state.Snapshot, error) {
	snap, err := compiled.Continue(ctx, store, runID, state.Delta{FieldMessages: llm.User(question)}, opts...)
	if err != nil {
		return llm.Message{}, snap, err
	}
	return Answer(snap), snap, nil
}

// Answer returns the last assistant message of the shared conversation, or
// the zero message if the guest has not been answered.
func Answer(s state.Snapshot) llm.Message {
	last, ok := llm.Last(state.Seq[llm.Message](s, FieldMessages))
	if !ok || last.Role != llm.RoleAssistant {
		return llm.Message{}
	}
	return last
}
