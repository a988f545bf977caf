package reservation

import (
	"slices"
	"strings"

	"github.com/randalmurphal/joingraph/pkg/joingraph"
	"github.com/randalmurphal/joingraph/pkg/joingraph/branch"
	"github.com/randalmurphal/joingraph/pkg/joingraph/llm"
	"github.com/randalmurphal/joingraph/pkg/joingraph/state"
)

// Conversation is the front desk. It classifies each new guest message and
// answers small talk itself; reservation and policy questions are left for
// ChooseNext to route.
type Conversation struct {
	System   string
	Reasoner llm.Reasoner
}

// Invoke handles the latest shared message. It writes nothing once the
// conversation has been answered.
func (c *Conversation) Invoke(ctx joingraph.Context, s state.Snapshot) (state.Delta, error) {
	shared := state.Seq[llm.Message](s, FieldMessages)
	last, ok := llm.Last(shared)
	if !ok || last.Role != llm.RoleUser {
		return nil, nil
	}

	intent, score := Classify(last.Content)
	ctx.Logger().Info("guest request classified", "intent", intent, "confidence", score)

	delta := state.Delta{
		FieldIntent:     string(intent),
		FieldConfidence: score,
	}
	if intent != IntentChat {
		return delta, nil
	}

	msg, err := answer(ctx, c.Reasoner, withSystem(c.System, shared))
	if err != nil {
		return nil, externalError(ctx, "reasoner", err)
	}
	delta[FieldMessages] = msg
	return delta, nil
}

// ComplianceChecker asks the model which handbook search answers the guest's
// policy question. It works in its own history so tool traffic never reaches
// the shared conversation.
type ComplianceChecker struct {
	System   string
	Reasoner llm.Reasoner
}

// Invoke copies the shared conversation into the compliance history, records
// where this question starts and appends the model's reply. A reply without
// a tool request is also the guest's answer.
func (c *ComplianceChecker) Invoke(ctx joingraph.Context, s state.Snapshot) (state.Delta, error) {
	shared := state.Seq[llm.Message](s, FieldMessages)
	history := state.Seq[llm.Message](s, FieldCompliance)

	seen := make(map[string]bool, len(history))
	for _, m := range history {
		seen[m.ID] = true
	}
	seed := slices.DeleteFunc(slices.Clone(shared), func(m llm.Message) bool {
		return m.ID != "" && seen[m.ID]
	})

	prev := state.GetOr(s, FieldComplianceAnchor, branch.Anchor{})
	anchor := branch.Anchor{
		Epoch:   prev.Epoch + 1,
		Shared:  len(shared),
		Offsets: map[string]int{FieldCompliance: len(history) + len(seed)},
	}

	msg, err := answer(ctx, c.Reasoner, withSystem(c.System, shared))
	if err != nil {
		return nil, externalError(ctx, "reasoner", err)
	}

	delta := state.Delta{
		FieldCompliance:       append(seed, msg),
		FieldComplianceAnchor: anchor,
	}
	if !msg.HasToolCalls() {
		delta[FieldMessages] = msg
	}
	return delta, nil
}

// Retriever turns the handbook excerpts found by the last search into the
// guest's answer.
type Retriever struct {
	System   string
	Reasoner llm.Reasoner
}

// Invoke answers from the tool results that end the compliance history.
func (r *Retriever) Invoke(ctx joingraph.Context, s state.Snapshot) (state.Delta, error) {
	shared := state.Seq[llm.Message](s, FieldMessages)
	excerpts := trailingResults(state.Seq[llm.Message](s, FieldCompliance))
	if len(excerpts) == 0 {
		excerpts = []string{"(no matching policy)"}
	}

	input := withSystem(r.System, shared)
	input = append(input, llm.Message{
		ID:      llm.NewID(),
		Role:    llm.RoleUser,
		Content: "Policy excerpts:\n\n" + strings.Join(excerpts, "\n\n"),
	})

	msg, err := answer(ctx, r.Reasoner, input)
	if err == nil && strings.TrimSpace(msg.Content) == "" {
		err = llm.ErrUnusableOutput
	}
	if err != nil {
		return nil, externalError(ctx, "reasoner", err)
	}
	msg.ToolCalls = nil
	return state.Delta{FieldMessages: msg}, nil
}

// trailingResults returns the successful tool results at the end of msgs.
func trailingResults(msgs []llm.Message) []string {
	var out []string
	for i := len(msgs) - 1; i >= 0 && msgs[i].Role == llm.RoleTool; i-- {
		if !msgs[i].IsError && msgs[i].Content != NoResults && strings.TrimSpace(msgs[i].Content) != "" {
			out = append(out, msgs[i].Content)
		}
	}
	slices.Reverse(out)
	return out
}

func withSystem(system string, msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs)+2)
	if system != "" {
		out = append(out, llm.System(system))
	}
	return append(out, msgs...)
}

// answer calls r and turns its output into a new assistant message.
func answer(ctx joingraph.Context, r llm.Reasoner, input []llm.Message) (llm.Message, error) {
	raw, err := r.Invoke(ctx, input)
	if err != nil {
		return llm.Message{}, err
	}
	msg, err := llm.Normalize(raw)
	if err != nil {
		return llm.Message{}, err
	}
	msg.ID = llm.NewID()
	msg.Role = llm.RoleAssistant
	return msg, nil
}

func externalError(ctx joingraph.Context, capability string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &joingraph.ExternalCallError{Capability: capability, NodeID: ctx.NodeID(), Err: err}
}
