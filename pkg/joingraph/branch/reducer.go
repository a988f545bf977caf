package branch

import (
	"strings"

	"github.com/randalmurphal/joingraph/pkg/joingraph"
	"github.com/randalmurphal/joingraph/pkg/joingraph/llm"
	"github.com/randalmurphal/joingraph/pkg/joingraph/state"
)

// DefaultInstruction is the aggregation instruction sent as the system
// message of every aggregation call.
const DefaultInstruction = "You see several drafts answering the user's latest request. " +
	"Produce ONE final user-facing answer.\n" +
	"- Do NOT mention drafts, internal assistants, or how many there were.\n" +
	"- If a draft says it cannot help or lacks the data, ignore it and use the helpful draft.\n" +
	"- Be concise and accurate."

// draftSeparator separates drafts in the aggregation input.
const draftSeparator = "\n\n---\n\n"

// draftsHeader opens the aggregation input message.
const draftsHeader = "Drafts:\n\n"

// Draft is the output a branch produced since the fork.
type Draft struct {
	Field    string
	Messages []llm.Message
}

// Readiness decides whether the branches have produced enough to aggregate.
type Readiness func(drafts []Draft) bool

// AllProduced is ready once every branch appended at least one message.
func AllProduced(drafts []Draft) bool {
	for _, d := range drafts {
		if len(d.Messages) == 0 {
			return false
		}
	}
	return true
}

// AllSettled is ready once every branch appended a final answer, i.e. none
// is still waiting on its model or its tools.
func AllSettled(drafts []Draft) bool {
	for _, d := range drafts {
		if PhaseOf(d.Messages) != Done {
			return false
		}
	}
	return true
}

// Reducer is the fan-in node: it waits for every branch and publishes one
// aggregated message to the shared conversation.
type Reducer struct {
	// Shared is the shared conversation field. It is the only message field
	// the reducer writes.
	Shared string

	// Branches are the private message fields to read.
	Branches []string

	// Anchor is the fork anchor field written by the FanOut.
	Anchor string

	// Epoch is the field recording the last aggregated epoch. Optional, but
	// without it the reducer relies on the executor alone for firing once.
	Epoch string

	// Aggregator merges the drafts into one answer.
	Aggregator llm.Reasoner

	// Instruction overrides DefaultInstruction.
	Instruction string

	// Ready overrides the readiness gate. Default: AllSettled.
	Ready Readiness
}

// Writes returns the fields the reducer writes.
func (r *Reducer) Writes() []string {
	if r.Epoch == "" {
		return []string{r.Shared}
	}
	return []string{r.Shared, r.Epoch}
}

// Node returns the reducer node function, for AddJoin.
func (r *Reducer) Node() joingraph.NodeFunc {
	return r.Reduce
}

// Drafts returns each branch's messages past its anchor offset. ok is false
// before the first fork.
func (r *Reducer) Drafts(s state.Snapshot) (drafts []Draft, anchor Anchor, ok bool) {
	anchor, ok = state.Get[Anchor](s, r.Anchor)
	if !ok {
		return nil, Anchor{}, false
	}
	drafts = make([]Draft, len(r.Branches))
	for i, field := range r.Branches {
		drafts[i] = Draft{
			Field:    field,
			Messages: state.Tail[llm.Message](s, field, anchor.Offset(field)),
		}
	}
	return drafts, anchor, true
}

// Reduce returns an empty delta until the branches are ready, then calls the
// aggregator once and returns its answer as the only new shared message.
// Calling it again for an epoch it already reduced returns an empty delta.
func (r *Reducer) Reduce(ctx joingraph.Context, s state.Snapshot) (state.Delta, error) {
	drafts, anchor, ok := r.Drafts(s)
	if !ok {
		return nil, nil
	}
	if r.Epoch != "" && state.GetOr(s, r.Epoch, 0) >= anchor.Epoch {
		return nil, nil
	}

	ready := r.Ready
	if ready == nil {
		ready = AllSettled
	}
	if !ready(drafts) {
		return nil, nil
	}

	shared := state.Seq[llm.Message](s, r.Shared)
	input := r.aggregationInput(shared[:min(anchor.Shared, len(shared))], drafts)

	raw, err := r.Aggregator.Invoke(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &joingraph.ExternalCallError{Capability: "aggregator", NodeID: ctx.NodeID(), Err: err}
	}
	merged, err := llm.Normalize(raw)
	if err != nil {
		return nil, &joingraph.ExternalCallError{Capability: "aggregator", NodeID: ctx.NodeID(), Err: err}
	}
	// A reasoner may hand back a message it returned before; a reused ID
	// would be dropped by the keyed merge.
	merged = llm.Message{ID: llm.NewID(), Role: llm.RoleAssistant, Content: merged.Content}
	if strings.TrimSpace(merged.Content) == "" {
		return nil, &joingraph.ExternalCallError{Capability: "aggregator", NodeID: ctx.NodeID(), Err: llm.ErrUnusableOutput}
	}

	ctx.Logger().Info("branches aggregated", "epoch", anchor.Epoch, "branches", len(drafts))

	delta := state.Delta{r.Shared: merged}
	if r.Epoch != "" {
		delta[r.Epoch] = anchor.Epoch
	}
	return delta, nil
}

// aggregationInput builds the aggregator call: the instruction, the shared
// conversation up to the fork, and the drafts as one anonymous message.
func (r *Reducer) aggregationInput(shared []llm.Message, drafts []Draft) []llm.Message {
	instruction := r.Instruction
	if instruction == "" {
		instruction = DefaultInstruction
	}

	input := make([]llm.Message, 0, len(shared)+2)
	input = append(input, llm.System(instruction))
	input = append(input, shared...)
	input = append(input, llm.User(RenderDrafts(drafts)))
	return input
}

// RenderDrafts concatenates the drafts' answer text. Only message content
// is kept: no IDs, names, tool calls, or field names.
func RenderDrafts(drafts []Draft) string {
	texts := make([]string, 0, len(drafts))
	for _, d := range drafts {
		var parts []string
		for _, m := range d.Messages {
			if m.Role != llm.RoleAssistant {
				continue
			}
			if c := strings.TrimSpace(m.Content); c != "" {
				parts = append(parts, c)
			}
		}
		if len(parts) > 0 {
			texts = append(texts, strings.Join(parts, "\n"))
		}
	}
	return draftsHeader + strings.Join(texts, draftSeparator)
}

// ParseDrafts splits a message built by RenderDrafts back into draft texts.
func ParseDrafts(content string) []string {
	body, ok := strings.CutPrefix(content, draftsHeader)
	if !ok || strings.TrimSpace(body) == "" {
		return nil
	}
	return strings.Split(body, draftSeparator)
}
