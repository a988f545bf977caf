package branch

import (
	"time"

	"github.com/randalmurphal/joingraph/pkg/joingraph"
	"github.com/randalmurphal/joingraph/pkg/joingraph/llm"
	"github.com/randalmurphal/joingraph/pkg/joingraph/observability"
	"github.com/randalmurphal/joingraph/pkg/joingraph/state"
)

// DefaultMaxToolRounds bounds the tool loop of one branch per epoch.
const DefaultMaxToolRounds = 8

// Agent is the reasoning node of one branch. Each call appends exactly one
// message to Field.
type Agent struct {
	// Field is the branch's private message history.
	Field string

	// Anchor is the fork anchor field. Tool rounds are counted from the
	// branch's offset; without it the whole history counts.
	Anchor string

	// System is prepended to every call as a system message.
	System string

	// Reasoner decides the next step and may request tool calls.
	Reasoner llm.Reasoner

	// Final is called once the round cap is reached. It should not offer
	// tools. Defaults to Reasoner, whose tool requests are then dropped.
	Final llm.Reasoner

	// MaxToolRounds caps answered tool rounds. Default: DefaultMaxToolRounds.
	MaxToolRounds int

	// Fallback, when set, is appended as the answer if the reasoning call
	// fails or returns nothing usable, instead of failing the run.
	Fallback string

	// Today, when set, adds the current date to the system prompt.
	Today func() time.Time
}

// Node returns the agent node function.
func (a *Agent) Node() joingraph.NodeFunc {
	return a.Invoke
}

func (a *Agent) maxRounds() int {
	if a.MaxToolRounds > 0 {
		return a.MaxToolRounds
	}
	return DefaultMaxToolRounds
}

// Invoke runs one reasoning step over the branch history.
func (a *Agent) Invoke(ctx joingraph.Context, s state.Snapshot) (state.Delta, error) {
	history := state.Seq[llm.Message](s, a.Field)

	offset := 0
	if a.Anchor != "" {
		offset = min(state.GetOr(s, a.Anchor, Anchor{}).Offset(a.Field), len(history))
	}
	capped := ToolRounds(history[offset:]) >= a.maxRounds()

	reasoner := a.Reasoner
	capability := "reasoner"
	if capped {
		if a.Final != nil {
			reasoner = a.Final
		}
		capability = "reasoner:final"
		ctx.Logger().Info("tool round cap reached, asking for a final answer",
			"field", a.Field, "max_tool_rounds", a.maxRounds())
	}

	input := make([]llm.Message, 0, len(history)+1)
	if prompt := a.systemPrompt(); prompt != "" {
		input = append(input, llm.System(prompt))
	}
	input = append(input, history...)

	msg, err := a.call(ctx, reasoner, input)
	if err == nil && capped {
		msg.ToolCalls = nil
		if msg.Content == "" {
			err = llm.ErrUnusableOutput
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if a.Fallback == "" {
			return nil, &joingraph.ExternalCallError{Capability: capability, NodeID: ctx.NodeID(), Err: err}
		}
		observability.LogBranchDegraded(ctx.Logger(), a.Field, err)
		msg = llm.Assistant(a.Fallback)
	}

	return state.Delta{a.Field: msg}, nil
}

func (a *Agent) call(ctx joingraph.Context, r llm.Reasoner, input []llm.Message) (llm.Message, error) {
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

func (a *Agent) systemPrompt() string {
	if a.Today == nil {
		return a.System
	}
	date := "Today's date is " + a.Today().Format("2006-01-02") + "."
	if a.System == "" {
		return date
	}
	return a.System + "\n\n" + date
}
