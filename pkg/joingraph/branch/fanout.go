package branch

import (
	"github.com/randalmurphal/joingraph/pkg/joingraph"
	"github.com/randalmurphal/joingraph/pkg/joingraph/llm"
	"github.com/randalmurphal/joingraph/pkg/joingraph/state"
)

// Anchor records where each branch stood when it was forked.
type Anchor struct {
	// Epoch counts fan-outs; the first fork is epoch 1.
	Epoch int `json:"epoch"`
	// Shared is the length of the shared conversation at the fork.
	Shared int `json:"shared"`
	// Offsets maps each branch field to its length right after seeding.
	Offsets map[string]int `json:"offsets"`
}

// Offset returns where field's new output starts.
func (a Anchor) Offset(field string) int {
	if off, ok := a.Offsets[field]; ok {
		return off
	}
	return a.Shared
}

// MessagesField declares a message history. Messages are keyed by ID, so
// seeding a branch again with the same shared prefix does not duplicate it.
func MessagesField(name string) state.Field {
	return state.KeyedSequence[llm.Message](name, llm.Key)
}

// AnchorField declares the overwrite field holding the fork Anchor.
func AnchorField(name string) state.Field {
	return state.Value[Anchor](name)
}

// EpochField declares the overwrite field where a Reducer records the epoch
// it aggregated.
func EpochField(name string) state.Field {
	return state.Value[int](name)
}

// FanOut forks the shared conversation into private branch histories.
type FanOut struct {
	// Shared is the shared conversation field.
	Shared string
	// Branches are the private message fields, one per branch.
	Branches []string
	// Anchor is the field receiving the fork Anchor.
	Anchor string
}

// Writes returns the fields the fan-out node writes.
func (f FanOut) Writes() []string {
	return append([]string{f.Anchor}, f.Branches...)
}

// Node returns the fan-out node function.
func (f FanOut) Node() joingraph.NodeFunc {
	return f.Fork
}

// Fork seeds every branch with the shared conversation and records a new
// anchor. Fields other than the branches and the anchor are left alone.
//
// Running it again starts a new epoch: messages the branch already holds are
// skipped and the offsets move to the end of each branch.
func (f FanOut) Fork(ctx joingraph.Context, s state.Snapshot) (state.Delta, error) {
	shared := state.Seq[llm.Message](s, f.Shared)
	prev := state.GetOr(s, f.Anchor, Anchor{})

	anchor := Anchor{
		Epoch:   prev.Epoch + 1,
		Shared:  len(shared),
		Offsets: make(map[string]int, len(f.Branches)),
	}

	delta := state.Delta{}
	for _, field := range f.Branches {
		existing := state.Seq[llm.Message](s, field)
		seen := make(map[string]bool, len(existing))
		for _, m := range existing {
			seen[m.ID] = true
		}

		// Mirrors the keyed merge, so the offset matches the merged length.
		seed := make([]llm.Message, 0, len(shared))
		for _, m := range shared {
			if m.ID != "" && seen[m.ID] {
				continue
			}
			if m.ID != "" {
				seen[m.ID] = true
			}
			seed = append(seed, m)
		}

		anchor.Offsets[field] = len(existing) + len(seed)
		if len(seed) > 0 {
			delta[field] = seed
		}
	}
	delta[f.Anchor] = anchor

	ctx.Logger().Debug("fan-out",
		"epoch", anchor.Epoch,
		"shared_len", anchor.Shared,
		"branches", len(f.Branches),
	)
	return delta, nil
}
