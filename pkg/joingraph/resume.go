package joingraph

import (
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/joingraph/pkg/joingraph/checkpoint"
	"github.com/randalmurphal/joingraph/pkg/joingraph/observability"
	"github.com/randalmurphal/joingraph/pkg/joingraph/state"
)

// saveCheckpoint persists the state and frontier after a completed node.
func (e *execution) saveCheckpoint(nodeID string) error {
	if e.cfg.checkpointStore == nil {
		return nil
	}

	snap := e.store.Snapshot()
	encoded, err := e.cg.schema.Encode(snap.Values())
	if err != nil {
		return e.checkpointFailure(nodeID, "serialize", fmt.Errorf("%w: %v", ErrSerializeState, err))
	}

	e.cfg.sequence++
	cp := checkpoint.New(e.cfg.runID, nodeID, e.cfg.sequence, encoded, snap.Version()).
		WithFrontier(e.pending(), e.joinSnapshot()).
		WithIterations(e.iterations).
		WithAttempt(e.base.attempt)

	data, err := cp.Marshal()
	if err != nil {
		return e.checkpointFailure(nodeID, "marshal", err)
	}

	if err := e.cfg.checkpointStore.Save(e.base, e.cfg.runID, e.cfg.sequence, nodeID, data); err != nil {
		return e.checkpointFailure(nodeID, "save", err)
	}

	observability.LogCheckpoint(e.cfg.logger, nodeID, e.cfg.sequence, len(data))
	e.cfg.metrics.RecordCheckpoint(e.base, nodeID, int64(len(data)))
	return nil
}

func (e *execution) checkpointFailure(nodeID, op string, err error) error {
	if e.cfg.checkpointFailureFatal {
		return &CheckpointError{NodeID: nodeID, Op: op, Err: err}
	}
	observability.LogCheckpointError(e.cfg.logger, nodeID, op, err)
	return nil
}

// pending lists the non-join nodes still to run: those in flight first,
// then the queue. Waiting joins are re-polled on resume instead.
func (e *execution) pending() []string {
	out := make([]string, 0, len(e.inFlight)+len(e.queue))
	for _, id := range append(append([]string(nil), e.inFlight...), e.queue...) {
		if !e.cg.joins[id] {
			out = append(out, id)
		}
	}
	return out
}

func (e *execution) joinSnapshot() map[string]checkpoint.JoinState {
	if len(e.joins) == 0 {
		return nil
	}
	out := make(map[string]checkpoint.JoinState, len(e.joins))
	for id, js := range e.joins {
		out[id] = checkpoint.JoinState{Waiting: js.waiting, Fired: js.fired, Polls: js.polls}
	}
	return out
}

// Resume continues a run from its latest checkpoint.
//
// The state, the scheduled nodes and the join bookkeeping are restored. Nodes
// that were running when the checkpoint was written run again, and waiting
// joins are polled once more. New checkpoints continue the same sequence.
//
// Example:
//
//	// Previous run crashed while both branches were working
//	snap, err := compiled.Resume(ctx, store, "run-123")
func (cg *CompiledGraph) Resume(ctx Context, store checkpoint.Store, runID string, opts ...RunOption) (state.Snapshot, error) {
	if ctx == nil {
		return state.Snapshot{}, ErrNilContext
	}

	data, err := store.Latest(ctx, runID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return state.Snapshot{}, fmt.Errorf("%w: %s", ErrNoCheckpoints, runID)
		}
		return state.Snapshot{}, fmt.Errorf("load checkpoint: %w", err)
	}
	return cg.resume(ctx, store, runID, data, opts)
}

// ResumeAt continues a run from the checkpoint with the given sequence,
// discarding whatever happened after it.
func (cg *CompiledGraph) ResumeAt(ctx Context, store checkpoint.Store, runID string, sequence int, opts ...RunOption) (state.Snapshot, error) {
	if ctx == nil {
		return state.Snapshot{}, ErrNilContext
	}

	data, err := store.Load(ctx, runID, sequence)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return state.Snapshot{}, fmt.Errorf("%w: %s at sequence %d", ErrNoCheckpoints, runID, sequence)
		}
		return state.Snapshot{}, fmt.Errorf("load checkpoint: %w", err)
	}
	return cg.resume(ctx, store, runID, data, opts)
}

// Continue starts a new turn on a run whose last turn finished: the latest
// checkpoint's state is restored, input is merged into it and the entry
// point runs again. Forks and joins keep their epochs, so a fork that runs
// again opens the next epoch. The iteration budget starts over for the turn.
//
// Example:
//
//	// Ask a follow-up question in the same conversation
//	snap, err := compiled.Continue(ctx, store, "run-123",
//		state.Delta{"messages": llm.User("And breakfast?")})
func (cg *CompiledGraph) Continue(ctx Context, store checkpoint.Store, runID string, input state.Delta, opts ...RunOption) (state.Snapshot, error) {
	if ctx == nil {
		return state.Snapshot{}, ErrNilContext
	}

	data, err := store.Latest(ctx, runID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return state.Snapshot{}, fmt.Errorf("%w: %s", ErrNoCheckpoints, runID)
		}
		return state.Snapshot{}, fmt.Errorf("load checkpoint: %w", err)
	}
	cp, values, err := cg.decodeCheckpoint(data)
	if err != nil {
		return state.Snapshot{}, err
	}

	if len(cp.Pending) > 0 {
		return state.Snapshot{}, fmt.Errorf("%w: %s has %d pending node(s)", ErrRunUnfinished, runID, len(cp.Pending))
	}
	for id, js := range cp.Joins {
		if js.Waiting && !js.Fired {
			return state.Snapshot{}, fmt.Errorf("%w: %s is waiting on join %s", ErrRunUnfinished, runID, id)
		}
	}

	restored := state.Restore(cg.schema, values, cp.StateVersion)
	if _, err := restored.Merge(input); err != nil {
		return state.Snapshot{}, fmt.Errorf("input: %w", err)
	}

	e := cg.restoreExecution(ctx, store, runID, cp, restored, opts)
	e.enqueue(cg.entryPoint)
	return e.run()
}

func (cg *CompiledGraph) resume(ctx Context, store checkpoint.Store, runID string, data []byte, opts []RunOption) (state.Snapshot, error) {
	cp, values, err := cg.decodeCheckpoint(data)
	if err != nil {
		return state.Snapshot{}, err
	}

	for _, id := range cp.Pending {
		if !cg.HasNode(id) {
			return state.Snapshot{}, fmt.Errorf("%w: %s", ErrInvalidResumeNode, id)
		}
	}

	e := cg.restoreExecution(ctx, store, runID, cp, state.Restore(cg.schema, values, cp.StateVersion), opts)
	e.iterations = cp.Iterations
	for _, id := range cp.Pending {
		e.enqueue(id)
	}
	e.repollJoins()

	return e.run()
}

// decodeCheckpoint unmarshals a checkpoint and its state, and checks that its
// joins exist in this graph.
func (cg *CompiledGraph) decodeCheckpoint(data []byte) (*checkpoint.Checkpoint, state.Values, error) {
	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		if errors.Is(err, checkpoint.ErrVersionMismatch) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	values, err := cg.schema.Decode(cp.State)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	for id := range cp.Joins {
		if !cg.IsJoin(id) {
			return nil, nil, fmt.Errorf("%w: %s is not a join", ErrInvalidResumeNode, id)
		}
	}
	return cp, values, nil
}

// restoreExecution builds an execution on a restored store, continuing the
// checkpoint sequence and the join bookkeeping.
func (cg *CompiledGraph) restoreExecution(ctx Context, store checkpoint.Store, runID string, cp *checkpoint.Checkpoint, restored *state.Store, opts []RunOption) *execution {
	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.checkpointStore = store
	cfg.runID = runID
	cfg.sequence = cp.Sequence

	e := cg.newExecution(ctx, &cfg, restored)

	now := time.Now()
	for id, saved := range cp.Joins {
		js := e.joins[id]
		js.waiting = saved.Waiting
		js.fired = saved.Fired
		js.polls = saved.Polls
		if js.waiting {
			js.since = now
		}
	}
	return e
}
