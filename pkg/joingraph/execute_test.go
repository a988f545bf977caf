package joingraph

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/joingraph/pkg/joingraph/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, g *Graph) *CompiledGraph {
	t.Helper()
	compiled, err := g.Compile()
	require.NoError(t, err)
	return compiled
}

// TestRun_LinearOrder tests nodes run in edge order and deltas accumulate.
func TestRun_LinearOrder(t *testing.T) {
	compiled := mustCompile(t, NewGraph(testSchema()).
		AddNode("a", track("a")).
		AddNode("b", track("b")).
		AddNode("c", track("c")).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", END).
		SetEntry("a"))

	snap, err := compiled.Run(testCtx(), state.Delta{"trail": "start"})

	require.NoError(t, err)
	assert.Equal(t, []string{"start", "a", "b", "c"}, state.Seq[string](snap, "trail"))
}

// TestRun_EmptyDeltaLeavesState tests that a node returning nothing changes nothing.
func TestRun_EmptyDeltaLeavesState(t *testing.T) {
	compiled := mustCompile(t, NewGraph(testSchema()).
		AddNode("a", noop).
		AddEdge("a", END).
		SetEntry("a"))

	snap, err := compiled.Run(testCtx(), state.Delta{"count": 3})

	require.NoError(t, err)
	assert.Equal(t, 3, state.GetOr(snap, "count", 0))
	assert.Equal(t, uint64(0), snap.Version(), "initial state is version zero")
}

func TestRun_NilContext(t *testing.T) {
	compiled := mustCompile(t, NewGraph(testSchema()).AddNode("a", noop).AddEdge("a", END).SetEntry("a"))

	//nolint:staticcheck // testing nil handling
	_, err := compiled.Run(nil, nil)
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestRun_InvalidInitialState(t *testing.T) {
	compiled := mustCompile(t, NewGraph(testSchema()).AddNode("a", noop).AddEdge("a", END).SetEntry("a"))

	_, err := compiled.Run(testCtx(), state.Delta{"unknown": 1})
	assert.ErrorIs(t, err, state.ErrUndeclaredField)
}

// TestRun_ConditionalRouting tests a router choosing the next node.
func TestRun_ConditionalRouting(t *testing.T) {
	router := func(ctx Context, s state.Snapshot) string {
		if state.GetOr(s, "count", 0) > 5 {
			return "big"
		}
		return "small"
	}

	compiled := mustCompile(t, NewGraph(testSchema()).
		AddNode("check", noop).
		AddNode("big", track("big")).
		AddNode("small", track("small")).
		AddConditionalEdge("check", router, "big", "small").
		AddEdge("big", END).
		AddEdge("small", END).
		SetEntry("check"))

	snap, err := compiled.Run(testCtx(), state.Delta{"count": 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"big"}, state.Seq[string](snap, "trail"))

	snap, err = compiled.Run(testCtx(), state.Delta{"count": 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"small"}, state.Seq[string](snap, "trail"))
}

func TestRun_RouterErrors(t *testing.T) {
	tests := []struct {
		name    string
		returns string
		targets []string
		want    error
	}{
		{"empty result", "", nil, ErrInvalidRouterResult},
		{"unknown node", "ghost", nil, ErrRouterTargetNotFound},
		{"undeclared target", "other", []string{"b", END}, ErrRouterTargetNotDeclared},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			returns := tt.returns
			compiled := mustCompile(t, NewGraph(testSchema()).
				AddNode("a", noop).
				AddNode("b", noop).
				AddNode("other", noop).
				AddConditionalEdge("a", func(Context, state.Snapshot) string { return returns }, tt.targets...).
				AddEdge("b", END).
				AddEdge("other", END).
				SetEntry("a"))

			_, err := compiled.Run(testCtx(), nil)

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			var routerErr *RouterError
			require.ErrorAs(t, err, &routerErr)
			assert.Equal(t, "a", routerErr.FromNode)
			assert.Equal(t, tt.returns, routerErr.Returned)
		})
	}
}

// TestRun_NodeErrorStopsRun tests that a failing node ends the run with its state.
func TestRun_NodeErrorStopsRun(t *testing.T) {
	boom := errors.New("boom")
	var ranAfter atomic.Bool

	compiled := mustCompile(t, NewGraph(testSchema()).
		AddNode("a", track("a")).
		AddNode("b", failing(boom)).
		AddNode("c", func(ctx Context, s state.Snapshot) (state.Delta, error) {
			ranAfter.Store(true)
			return nil, nil
		}).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", END).
		SetEntry("a"))

	snap, err := compiled.Run(testCtx(), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "b", nodeErr.NodeID)
	assert.Equal(t, "execute", nodeErr.Op)
	assert.Equal(t, []string{"a"}, state.Seq[string](snap, "trail"))
	assert.False(t, ranAfter.Load())
}

func TestRun_PanicRecovered(t *testing.T) {
	compiled := mustCompile(t, NewGraph(testSchema()).
		AddNode("a", func(Context, state.Snapshot) (state.Delta, error) {
			panic("kaboom")
		}).
		AddEdge("a", END).
		SetEntry("a"))

	_, err := compiled.Run(testCtx(), nil)

	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "a", panicErr.NodeID)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
}

func TestRun_MergeErrors(t *testing.T) {
	tests := []struct {
		name  string
		delta state.Delta
		opts  []NodeOption
		want  error
	}{
		{"field outside schema", state.Delta{"nope": 1}, nil, state.ErrUndeclaredField},
		{"wrong type", state.Delta{"count": "three"}, nil, state.ErrTypeMismatch},
		{"outside declared writes", state.Delta{"right": "x"}, []NodeOption{WithWrites("left")}, ErrUndeclaredWrite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta := tt.delta
			compiled := mustCompile(t, NewGraph(testSchema()).
				AddNode("a", func(Context, state.Snapshot) (state.Delta, error) { return delta, nil }, tt.opts...).
				AddEdge("a", END).
				SetEntry("a"))

			snap, err := compiled.Run(testCtx(), state.Delta{"count": 1})

			assert.ErrorIs(t, err, tt.want)
			var nodeErr *NodeError
			require.ErrorAs(t, err, &nodeErr)
			assert.Equal(t, "merge", nodeErr.Op)
			assert.Equal(t, 1, state.GetOr(snap, "count", 0), "rejected delta must not apply")
		})
	}
}

// TestRun_MaxIterations tests that a cycle is stopped by the iteration limit.
func TestRun_MaxIterations(t *testing.T) {
	compiled := mustCompile(t, NewGraph(testSchema()).
		AddNode("spin", track("spin")).
		AddConditionalEdge("spin", func(Context, state.Snapshot) string { return "spin" }, "spin", END).
		SetEntry("spin"))

	snap, err := compiled.Run(testCtx(), nil, WithMaxIterations(5))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxIterations)
	var maxErr *MaxIterationsError
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, 5, maxErr.Max)
	assert.Equal(t, "spin", maxErr.LastNodeID)
	assert.Len(t, state.Seq[string](snap, "trail"), 5)
}

// TestRun_ContextMetadata tests what a node sees through its Context.
func TestRun_ContextMetadata(t *testing.T) {
	var gotNode, gotRun string
	var gotAttempt int

	compiled := mustCompile(t, NewGraph(testSchema()).
		AddNode("inspect", func(ctx Context, s state.Snapshot) (state.Delta, error) {
			gotNode = ctx.NodeID()
			gotRun = ctx.RunID()
			gotAttempt = ctx.Attempt()
			assert.NotNil(t, ctx.Logger())
			return nil, nil
		}).
		AddEdge("inspect", END).
		SetEntry("inspect"))

	_, err := compiled.Run(testCtx(), nil, WithRunID("run-42"))

	require.NoError(t, err)
	assert.Equal(t, "inspect", gotNode)
	assert.Equal(t, "run-42", gotRun)
	assert.Equal(t, 1, gotAttempt)
}

// TestRun_CancellationPropagates tests that cancelling the caller's context
// reaches a node blocked on its own context.
func TestRun_CancellationPropagates(t *testing.T) {
	started := make(chan struct{})
	var sawCancel atomic.Bool

	compiled := mustCompile(t, NewGraph(testSchema()).
		AddNode("start", track("start")).
		AddNode("slow", func(ctx Context, s state.Snapshot) (state.Delta, error) {
			close(started)
			<-ctx.Done()
			sawCancel.Store(true)
			return nil, ctx.Err()
		}).
		AddEdge("start", "slow").
		AddEdge("slow", END).
		SetEntry("start"))

	parent, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	snap, err := compiled.Run(NewContext(parent), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	var cancelErr *CancellationError
	require.ErrorAs(t, err, &cancelErr)
	assert.Equal(t, []string{"start"}, state.Seq[string](cancelErr.State, "trail"))
	assert.Equal(t, []string{"start"}, state.Seq[string](snap, "trail"))
	assert.True(t, sawCancel.Load(), "Run must wait for the node to return")
}

func TestRun_AlreadyCancelled(t *testing.T) {
	compiled := mustCompile(t, NewGraph(testSchema()).AddNode("a", track("a")).AddEdge("a", END).SetEntry("a"))

	parent, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := compiled.Run(NewContext(parent), nil)

	var cancelErr *CancellationError
	require.ErrorAs(t, err, &cancelErr)
	assert.False(t, cancelErr.WasExecuting)
	assert.Equal(t, 0, snap.Len("trail"))
}

// TestRun_ForkJoin tests that branches run and the join aggregates once.
func TestRun_ForkJoin(t *testing.T) {
	var joinFired atomic.Int32
	join := func(ctx Context, s state.Snapshot) (state.Delta, error) {
		delta, err := bothSides(ctx, s)
		if len(delta) > 0 {
			joinFired.Add(1)
		}
		return delta, err
	}

	compiled := mustCompile(t, forkGraph(appendTo("left", "L"), appendTo("right", "R"), join))

	snap, err := compiled.Run(testCtx(), nil)

	require.NoError(t, err)
	assert.Equal(t, "L+R", state.GetOr(snap, "merged", ""))
	assert.Equal(t, int32(1), joinFired.Load())
}

// TestRun_ForkBranchesRunConcurrently tests that both branches are in flight
// at the same time.
func TestRun_ForkBranchesRunConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	rendezvous := func(field string) NodeFunc {
		return func(ctx Context, s state.Snapshot) (state.Delta, error) {
			wg.Done()
			done := make(chan struct{})
			go func() { wg.Wait(); close(done) }()
			select {
			case <-done:
				return state.Delta{field: "ok"}, nil
			case <-time.After(2 * time.Second):
				return nil, errors.New("branches did not overlap")
			}
		}
	}

	compiled := mustCompile(t, forkGraph(rendezvous("left"), rendezvous("right"), bothSides))

	snap, err := compiled.Run(testCtx(), nil)

	require.NoError(t, err)
	assert.Equal(t, "ok+ok", state.GetOr(snap, "merged", ""))
}

// TestRun_JoinWaitsForSlowBranch tests that a not-ready join is polled
// again when the slow branch lands.
func TestRun_JoinWaitsForSlowBranch(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	var polls atomic.Int32

	slow := func(ctx Context, s state.Snapshot) (state.Delta, error) {
		select {
		case <-release:
			return state.Delta{"right": "slow"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	join := func(ctx Context, s state.Snapshot) (state.Delta, error) {
		polls.Add(1)
		delta, err := bothSides(ctx, s)
		if len(delta) == 0 {
			once.Do(func() { close(release) })
		}
		return delta, err
	}

	compiled := mustCompile(t, forkGraph(appendTo("left", "fast"), slow, join))

	snap, err := compiled.Run(testCtx(), nil)

	require.NoError(t, err)
	assert.Equal(t, "fast+slow", state.GetOr(snap, "merged", ""))
	assert.GreaterOrEqual(t, polls.Load(), int32(2))
}

// TestRun_LateArrivalDropped tests that a branch finishing after its join
// fired does not trigger a second aggregation.
func TestRun_LateArrivalDropped(t *testing.T) {
	fired := make(chan struct{})
	var calls atomic.Int32

	late := func(ctx Context, s state.Snapshot) (state.Delta, error) {
		<-fired
		return state.Delta{"right": "late"}, nil
	}
	eager := func(ctx Context, s state.Snapshot) (state.Delta, error) {
		calls.Add(1)
		if s.Len("left") == 0 || s.Has("merged") {
			return nil, nil
		}
		close(fired)
		return state.Delta{"merged": "left-only"}, nil
	}

	compiled := mustCompile(t, forkGraph(appendTo("left", "L"), late, eager))

	snap, err := compiled.Run(testCtx(), nil)

	require.NoError(t, err)
	assert.Equal(t, "left-only", state.GetOr(snap, "merged", ""))
	assert.Equal(t, []string{"late"}, state.Seq[string](snap, "right"), "late output is still merged")
	assert.Equal(t, int32(1), calls.Load(), "join is not polled after firing")
}

// TestRun_JoinFiresOncePerEpoch tests that re-running the fork re-arms its join.
func TestRun_JoinFiresOncePerEpoch(t *testing.T) {
	var fires atomic.Int32
	join := func(ctx Context, s state.Snapshot) (state.Delta, error) {
		left, right := s.Len("left"), s.Len("right")
		done := 0
		for _, step := range state.Seq[string](s, "trail") {
			if step == "join" {
				done++
			}
		}
		if left != right || left <= done {
			return nil, nil
		}
		fires.Add(1)
		return state.Delta{"trail": "join"}, nil
	}
	check := func(ctx Context, s state.Snapshot) (state.Delta, error) {
		return state.Delta{"count": state.GetOr(s, "count", 0) + 1}, nil
	}
	again := func(ctx Context, s state.Snapshot) string {
		if state.GetOr(s, "count", 0) < 3 {
			return "split"
		}
		return END
	}

	compiled := mustCompile(t, NewGraph(testSchema()).
		AddNode("split", noop).
		AddNode("left", appendTo("left", "L")).
		AddNode("right", appendTo("right", "R")).
		AddJoin("join", join).
		AddNode("check", check).
		AddEdge("split", "left").
		AddEdge("split", "right").
		AddEdge("left", "join").
		AddEdge("right", "join").
		AddEdge("join", "check").
		AddConditionalEdge("check", again, "split", END).
		SetEntry("split"))

	snap, err := compiled.Run(testCtx(), nil)

	require.NoError(t, err)
	assert.Equal(t, int32(3), fires.Load())
	assert.Equal(t, 3, state.GetOr(snap, "count", 0))
	assert.Equal(t, 3, snap.Len("left"))
	assert.Equal(t, 3, snap.Len("right"))
}

// TestRun_JoinStalled tests that a join nobody can satisfy fails the run
// once every branch is done.
func TestRun_JoinStalled(t *testing.T) {
	never := func(Context, state.Snapshot) (state.Delta, error) { return nil, nil }
	compiled := mustCompile(t, forkGraph(appendTo("left", "L"), appendTo("right", "R"), never))

	snap, err := compiled.Run(testCtx(), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReadinessTimeout)
	var readyErr *ReadinessTimeoutError
	require.ErrorAs(t, err, &readyErr)
	assert.Equal(t, "join", readyErr.JoinID)
	assert.Contains(t, readyErr.Reason, "stalled")
	assert.GreaterOrEqual(t, readyErr.Polls, 1)
	assert.Equal(t, 1, snap.Len("left"))
	assert.Equal(t, 1, snap.Len("right"))
}

// TestRun_JoinPollBudget tests the per-epoch limit on not-ready polls.
func TestRun_JoinPollBudget(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once

	held := func(ctx Context, s state.Snapshot) (state.Delta, error) {
		<-release
		return state.Delta{"right": "R"}, nil
	}
	never := func(Context, state.Snapshot) (state.Delta, error) {
		once.Do(func() { close(release) })
		return nil, nil
	}

	compiled := mustCompile(t, forkGraph(appendTo("left", "L"), held, never))

	_, err := compiled.Run(testCtx(), nil, WithMaxJoinPolls(1))

	var readyErr *ReadinessTimeoutError
	require.ErrorAs(t, err, &readyErr)
	assert.Equal(t, "poll budget exhausted", readyErr.Reason)
	assert.Equal(t, 2, readyErr.Polls)
}

// TestRun_ReadinessTimeout tests the wall-clock limit on a waiting join, and
// that the blocked branch is cancelled when the run fails.
func TestRun_ReadinessTimeout(t *testing.T) {
	var exited atomic.Bool
	stuck := func(ctx Context, s state.Snapshot) (state.Delta, error) {
		<-ctx.Done()
		exited.Store(true)
		return nil, ctx.Err()
	}

	compiled := mustCompile(t, forkGraph(appendTo("left", "L"), stuck, bothSides))

	start := time.Now()
	_, err := compiled.Run(testCtx(), nil, WithReadinessTimeout(30*time.Millisecond))

	var readyErr *ReadinessTimeoutError
	require.ErrorAs(t, err, &readyErr)
	assert.Equal(t, "readiness timeout", readyErr.Reason)
	assert.GreaterOrEqual(t, readyErr.Waited, 30*time.Millisecond)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, exited.Load())
}

// TestRun_MaxConcurrency tests that the limit bounds in-flight branches.
func TestRun_MaxConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	branch := func(name string) NodeFunc {
		return func(ctx Context, s state.Snapshot) (state.Delta, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return state.Delta{"trail": name}, nil
		}
	}
	allThree := func(ctx Context, s state.Snapshot) (state.Delta, error) {
		if s.Len("trail") < 4 {
			return nil, nil
		}
		return state.Delta{"merged": "done"}, nil
	}

	compiled := mustCompile(t, NewGraph(testSchema()).
		AddNode("split", track("split")).
		AddNode("a", branch("a")).
		AddNode("b", branch("b")).
		AddNode("c", branch("c")).
		AddJoin("join", allThree).
		AddEdge("split", "a").
		AddEdge("split", "b").
		AddEdge("split", "c").
		AddEdge("a", "join").
		AddEdge("b", "join").
		AddEdge("c", "join").
		AddEdge("join", END).
		SetEntry("split"))

	snap, err := compiled.Run(testCtx(), nil, WithMaxConcurrency(1))

	require.NoError(t, err)
	assert.Equal(t, "done", state.GetOr(snap, "merged", ""))
	assert.Equal(t, int32(1), peak.Load())
}

// TestRun_BranchErrorCancelsSiblings tests that one failing branch stops the
// other and Run waits for it.
func TestRun_BranchErrorCancelsSiblings(t *testing.T) {
	var siblingExited atomic.Bool
	sibling := func(ctx Context, s state.Snapshot) (state.Delta, error) {
		<-ctx.Done()
		siblingExited.Store(true)
		return nil, ctx.Err()
	}

	compiled := mustCompile(t, forkGraph(failing(errors.New("left broke")), sibling, bothSides))

	_, err := compiled.Run(testCtx(), nil)

	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "left", nodeErr.NodeID)
	assert.True(t, siblingExited.Load())
}
