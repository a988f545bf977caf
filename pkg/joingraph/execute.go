package joingraph

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/joingraph/pkg/joingraph/observability"
	"github.com/randalmurphal/joingraph/pkg/joingraph/state"
)

const graphName = "joingraph"

// Run executes the graph with initial applied to an empty state.
// Returns the final state snapshot and any error encountered.
//
// On error, the snapshot holds the state at the point of failure (useful for
// debugging). If initial itself cannot be merged, the zero Snapshot is
// returned with the merge error.
//
// Execution flow:
//  1. Schedule the entry point node
//  2. Launch every scheduled node in its own goroutine on a fresh snapshot
//  3. Merge each completed node's delta, then route it (conditional or
//     simple edges; a fork schedules all of its branches)
//  4. Poll join nodes when a branch arrives and after every state change
//     until they return a non-empty delta
//  5. Stop when nothing is running or scheduled, or on the first error
//
// A failure cancels the context of every node still running. Run returns
// only after they have all returned.
//
// Example:
//
//	ctx := joingraph.NewContext(context.Background())
//	snap, err := compiled.Run(ctx, state.Delta{"messages": msgs})
func (cg *CompiledGraph) Run(ctx Context, initial state.Delta, opts ...RunOption) (state.Snapshot, error) {
	if ctx == nil {
		return state.Snapshot{}, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.checkpointStore != nil && cfg.runID == "" {
		return state.Snapshot{}, ErrRunIDRequired
	}

	store, err := state.NewStore(cg.schema, initial)
	if err != nil {
		return state.Snapshot{}, fmt.Errorf("initial state: %w", err)
	}

	e := cg.newExecution(ctx, &cfg, store)
	e.enqueue(cg.entryPoint)
	return e.run()
}

// completion is the outcome of one node execution, sent back to the driver.
type completion struct {
	nodeID   string
	delta    state.Delta
	err      error
	duration time.Duration
	seen     uint64 // store version the node read
	gen      int    // join epoch generation at launch
}

// execution is the state of one run. Everything except the results channel
// is owned by the driver goroutine.
type execution struct {
	cg     *CompiledGraph
	cfg    *runConfig
	parent Context
	base   *executionContext
	cancel context.CancelFunc
	store  *state.Store

	queue    []string
	queued   map[string]bool
	inFlight []string
	running  int
	joins    map[string]*joinState

	iterations int
	executed   int
	lastNode   string

	results chan completion
	stopped chan struct{}
	wg      sync.WaitGroup
}

func (cg *CompiledGraph) newExecution(ctx Context, cfg *runConfig, store *state.Store) *execution {
	base := fromContext(ctx)
	if cfg.runID != "" {
		base.runID = cfg.runID
	} else {
		cfg.runID = base.runID
	}
	if base.checkpointer == nil {
		base.checkpointer = cfg.checkpointStore
	}
	if cfg.logger == nil {
		cfg.logger = base.logger
	}

	runCtx, cancel := context.WithCancel(ctx)

	joins := make(map[string]*joinState, len(cg.joins))
	for id := range cg.joins {
		joins[id] = &joinState{}
	}

	return &execution{
		cg:      cg,
		cfg:     cfg,
		parent:  ctx,
		base:    base.withContext(runCtx),
		cancel:  cancel,
		store:   store,
		queued:  make(map[string]bool),
		joins:   joins,
		results: make(chan completion),
		stopped: make(chan struct{}),
	}
}

// run wraps the driver loop with run-level observability.
func (e *execution) run() (snap state.Snapshot, runErr error) {
	runID := e.base.runID
	startTime := time.Now()

	observability.LogRunStart(e.cfg.logger, runID)

	spanCtx, runSpan := e.cfg.spans.StartRunSpan(e.base, graphName, runID)
	e.base = e.base.withContext(spanCtx)

	defer func() {
		e.cancel()
		close(e.stopped)
		e.wg.Wait()
		e.cfg.spans.EndSpanWithError(runSpan, runErr)
	}()

	runErr = e.loop()

	duration := time.Since(startTime)
	durationMs := float64(duration.Milliseconds())
	e.cfg.metrics.RecordGraphRun(e.base, runErr == nil, duration)

	if runErr != nil {
		observability.LogRunError(e.cfg.logger, runID, runErr, durationMs, e.failedNode(runErr))
	} else {
		observability.LogRunComplete(e.cfg.logger, runID, durationMs, e.executed)
	}

	return e.store.Snapshot(), runErr
}

// loop is the driver: it launches scheduled nodes and handles completions
// one at a time, so merges, routing and join bookkeeping never race.
func (e *execution) loop() error {
	for {
		if err := e.launchReady(); err != nil {
			return err
		}

		if e.running == 0 && len(e.queue) == 0 {
			return e.checkStalled()
		}

		var deadline <-chan time.Time
		if d, ok := e.nextReadinessDeadline(); ok {
			deadline = time.After(d)
		}

		select {
		case c := <-e.results:
			if err := e.complete(c); err != nil {
				return err
			}
		case <-e.parent.Done():
			return e.cancelled()
		case <-deadline:
			if err := e.checkReadinessDeadlines(); err != nil {
				return err
			}
		}
	}
}

// enqueue schedules a node. A node already waiting in the queue is not
// added twice; it will read the latest state when it launches.
func (e *execution) enqueue(id string) {
	if e.queued[id] {
		return
	}
	e.queued[id] = true
	e.queue = append(e.queue, id)
}

// launchReady starts queued nodes in FIFO order up to the concurrency limit.
func (e *execution) launchReady() error {
	for len(e.queue) > 0 {
		if e.cfg.maxConcurrency > 0 && e.running >= e.cfg.maxConcurrency {
			return nil
		}

		id := e.queue[0]
		e.queue = e.queue[1:]
		delete(e.queued, id)

		n := e.cg.nodes[id]
		gen := 0
		if n.join {
			js := e.joins[id]
			if !js.pollable() {
				continue
			}
			js.polling = true
			gen = js.gen
		}

		if e.parent.Err() != nil {
			return e.cancelled()
		}

		e.iterations++
		if e.iterations > e.cfg.maxIterations {
			return &MaxIterationsError{
				Max:        e.cfg.maxIterations,
				LastNodeID: id,
				State:      e.store.Snapshot(),
			}
		}

		e.launch(n, gen)
	}
	return nil
}

func (e *execution) launch(n *node, gen int) {
	snap := e.store.Snapshot()
	e.running++
	e.inFlight = append(e.inFlight, n.id)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		c := e.execute(n, snap)
		c.gen = gen
		select {
		case e.results <- c:
		case <-e.stopped:
		}
	}()
}

// execute runs one node with tracing and metrics. Called off the driver.
func (e *execution) execute(n *node, snap state.Snapshot) completion {
	observability.LogNodeStart(e.cfg.logger, n.id)

	spanCtx, span := e.cfg.spans.StartNodeSpan(e.base, n.id)
	nodeCtx := e.base.withContext(spanCtx).withNodeID(n.id)

	nodeStart := time.Now()
	delta, err := invokeNode(nodeCtx, n, snap)
	duration := time.Since(nodeStart)

	e.cfg.metrics.RecordNodeExecution(spanCtx, n.id, duration, err)
	e.cfg.spans.EndSpanWithError(span, err)

	return completion{
		nodeID:   n.id,
		delta:    delta,
		err:      err,
		duration: duration,
		seen:     snap.Version(),
	}
}

// invokeNode calls the node function with panic recovery.
func invokeNode(ctx Context, n *node, snap state.Snapshot) (delta state.Delta, err error) {
	defer func() {
		if r := recover(); r != nil {
			delta = nil
			err = &PanicError{
				NodeID: n.id,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	delta, err = n.fn(ctx, snap)
	if err != nil {
		return nil, &NodeError{
			NodeID: n.id,
			Op:     "execute",
			Err:    err,
		}
	}
	return delta, nil
}

// complete handles a finished node on the driver goroutine.
func (e *execution) complete(c completion) error {
	e.running--
	if i := slices.Index(e.inFlight, c.nodeID); i >= 0 {
		e.inFlight = slices.Delete(e.inFlight, i, i+1)
	}

	if c.err != nil {
		if e.parent.Err() != nil {
			return e.cancelled()
		}
		observability.LogNodeError(e.cfg.logger, c.nodeID, c.err)
		return c.err
	}

	n := e.cg.nodes[c.nodeID]
	if n.join {
		return e.completeJoin(n, c)
	}

	snap, changed, err := e.merge(n, c.delta)
	if err != nil {
		observability.LogNodeError(e.cfg.logger, n.id, err)
		return err
	}
	e.executed++
	e.lastNode = n.id
	observability.LogNodeComplete(e.cfg.logger, n.id, float64(c.duration.Milliseconds()), len(c.delta))

	if fork := e.cg.forks[n.id]; fork != nil {
		for _, joinID := range fork.Joins {
			e.joins[joinID].reset()
		}
	}

	if err := e.route(n.id, snap); err != nil {
		return err
	}
	if changed {
		e.repollJoins()
	}

	return e.saveCheckpoint(n.id)
}

// merge checks a delta against the node's declared writes and applies it.
func (e *execution) merge(n *node, delta state.Delta) (state.Snapshot, bool, error) {
	if field, ok := n.checkWrites(delta); !ok {
		return e.store.Snapshot(), false, &NodeError{
			NodeID: n.id,
			Op:     "merge",
			Err:    fmt.Errorf("%w: %s", ErrUndeclaredWrite, field),
		}
	}

	before := e.store.Version()
	snap, err := e.store.Merge(delta)
	if err != nil {
		return snap, false, &NodeError{NodeID: n.id, Op: "merge", Err: err}
	}
	return snap, snap.Version() != before, nil
}

// route schedules the successors of a completed node.
func (e *execution) route(from string, snap state.Snapshot) error {
	if ce, ok := e.cg.conditionalEdges[from]; ok {
		next := ce.router(e.base.withNodeID(from), snap)

		if next == "" {
			return &RouterError{FromNode: from, Returned: next, Err: ErrInvalidRouterResult}
		}
		if next != END && !e.cg.HasNode(next) {
			return &RouterError{FromNode: from, Returned: next, Err: ErrRouterTargetNotFound}
		}
		if len(ce.targets) > 0 && !slices.Contains(ce.targets, next) {
			return &RouterError{FromNode: from, Returned: next, Err: ErrRouterTargetNotDeclared}
		}

		e.schedule(from, next)
		return nil
	}

	for _, to := range e.cg.edges[from] {
		e.schedule(from, to)
	}
	return nil
}

func (e *execution) schedule(from, to string) {
	switch {
	case to == END:
	case e.cg.joins[to]:
		e.arrive(to, from)
	default:
		e.enqueue(to)
	}
}

// cancelled builds the error for a run whose parent context ended.
func (e *execution) cancelled() error {
	nodeID := e.lastNode
	if len(e.inFlight) > 0 {
		nodeID = e.inFlight[0]
	}
	return &CancellationError{
		NodeID:       nodeID,
		State:        e.store.Snapshot(),
		Cause:        e.parent.Err(),
		WasExecuting: e.running > 0,
	}
}

// failedNode extracts the node to blame from a run error.
func (e *execution) failedNode(err error) string {
	var (
		nodeErr   *NodeError
		panicErr  *PanicError
		routerErr *RouterError
		maxErr    *MaxIterationsError
		cancelErr *CancellationError
		readyErr  *ReadinessTimeoutError
	)
	switch {
	case errors.As(err, &nodeErr):
		return nodeErr.NodeID
	case errors.As(err, &panicErr):
		return panicErr.NodeID
	case errors.As(err, &routerErr):
		return routerErr.FromNode
	case errors.As(err, &maxErr):
		return maxErr.LastNodeID
	case errors.As(err, &cancelErr):
		return cancelErr.NodeID
	case errors.As(err, &readyErr):
		return readyErr.JoinID
	}
	return e.lastNode
}
