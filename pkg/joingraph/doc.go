/*
Package joingraph provides a graph executor for stateful workflows whose
branches run in parallel and meet again at a join.

# Overview

Nodes read an immutable snapshot of a shared state and return a delta. The
state is declared up front as a schema of named fields, each with a merge
policy: sequences only grow, values are overwritten. The executor merges
deltas one at a time, so nodes never see a torn state.

A node with more than one unconditional edge is a fork: each successor
starts a branch, and branches run concurrently. Branches can loop on their
own (for example model → tools → model) without knowing about each other.
A join node, added with AddJoin, is polled as branches arrive and after
every state change; it decides from the state alone whether it is ready,
fires once per fork epoch, and then continues down its single edge.

# Basic Usage

	schema := state.MustSchema(
	    state.Sequence[string]("events"),
	    state.Value[string]("summary"),
	)

	graph := joingraph.NewGraph(schema).
	    AddNode("split", split).
	    AddNode("left", left).
	    AddNode("right", right).
	    AddJoin("merge", merge).
	    AddEdge("split", "left").
	    AddEdge("split", "right").
	    AddEdge("left", "merge").
	    AddEdge("right", "merge").
	    AddEdge("merge", joingraph.END).
	    SetEntry("split")

	compiled, err := graph.Compile()
	if err != nil {
	    log.Fatal(err)
	}

	ctx := joingraph.NewContext(context.Background())
	snap, err := compiled.Run(ctx, state.Delta{"events": []string{"start"}})
	summary, _ := state.Get[string](snap, "summary")

# Conditional Branching

Routers pick one successor from the post-merge state. Declaring the
possible targets lets Compile check them and detect fork/join pairs:

	graph.AddConditionalEdge("agent", route, "tools", "merge")

# Join Readiness

A join returns an empty delta while it is not ready. The run fails with a
*ReadinessTimeoutError when a join exceeds WithMaxJoinPolls, waits longer
than WithReadinessTimeout, or is still waiting when nothing else is running.

# Checkpointing

	store, _ := checkpoint.NewSQLiteStore("./checkpoints.db")
	defer store.Close()

	snap, err := compiled.Run(ctx, initial,
	    joingraph.WithCheckpointing(store),
	    joingraph.WithRunID("run-123"))

	// Resume after crash
	snap, err = compiled.Resume(ctx, store, "run-123")

# Observability

	snap, err := compiled.Run(ctx, initial,
	    joingraph.WithObservabilityLogger(logger),
	    joingraph.WithMetrics(true),
	    joingraph.WithTracing(true))

OpenTelemetry tracing: joingraph.run > joingraph.node.{id} > joingraph.tool.{name}.

# Thread Safety

  - Graph is NOT safe for concurrent use during construction
  - CompiledGraph IS safe for concurrent use (immutable)
  - Context IS safe for concurrent use
  - checkpoint.Store implementations are safe for concurrent use

# Subpackages

  - state: schema, merge policies, store and snapshots
  - branch: fan-out, per-branch agent and tool loop, fan-in reducer
  - llm: reasoning client interface, Anthropic client, output normalization
  - tool: tool definitions and per-branch tool sets
  - checkpoint: checkpoint storage (memory, SQLite, Redis)
  - retry: error categories and backoff
  - observability: logging, metrics, and tracing helpers
  - config: YAML/JSON configuration
*/
package joingraph
