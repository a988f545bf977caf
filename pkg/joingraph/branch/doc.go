// Package branch provides the nodes for fan-out/fan-in workflows over a
// shared conversation: a FanOut that seeds private branch histories and
// records an Anchor, an Agent and ToolNode pair that loop one branch through
// its tools, ToolsCondition to route between them, and a Reducer that waits
// for every branch and aggregates their new output into one message.
//
// # Wiring
//
//	schema := state.MustSchema(
//	    branch.MessagesField("messages"),
//	    branch.MessagesField("messages_assistant_1"),
//	    branch.MessagesField("messages_assistant_2"),
//	    branch.AnchorField("anchor"),
//	    branch.EpochField("reduced_epoch"),
//	)
//
//	fan := branch.FanOut{Shared: "messages", Branches: []string{...}, Anchor: "anchor"}
//	red := &branch.Reducer{Shared: "messages", Branches: fan.Branches, Anchor: "anchor",
//	    Epoch: "reduced_epoch", Aggregator: aggregator}
//
//	g := joingraph.NewGraph(schema).
//	    AddNode("fanout", fan.Node(), joingraph.WithWrites(fan.Writes()...)).
//	    AddJoin("reducer", red.Node(), joingraph.WithWrites(red.Writes()...))
//	b1.AddTo(g, "reducer")
//	b2.AddTo(g, "reducer")
//	g.AddEdge("fanout", b1.AgentID).AddEdge("fanout", b2.AgentID).AddEdge("reducer", joingraph.END)
//
// # Epochs
//
// Every FanOut run starts a new epoch. The Reducer aggregates at most once
// per epoch: it records the epoch it reduced and returns an empty delta for
// it afterwards, and the executor stops polling a join once it fired.
//
// # Tool loop
//
// A branch moves through AwaitingModel, AwaitingTool and Done. The Agent
// handles AwaitingModel, the ToolNode handles AwaitingTool, and the branch
// reaches the join in Done. After MaxToolRounds answered tool rounds the
// Agent calls its final reasoner and drops any tool request, so the loop
// always ends.
package branch
