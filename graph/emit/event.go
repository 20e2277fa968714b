// Package emit carries the run event stream: every node transition,
// routing decision, and error the engine produces flows through an Emitter,
// feeding the terminal narration and the run history.
package emit

// Event is one observation from a run: a node starting or ending, a
// routing decision, or an error.
type Event struct {
	// RunID identifies the run that emitted this event.
	RunID string

	// Step is the engine's transition counter within the run, zero-based.
	Step int

	// NodeID names the graph node this event belongs to. Empty for
	// run-level events.
	NodeID string

	// Msg is the event kind: "node_start", "node_end",
	// "routing_decision", "error".
	Msg string

	// Meta carries event-specific fields: "next_node" and "via_edge" on
	// routing decisions, "error" on errors, "delta" on node_end.
	Meta map[string]interface{}
}
