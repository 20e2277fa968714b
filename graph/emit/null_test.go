package emit

import (
	"context"
	"testing"
)

func TestNullEmitterDiscardsEverything(t *testing.T) {
	n := NewNullEmitter()

	n.Emit(Event{RunID: "run-001", NodeID: "execute", Msg: "node_start"})
	if err := n.EmitBatch(context.Background(), []Event{{Msg: "node_end"}, {Msg: "error"}}); err != nil {
		t.Fatalf("EmitBatch: %v", err)
	}
	if err := n.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
