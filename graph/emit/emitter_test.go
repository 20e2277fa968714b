package emit

import (
	"io"
	"testing"
)

// Every shipped sink must satisfy the Emitter contract.
var (
	_ Emitter = (*LogEmitter)(nil)
	_ Emitter = (*BufferedEmitter)(nil)
	_ Emitter = (*NullEmitter)(nil)
)

func TestEmittersAreInterchangeable(t *testing.T) {
	sinks := []Emitter{
		NewNullEmitter(),
		NewBufferedEmitter(),
		NewLogEmitter(io.Discard, true),
	}
	for _, sink := range sinks {
		sink.Emit(Event{RunID: "r", NodeID: "execute", Msg: "node_start"})
	}
}
