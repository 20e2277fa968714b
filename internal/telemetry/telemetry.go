// Package telemetry bridges graph/emit.Emitter onto github.com/rs/zerolog,
// mapping the event shape ({RunID, Step, NodeID, Msg, Meta}) onto chained
// structured fields, and additionally tees a human-readable narration line
// to the terminal so an operator can watch a run live while the structured
// stream feeds the run history.
package telemetry

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/autoqa/agentcore/graph/emit"
)

// ZerologEmitter implements emit.Emitter by writing structured, leveled
// events through a zerolog.Logger.
type ZerologEmitter struct {
	log zerolog.Logger
}

// NewZerologEmitter builds an emitter writing to os.Stdout at the given
// minimum level.
func NewZerologEmitter(level zerolog.Level) *ZerologEmitter {
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	return &ZerologEmitter{log: logger}
}

// Emit writes a single structured event at info level, or warn level for
// error events, chaining Meta as zerolog fields.
func (z *ZerologEmitter) Emit(event emit.Event) {
	ev := z.log.Info()
	if event.Msg == "error" {
		ev = z.log.Warn()
	}
	ev = ev.Str("run_id", event.RunID).Int("step", event.Step).Str("node", event.NodeID)
	for k, v := range event.Meta {
		ev = ev.Interface(k, v)
	}
	ev.Msg(event.Msg)
}

// EmitBatch emits each event in order.
func (z *ZerologEmitter) EmitBatch(_ context.Context, events []emit.Event) error {
	for _, e := range events {
		z.Emit(e)
	}
	return nil
}

// Flush is a no-op: zerolog writes synchronously to its writer.
func (z *ZerologEmitter) Flush(_ context.Context) error { return nil }

// StepGraphEmitter wraps an inner emit.Emitter (typically the History
// Recorder's event sink) and additionally writes a one-line, human-readable
// narration of every node transition to stdout, so an operator watching a
// run live sees progress without tailing a JSON log.
type StepGraphEmitter struct {
	inner   emit.Emitter
	console zerolog.Logger
}

// NewStepGraphEmitter builds a StepGraphEmitter that forwards every event
// to inner and additionally narrates node_start, error and routing_decision
// events.
func NewStepGraphEmitter(inner emit.Emitter) *StepGraphEmitter {
	return &StepGraphEmitter{
		inner:   inner,
		console: zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger(),
	}
}

func (s *StepGraphEmitter) Emit(event emit.Event) {
	if s.inner != nil {
		s.inner.Emit(event)
	}
	s.narrate(event)
}

func (s *StepGraphEmitter) EmitBatch(ctx context.Context, events []emit.Event) error {
	for _, e := range events {
		s.Emit(e)
	}
	if s.inner != nil {
		return s.inner.EmitBatch(ctx, events)
	}
	return nil
}

func (s *StepGraphEmitter) Flush(ctx context.Context) error {
	if s.inner != nil {
		return s.inner.Flush(ctx)
	}
	return nil
}

func (s *StepGraphEmitter) narrate(event emit.Event) {
	switch event.Msg {
	case "node_start":
		s.console.Info().Msgf("[%s] step %d: %s", event.RunID, event.Step, event.NodeID)
	case "error":
		s.console.Error().Msgf("[%s] step %d: %s failed: %v", event.RunID, event.Step, event.NodeID, event.Meta["error"])
	case "routing_decision":
		if next, ok := event.Meta["next_node"]; ok {
			s.console.Debug().Msg(fmt.Sprintf("[%s] step %d: %s -> %v", event.RunID, event.Step, event.NodeID, next))
		}
	}
}
