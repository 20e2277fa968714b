package emit

import "context"

// Emitter receives the run event stream. Implementations must be
// thread-safe and must never block or panic: a slow or failing sink cannot
// be allowed to stall a device run mid-step.
//
// This package ships three sinks: LogEmitter (writer-backed text/JSONL),
// BufferedEmitter (in-memory, queryable, used by tests and post-run
// inspection), and NullEmitter (discard). The terminal narration sink
// lives in internal/telemetry on top of this interface.
type Emitter interface {
	// Emit delivers a single event. Errors are handled internally.
	Emit(event Event)

	// EmitBatch delivers events in order as one operation. It returns an
	// error only for unrecoverable sink failures; per-event problems are
	// logged and skipped.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until buffered events are delivered or ctx expires.
	// Call it at run completion and before shutdown; it must be idempotent.
	Flush(ctx context.Context) error
}
