package graph

import (
	"context"
	"errors"
	"testing"
)

// TestState is the minimal state type the engine tests share.
type TestState struct {
	Value   string
	Counter int
}

func TestStopAndGoto(t *testing.T) {
	next := Stop()
	if !next.Terminal {
		t.Error("Stop() must set Terminal")
	}
	if next.To != "" {
		t.Error("Stop() must not name a node")
	}

	next = Goto("verify")
	if next.Terminal {
		t.Error("Goto() must not set Terminal")
	}
	if next.To != "verify" {
		t.Errorf("Goto() routed to %q, want verify", next.To)
	}
}

func TestNodeFuncAdaptsPlainFunctions(t *testing.T) {
	called := false
	node := NodeFunc[TestState](func(_ context.Context, s TestState) NodeResult[TestState] {
		called = true
		return NodeResult[TestState]{Delta: TestState{Value: "ran", Counter: s.Counter + 1}}
	})

	result := node.Run(context.Background(), TestState{Counter: 4})
	if !called {
		t.Fatal("NodeFunc did not execute")
	}
	if result.Delta.Value != "ran" || result.Delta.Counter != 5 {
		t.Errorf("unexpected delta: %+v", result.Delta)
	}
	if result.Route.To != "" || result.Route.Terminal {
		t.Errorf("zero route means edge-based routing, got %+v", result.Route)
	}
}

func TestNodeErrorFormatsAndUnwraps(t *testing.T) {
	cause := errors.New("device unreachable")
	err := &NodeError{Message: "tap failed", Code: "ACTION_FAILED", NodeID: "execute", Cause: cause}

	if err.Error() != "node execute: tap failed" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap must expose the cause")
	}

	bare := &NodeError{Message: "no node id"}
	if bare.Error() != "no node id" {
		t.Errorf("Error() without NodeID = %q", bare.Error())
	}
}
