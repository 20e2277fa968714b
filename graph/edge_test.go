package graph

import "testing"

func TestEdgePredicates(t *testing.T) {
	t.Run("nil predicate is unconditional", func(t *testing.T) {
		edge := Edge[TestState]{From: "capture_screen", To: "analyze"}
		if edge.When != nil {
			t.Error("expected nil When for an unconditional edge")
		}
	})

	t.Run("guard evaluates over state", func(t *testing.T) {
		retryBudgetLeft := func(s TestState) bool { return s.Counter < 3 }
		edge := Edge[TestState]{From: "increment_retry", To: "capture_screen", When: retryBudgetLeft}

		if !edge.When(TestState{Counter: 2}) {
			t.Error("guard should pass with budget remaining")
		}
		if edge.When(TestState{Counter: 3}) {
			t.Error("guard should fail with budget exhausted")
		}
	})

	t.Run("compound guard", func(t *testing.T) {
		when := func(s TestState) bool { return s.Counter > 0 && s.Value != "" }
		if !when(TestState{Counter: 1, Value: "ok"}) {
			t.Error("both conditions met")
		}
		if when(TestState{Counter: 1}) || when(TestState{Value: "ok"}) {
			t.Error("single condition must not pass")
		}
	})
}

func TestEdgePriorityOrderSelectsFirstMatch(t *testing.T) {
	// Mirrors how the engine routes: first matching edge in connect order
	// wins, so the fallback edge goes last with a nil predicate.
	edges := []Edge[TestState]{
		{From: "verify", To: "advance", When: func(s TestState) bool { return s.Value == "passed" }},
		{From: "verify", To: "increment_retry"},
	}

	route := func(s TestState) string {
		for _, e := range edges {
			if e.When == nil || e.When(s) {
				return e.To
			}
		}
		return ""
	}

	if got := route(TestState{Value: "passed"}); got != "advance" {
		t.Errorf("passed verification routed to %q, want advance", got)
	}
	if got := route(TestState{Value: ""}); got != "increment_retry" {
		t.Errorf("failed verification routed to %q, want increment_retry", got)
	}
}
