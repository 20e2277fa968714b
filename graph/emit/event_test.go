package emit

import "testing"

func TestEventCarriesRoutingMeta(t *testing.T) {
	event := Event{
		RunID:  "run-001",
		Step:   3,
		NodeID: "verify",
		Msg:    "routing_decision",
		Meta:   map[string]interface{}{"next_node": "advance", "via_edge": true},
	}

	if event.Meta["next_node"] != "advance" {
		t.Errorf("next_node = %v", event.Meta["next_node"])
	}
	if event.Meta["via_edge"] != true {
		t.Errorf("via_edge = %v", event.Meta["via_edge"])
	}
}

func TestEventZeroValueIsRunLevel(t *testing.T) {
	var event Event
	if event.NodeID != "" || event.Step != 0 {
		t.Errorf("zero event should be run-level: %+v", event)
	}
	if event.Meta != nil {
		t.Error("zero event carries no meta")
	}
}
