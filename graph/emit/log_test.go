package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitterTextMode(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, false)

	l.Emit(Event{RunID: "run-001", Step: 2, NodeID: "execute", Msg: "node_start"})

	line := buf.String()
	for _, want := range []string{"[node_start]", "runID=run-001", "step=2", "nodeID=execute"} {
		if !strings.Contains(line, want) {
			t.Errorf("output %q missing %q", line, want)
		}
	}
}

func TestLogEmitterTextModeIncludesMeta(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, false)

	l.Emit(Event{RunID: "r", Msg: "error", Meta: map[string]interface{}{"error": "tap failed"}})

	if !strings.Contains(buf.String(), `meta={"error":"tap failed"}`) {
		t.Errorf("output %q missing meta", buf.String())
	}
}

func TestLogEmitterJSONMode(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, true)

	l.Emit(Event{RunID: "run-001", Step: 1, NodeID: "verify", Msg: "node_end"})

	var decoded struct {
		RunID  string `json:"runID"`
		Step   int    `json:"step"`
		NodeID string `json:"nodeID"`
		Msg    string `json:"msg"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("not valid JSON: %v (%q)", err, buf.String())
	}
	if decoded.RunID != "run-001" || decoded.Step != 1 || decoded.NodeID != "verify" || decoded.Msg != "node_end" {
		t.Errorf("decoded %+v", decoded)
	}
}

func TestLogEmitterBatchPreservesOrder(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, true)

	events := []Event{
		{RunID: "r", Step: 0, Msg: "node_start"},
		{RunID: "r", Step: 0, Msg: "node_end"},
		{RunID: "r", Step: 1, Msg: "node_start"},
	}
	if err := l.EmitBatch(context.Background(), events); err != nil {
		t.Fatalf("EmitBatch: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 JSONL lines, got %d", len(lines))
	}
	if !strings.Contains(lines[2], `"step":1`) {
		t.Errorf("last line out of order: %q", lines[2])
	}
}

func TestLogEmitterNilWriterDefaultsToStdout(t *testing.T) {
	l := NewLogEmitter(nil, false)
	if l.writer == nil {
		t.Fatal("nil writer must default")
	}
}
