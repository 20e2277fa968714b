package device

import (
	"context"
	"testing"

	"github.com/autoqa/agentcore/internal/control"
)

func newTestDriver(shell *MockShell) *Driver {
	return New(shell, control.New(), "auto")
}

func TestTapIssuesInputTap(t *testing.T) {
	shell := &MockShell{}
	d := newTestDriver(shell)

	res := d.Tap(context.Background(), 100, 200)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(shell.Calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(shell.Calls))
	}
	got := shell.Calls[0]
	want := []string{"shell", "input", "tap", "100", "200"}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("call[%d] = %q, want %q (full: %v)", i, got[i], w, got)
		}
	}
}

func TestRetriesOnTransportErrorThenSucceeds(t *testing.T) {
	shell := &MockShell{FailNTimes: 2}
	d := New(shell, control.New(), "auto", WithRetries(3))

	res := d.Tap(context.Background(), 1, 1)
	if !res.Success {
		t.Fatalf("expected eventual success after retries, got %+v", res)
	}
}

func TestRetriesExhaustedReportsFailure(t *testing.T) {
	shell := &MockShell{FailNTimes: 10}
	d := New(shell, control.New(), "auto", WithRetries(3))

	res := d.Tap(context.Background(), 1, 1)
	if res.Success {
		t.Fatalf("expected failure after exhausting retries")
	}
}

func TestStopShortCircuitsBeforeTransportCall(t *testing.T) {
	shell := &MockShell{}
	ctrl := control.New()
	ctrl.Start()
	ctrl.Stop()
	d := New(shell, ctrl, "auto")

	res := d.Tap(context.Background(), 1, 1)
	if res.Success {
		t.Fatalf("expected stop to short-circuit the primitive")
	}
	if len(shell.Calls) != 0 {
		t.Fatalf("expected no transport call once stopped, got %d", len(shell.Calls))
	}
}

func TestInputTextEscapesWhitespace(t *testing.T) {
	shell := &MockShell{}
	d := newTestDriver(shell)

	d.InputText(context.Background(), "hello world")
	got := shell.Calls[0][len(shell.Calls[0])-1]
	if got != "hello%sworld" {
		t.Fatalf("expected escaped text, got %q", got)
	}
}

func TestScreenDimensionsPrefersOverrideSize(t *testing.T) {
	shell := &MockShell{WMSize: "Physical size: 1080x1920\nOverride size: 720x1280\n"}
	d := newTestDriver(shell)

	w, h := d.ScreenDimensions(context.Background())
	if w != 720 || h != 1280 {
		t.Fatalf("expected override size 720x1280, got %dx%d", w, h)
	}
}

func TestScreenDimensionsFallsBackToPhysicalSize(t *testing.T) {
	shell := &MockShell{WMSize: "Physical size: 1080x1920\n"}
	d := newTestDriver(shell)

	w, h := d.ScreenDimensions(context.Background())
	if w != 1080 || h != 1920 {
		t.Fatalf("expected physical size 1080x1920, got %dx%d", w, h)
	}
}

func TestTapPercentConvertsToPixels(t *testing.T) {
	shell := &MockShell{WMSize: "Physical size: 1000x2000\n"}
	d := newTestDriver(shell)

	d.TapPercent(context.Background(), 50, 25)
	got := shell.Calls[len(shell.Calls)-1]
	if got[len(got)-2] != "500" || got[len(got)-1] != "500" {
		t.Fatalf("expected tap at (500, 500), got %v", got)
	}
}

func TestConnectedParsesGetState(t *testing.T) {
	shell := &MockShell{GetState: "device"}
	d := newTestDriver(shell)

	if !d.Connected(context.Background()) {
		t.Fatalf("expected connected=true")
	}
}
