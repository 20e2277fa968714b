package agentstate

import (
	"testing"
	"time"
)

func TestReduceAccumulatesLogsAndErrors(t *testing.T) {
	prev := State{
		ExecutionLog: []string{"step1 started"},
		Errors:       nil,
	}
	delta := State{
		CurrentStep:  1,
		ExecutionLog: []string{"step1 done"},
		Errors:       []string{"transient tap failure"},
	}

	next := Reduce(prev, delta)

	if next.CurrentStep != 1 {
		t.Fatalf("expected CurrentStep=1, got %d", next.CurrentStep)
	}
	wantLog := []string{"step1 started", "step1 done"}
	if len(next.ExecutionLog) != len(wantLog) {
		t.Fatalf("expected log %v, got %v", wantLog, next.ExecutionLog)
	}
	for i, l := range wantLog {
		if next.ExecutionLog[i] != l {
			t.Fatalf("log[%d] = %q, want %q", i, next.ExecutionLog[i], l)
		}
	}
	if len(next.Errors) != 1 || next.Errors[0] != "transient tap failure" {
		t.Fatalf("unexpected errors: %v", next.Errors)
	}
}

func TestReduceExecutedStepsAccumulate(t *testing.T) {
	prev := State{ExecutedSteps: []LearnedStep{{StepNumber: 1, Success: true}}}
	delta := State{ExecutedSteps: []LearnedStep{{StepNumber: 2, Success: true}}}

	next := Reduce(prev, delta)
	if len(next.ExecutedSteps) != 2 {
		t.Fatalf("expected 2 executed steps, got %d", len(next.ExecutedSteps))
	}
	if next.ExecutedSteps[0].StepNumber != 1 || next.ExecutedSteps[1].StepNumber != 2 {
		t.Fatalf("unexpected order: %+v", next.ExecutedSteps)
	}
}

func TestLearnedSolutionRecordExecutionClampsRate(t *testing.T) {
	ls := &LearnedSolution{}
	ls.RecordExecution(true, time.Now())
	if ls.SuccessRate != 1.0 {
		t.Fatalf("expected success rate 1.0, got %f", ls.SuccessRate)
	}
	ls.RecordExecution(false, time.Now())
	if ls.ExecutionCount != 2 || ls.SuccessCount != 1 {
		t.Fatalf("unexpected counters: %+v", ls)
	}
	if ls.SuccessRate != 0.5 {
		t.Fatalf("expected success rate 0.5, got %f", ls.SuccessRate)
	}
}

func TestDeviceID(t *testing.T) {
	if got := DeviceID(1920, 1080); got != "device_1920x1080" {
		t.Fatalf("unexpected device id: %s", got)
	}
}
