package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autoqa/agentcore/internal/agentstate"
)

func fixedClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestRecorderRunLifecycle(t *testing.T) {
	r := NewRecorder(t.TempDir()).WithClock(fixedClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

	require.NoError(t, r.StartRun("run-1", "T-001", agentstate.ModeTest))
	require.Error(t, r.StartRun("run-1", "T-001", agentstate.ModeTest), "duplicate run id")

	require.NoError(t, r.RecordStep(StepRecord{
		RunID: "run-1", TestID: "T-001", StepIndex: 0, Goal: "Tap Settings",
		ActionKind: agentstate.ActionTap, TargetName: "Settings",
		Coordinate:       &agentstate.Coordinate{X: 850, Y: 450, Source: agentstate.SourceOCR},
		CoordinateSource: agentstate.SourceOCR,
		SSIMScore:        0.93, SSIMPassed: true, SSIMThreshold: 0.85,
		ReferenceName: "settings_opened", DurationMS: 1200, Status: "passed",
	}))
	require.NoError(t, r.RecordStep(StepRecord{
		RunID: "run-1", TestID: "T-001", StepIndex: 1, Goal: "Tap Media",
		ActionKind: agentstate.ActionTap,
		SSIMScore:  0.71, SSIMPassed: false, SSIMThreshold: 0.85,
		DurationMS: 900, Status: "failed", Error: "ssim below threshold",
	}))

	run, err := r.FinishRun("run-1", agentstate.StatusFailure)
	require.NoError(t, err)
	require.Equal(t, 1, run.StepsPassed)
	require.Equal(t, 1, run.StepsFailed)
	require.InDelta(t, 0.82, run.AverageSSIM, 0.001)
	require.Len(t, run.Steps, 2)
	require.Greater(t, run.DurationMS, int64(0))

	// The finished run is readable back from disk.
	loaded, ok := r.Run("run-1")
	require.True(t, ok)
	require.Equal(t, run.RunID, loaded.RunID)
	require.Len(t, loaded.Steps, 2)
	require.Equal(t, agentstate.StatusFailure, loaded.Status)
}

func TestRecordStepUnknownRun(t *testing.T) {
	r := NewRecorder(t.TempDir())
	require.Error(t, r.RecordStep(StepRecord{RunID: "ghost"}))
}

func TestIndexPagination(t *testing.T) {
	r := NewRecorder(t.TempDir()).WithClock(fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.StartRun(id, "T-"+id, agentstate.ModeTest))
		_, err := r.FinishRun(id, agentstate.StatusSuccess)
		require.NoError(t, err)
	}

	all, err := r.Index(0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest-first: run "c" started last.
	require.Equal(t, "c", all[0].RunID)

	page, err := r.Index(1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "b", page[0].RunID)

	empty, err := r.Index(10, 5)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestFinishRunReplacesIndexEntry(t *testing.T) {
	r := NewRecorder(t.TempDir())

	require.NoError(t, r.StartRun("run-x", "T-9", agentstate.ModeStandalone))
	_, err := r.FinishRun("run-x", agentstate.StatusSuccess)
	require.NoError(t, err)

	// Re-running the same id (a fresh run reusing an operator-chosen id)
	// replaces the entry rather than duplicating it.
	require.NoError(t, r.StartRun("run-x", "T-9", agentstate.ModeStandalone))
	_, err = r.FinishRun("run-x", agentstate.StatusStopped)
	require.NoError(t, err)

	entries, err := r.Index(0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, agentstate.StatusStopped, entries[0].Status)
}
