package stepgraph

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autoqa/agentcore/internal/agentstate"
	"github.com/autoqa/agentcore/internal/control"
	"github.com/autoqa/agentcore/internal/device"
	"github.com/autoqa/agentcore/internal/history"
	"github.com/autoqa/agentcore/internal/knowledge"
	"github.com/autoqa/agentcore/internal/model"
	"github.com/autoqa/agentcore/internal/verify"
	"github.com/autoqa/agentcore/internal/vision"
)

func grayPNG(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: shade})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fixture struct {
	deps     Deps
	shell    *device.MockShell
	chat     *model.MockVisionModel
	learned  *knowledge.LearnedSolutionStore
	cases    *knowledge.TestCaseStore
	profiles *knowledge.DeviceProfileStore
	refs     *verify.FSReferenceStore
	recorder *history.Recorder
	ctl      *control.Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	shell := &device.MockShell{
		WMSize:     "Physical size: 1080x1920\n",
		GetState:   "device",
		Screencap_: grayPNG(t, 64, 64, 255),
	}
	ctl := control.New()
	ctl.Start()
	driver := device.New(shell, ctl, "")

	chat := &model.MockVisionModel{
		LocatePoint:       image.Pt(50, 40),
		LocateConfidence:  90,
		LocateFound:       true,
		ExtractTargetText: "Settings",
		ReferenceName:     "settings_opened",
	}

	profiles, err := knowledge.NewDeviceProfileStore(dir+"/profiles", 0.7)
	require.NoError(t, err)
	resolver := vision.New(profiles, chat, nil, nil, 0, 0)

	refs := verify.NewFSReferenceStore(dir + "/references")
	verifier := verify.New(refs, nil, 0.85, 1.0)

	cases := knowledge.NewTestCaseStore(dir+"/cases", nil, nil)
	learned := knowledge.NewLearnedSolutionStore(dir + "/learned")
	recorder := history.NewRecorder(dir + "/history")

	return &fixture{
		deps: Deps{
			Driver:     driver,
			Vision:     resolver,
			Verifier:   verifier,
			TestCases:  cases,
			Learned:    learned,
			Profiles:   profiles,
			Controller: ctl,
			Recorder:   recorder,
			Model:      chat,
			ShotsDir:   dir + "/shots",
			Settle:     time.Second,
			Sleep:      func(time.Duration) {},
		},
		shell:    shell,
		chat:     chat,
		learned:  learned,
		cases:    cases,
		profiles: profiles,
		refs:     refs,
		recorder: recorder,
		ctl:      ctl,
	}
}

func (f *fixture) addTestCase(t *testing.T, id string, goals ...string) {
	t.Helper()
	steps := make([]agentstate.Step, 0, len(goals))
	for _, g := range goals {
		steps = append(steps, agentstate.Step{Goal: g})
	}
	_, err := f.cases.Upsert(context.Background(), agentstate.TestCase{
		ID: id, Title: id, Steps: steps, CreatedAt: time.Now(), SourceHash: id,
	})
	require.NoError(t, err)
}

func initialState(testID string, useLearned bool) agentstate.State {
	return agentstate.State{
		Mode:           agentstate.ModeTest,
		Status:         agentstate.StatusRunning,
		TestID:         testID,
		RunID:          "run-" + testID,
		UseLearned:     useLearned,
		MaxRetries:     3,
		ShouldContinue: true,
	}
}

func calls(chat *model.MockVisionModel, name string) int {
	n := 0
	for _, c := range chat.Calls {
		if c == name {
			n++
		}
	}
	return n
}

func TestFreshSingleTapRun(t *testing.T) {
	f := newFixture(t)
	f.addTestCase(t, "T-001", "Tap Settings")
	require.NoError(t, f.refs.Save(context.Background(), "device_1080x1920", "settings_opened", f.shell.Screencap_))
	require.NoError(t, f.recorder.StartRun("run-T-001", "T-001", agentstate.ModeTest))

	g, err := New(f.deps, 200)
	require.NoError(t, err)

	final, err := g.Run(context.Background(), "run-T-001", initialState("T-001", true))
	require.NoError(t, err)

	require.Equal(t, agentstate.StatusSuccess, final.Status)
	require.Equal(t, 1, final.CurrentStep)
	require.Equal(t, 1, final.TotalSteps)
	require.Empty(t, final.Errors)

	// The learned solution carries the resolved coordinate.
	sol, ok := f.learned.Get("T-001")
	require.True(t, ok)
	require.Len(t, sol.Steps, 1)
	require.Equal(t, agentstate.ActionTap, sol.Steps[0].ActionKind)
	require.NotNil(t, sol.Steps[0].Coordinate)
	require.Equal(t, 50, sol.Steps[0].Coordinate.X)
	require.Equal(t, 40, sol.Steps[0].Coordinate.Y)
	require.Equal(t, 1, sol.ExecutionCount)
	require.Equal(t, 1.0, sol.SuccessRate)

	// The tap reached the device shell.
	foundTap := false
	for _, c := range f.shell.Calls {
		if len(c) >= 3 && c[1] == "input" && c[2] == "tap" {
			foundTap = true
		}
	}
	require.True(t, foundTap)

	// The coordinate was promoted into the device profile.
	_, found := f.profiles.Lookup("device_1080x1920", "settings")
	require.True(t, found)

	// History captured the run.
	run, ok := f.recorder.Run("run-T-001")
	require.True(t, ok)
	require.Equal(t, agentstate.StatusSuccess, run.Status)
	require.Equal(t, 1, run.StepsPassed)
}

func TestReplaySkipsVision(t *testing.T) {
	f := newFixture(t)
	f.addTestCase(t, "T-001", "Tap Settings")
	require.NoError(t, f.refs.Save(context.Background(), "device_1080x1920", "settings_opened", f.shell.Screencap_))
	require.NoError(t, f.recorder.StartRun("run-T-001", "T-001", agentstate.ModeTest))

	_, err := f.learned.Upsert("T-001", "device_1080x1920", []agentstate.LearnedStep{{
		StepNumber: 1,
		ActionKind: agentstate.ActionTap,
		TargetName: "Settings",
		Coordinate: &agentstate.Coordinate{X: 50, Y: 40, Source: agentstate.SourceOCR},
		Success:    true,
	}}, true, time.Now())
	require.NoError(t, err)

	g, err := New(f.deps, 200)
	require.NoError(t, err)

	final, err := g.Run(context.Background(), "run-T-001", initialState("T-001", true))
	require.NoError(t, err)

	require.Equal(t, agentstate.StatusSuccess, final.Status)
	require.True(t, final.HasLearnedSolution)

	// Vision resolution never ran: no routing question, no icon localization.
	require.Zero(t, calls(f.chat, "AskYesNo"))
	require.Zero(t, calls(f.chat, "LocateIcon"))

	sol, _ := f.learned.Get("T-001")
	require.Equal(t, 2, sol.ExecutionCount)
	require.Equal(t, 1.0, sol.SuccessRate)
}

func TestLearnedSolutionOtherGeometryIgnored(t *testing.T) {
	f := newFixture(t)
	f.addTestCase(t, "T-002", "Tap Settings")
	require.NoError(t, f.refs.Save(context.Background(), "device_1080x1920", "settings_opened", f.shell.Screencap_))

	_, err := f.learned.Upsert("T-002", "device_800x600", []agentstate.LearnedStep{{
		StepNumber: 1, ActionKind: agentstate.ActionTap,
		Coordinate: &agentstate.Coordinate{X: 10, Y: 10, Source: agentstate.SourceOCR},
		Success:    true,
	}}, true, time.Now())
	require.NoError(t, err)

	g, err := New(f.deps, 200)
	require.NoError(t, err)

	final, err := g.Run(context.Background(), "run-T-002", initialState("T-002", true))
	require.NoError(t, err)

	require.False(t, final.HasLearnedSolution, "a solution from another geometry must not be consumed")
	require.Equal(t, agentstate.StatusSuccess, final.Status)
	// Perception ran instead of replay.
	require.NotZero(t, calls(f.chat, "LocateIcon"))
}

func TestRetryBudgetExhaustionSuspendsForHuman(t *testing.T) {
	f := newFixture(t)
	f.addTestCase(t, "T-003", "Tap Nonexistent")
	require.NoError(t, f.recorder.StartRun("run-T-003", "T-003", agentstate.ModeTest))

	// Nothing resolves: no profile entry, model finds nothing.
	f.chat.LocateFound = false
	f.chat.ExtractTargetText = "Nonexistent"

	g, err := New(f.deps, 400)
	require.NoError(t, err)

	final, err := g.Run(context.Background(), "run-T-003", initialState("T-003", true))
	require.NoError(t, err)

	require.Equal(t, agentstate.StatusWaitingHITL, final.Status)
	require.True(t, final.WaitingForHITL)
	require.Equal(t, 0, final.FailedStep)
	require.Equal(t, final.MaxRetries, final.RetryCount)
	require.Equal(t, 0, final.CurrentStep, "no step completed")
}

func TestHITLGuidanceReentry(t *testing.T) {
	f := newFixture(t)
	f.addTestCase(t, "T-004", "Tap Nonexistent")
	require.NoError(t, f.recorder.StartRun("run-T-004", "T-004", agentstate.ModeTest))
	f.chat.LocateFound = false
	f.chat.ExtractTargetText = "Nonexistent"

	g, err := New(f.deps, 400)
	require.NoError(t, err)

	suspended, err := g.Run(context.Background(), "run-T-004", initialState("T-004", true))
	require.NoError(t, err)
	require.True(t, suspended.WaitingForHITL)

	// Human supplies a remedial action in free text.
	suspended.HITLGuidance = "press home and try again"
	f.chat.Guidance = model.GuidanceInterpretation{ActionType: "press_home", ThenRetry: true, Reasoning: "reset to home first"}
	// The screen changes after the remedial action, so its pixel-diff
	// verification passes.
	f.shell.Screencap_ = grayPNG(t, 64, 64, 0)

	resumed, err := g.Run(context.Background(), "run-T-004", suspended)
	require.NoError(t, err)

	// The remedial key press reached the device.
	foundHome := false
	for _, c := range f.shell.Calls {
		if len(c) >= 4 && c[1] == "input" && c[2] == "keyevent" && c[3] == "3" {
			foundHome = true
		}
	}
	require.True(t, foundHome)

	// The failed step was re-attempted (still unresolvable), so the run is
	// suspended again with the remedial flag consumed.
	require.True(t, resumed.WaitingForHITL)
	require.False(t, resumed.HITLRetryPending)
	require.Equal(t, 0, resumed.CurrentStep)
}

func TestHITLCoordinateGuidance(t *testing.T) {
	f := newFixture(t)
	f.addTestCase(t, "T-005", "Tap Mystery")
	require.NoError(t, f.recorder.StartRun("run-T-005", "T-005", agentstate.ModeTest))
	f.chat.LocateFound = false
	f.chat.ExtractTargetText = "Mystery"

	g, err := New(f.deps, 400)
	require.NoError(t, err)

	suspended, err := g.Run(context.Background(), "run-T-005", initialState("T-005", true))
	require.NoError(t, err)
	require.True(t, suspended.WaitingForHITL)

	suspended.HITLCoordinate = &agentstate.Coordinate{X: 30, Y: 30}
	f.shell.Screencap_ = grayPNG(t, 64, 64, 0)

	resumed, err := g.Run(context.Background(), "run-T-005", suspended)
	require.NoError(t, err)

	require.Equal(t, agentstate.StatusSuccess, resumed.Status)
	require.Equal(t, 1, resumed.CurrentStep)
}

func TestStandaloneCommandNeverSavesLearned(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.recorder.StartRun("run-cmd", "", agentstate.ModeStandalone))
	require.NoError(t, f.refs.Save(context.Background(), "device_1080x1920", "settings_opened", f.shell.Screencap_))
	f.chat.Intent = model.IntentSplit{
		Intent: "open launcher then media", NumberOfSteps: 2,
		Steps: []string{"open app launcher", "tap Media"},
	}

	g, err := New(f.deps, 400)
	require.NoError(t, err)

	initial := agentstate.State{
		Mode:            agentstate.ModeStandalone,
		Status:          agentstate.StatusRunning,
		TestDescription: "open app launcher and tap Media",
		RunID:           "run-cmd",
		MaxRetries:      3,
		ShouldContinue:  true,
	}
	final, err := g.Run(context.Background(), "run-cmd", initial)
	require.NoError(t, err)

	require.Equal(t, agentstate.StatusSuccess, final.Status)
	require.Equal(t, 2, final.TotalSteps)
	require.Equal(t, 2, final.CurrentStep)

	// Standalone runs have no test id and persist nothing.
	_, ok := f.learned.Get("")
	require.False(t, ok)
}

func TestStopDuringRun(t *testing.T) {
	f := newFixture(t)
	f.addTestCase(t, "T-006", "Tap Settings")
	require.NoError(t, f.recorder.StartRun("run-T-006", "T-006", agentstate.ModeTest))

	f.ctl.Stop()

	g, err := New(f.deps, 200)
	require.NoError(t, err)

	final, err := g.Run(context.Background(), "run-T-006", initialState("T-006", true))
	require.NoError(t, err)

	require.Equal(t, agentstate.StatusStopped, final.Status)
	require.False(t, final.ShouldContinue)
	_, ok := f.learned.Get("T-006")
	require.False(t, ok, "no learned solution after stop")
}

func TestEmptyGoalRoutesToHuman(t *testing.T) {
	f := newFixture(t)
	f.addTestCase(t, "T-007", "   ")
	require.NoError(t, f.recorder.StartRun("run-T-007", "T-007", agentstate.ModeTest))

	g, err := New(f.deps, 200)
	require.NoError(t, err)

	final, err := g.Run(context.Background(), "run-T-007", initialState("T-007", true))
	require.NoError(t, err)

	require.Equal(t, agentstate.StatusWaitingHITL, final.Status)
	require.True(t, final.WaitingForHITL)
}

func TestMissingTestCaseFailsRun(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.recorder.StartRun("run-T-404", "T-404", agentstate.ModeTest))

	g, err := New(f.deps, 200)
	require.NoError(t, err)

	final, err := g.Run(context.Background(), "run-T-404", initialState("T-404", true))
	require.NoError(t, err)

	require.Equal(t, agentstate.StatusFailure, final.Status)
	require.NotEmpty(t, final.Errors)
}

func TestLearnedStepWithoutCoordinateFallsBack(t *testing.T) {
	f := newFixture(t)
	f.addTestCase(t, "T-008", "Tap Settings")
	require.NoError(t, f.refs.Save(context.Background(), "device_1080x1920", "settings_opened", f.shell.Screencap_))

	// Learned step has neither coordinate nor profile entry: the step
	// disables replay for itself and falls back to perception.
	_, err := f.learned.Upsert("T-008", "device_1080x1920", []agentstate.LearnedStep{{
		StepNumber: 1, ActionKind: agentstate.ActionTap, TargetName: "Unknown Widget", Success: true,
	}}, true, time.Now())
	require.NoError(t, err)

	g, err := New(f.deps, 400)
	require.NoError(t, err)

	final, err := g.Run(context.Background(), "run-T-008", initialState("T-008", true))
	require.NoError(t, err)

	require.Equal(t, agentstate.StatusSuccess, final.Status)
	require.NotZero(t, calls(f.chat, "LocateIcon"), "perception ran for the uncovered index")
}

func TestDetermineTestStatus(t *testing.T) {
	cases := []struct {
		name string
		s    agentstate.State
		want agentstate.Status
	}{
		{"stopped wins", agentstate.State{StopRequested: true, WaitingForHITL: true}, agentstate.StatusStopped},
		{"waiting beats failure", agentstate.State{WaitingForHITL: true, Errors: []string{"x"}}, agentstate.StatusWaitingHITL},
		{"failure beats success", agentstate.State{Errors: []string{"x"}, CurrentStep: 2, TotalSteps: 2}, agentstate.StatusFailure},
		{"success", agentstate.State{Mode: agentstate.ModeTest, CurrentStep: 2, TotalSteps: 2}, agentstate.StatusSuccess},
		{"incomplete", agentstate.State{Mode: agentstate.ModeTest, CurrentStep: 1, TotalSteps: 2}, agentstate.StatusIncomplete},
		{"idle", agentstate.State{Mode: agentstate.ModeIdle}, agentstate.StatusIdle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DetermineTestStatus(tc.s))
		})
	}
}

func TestParseGuidanceCoordinate(t *testing.T) {
	cases := []struct {
		text  string
		x, y  int
		found bool
	}{
		{"click at 850,450", 850, 450, true},
		{"tap at 850, 450", 850, 450, true},
		{"the button is at (120, 300)", 120, 300, true},
		{"try x=55 y=66", 55, 66, true},
		{"press home and try again", 0, 0, false},
	}
	for _, tc := range cases {
		coord, ok := ParseGuidanceCoordinate(tc.text)
		require.Equal(t, tc.found, ok, tc.text)
		if ok {
			require.Equal(t, tc.x, coord.X, tc.text)
			require.Equal(t, tc.y, coord.Y, tc.text)
			require.Equal(t, agentstate.SourceHITL, coord.Source)
		}
	}
}

func TestClassifyGoal(t *testing.T) {
	cases := []struct {
		goal string
		want agentstate.ActionKind
	}{
		{"Tap Settings", agentstate.ActionTap},
		{"Double tap the map", agentstate.ActionDoubleTap},
		{"Long press the tile", agentstate.ActionLongPress},
		{"Swipe down to open notifications", agentstate.ActionSwipe},
		{"Scroll left in the carousel", agentstate.ActionSwipe},
		{"Type \"hello world\" in the search box", agentstate.ActionInputText},
		{"Press home", agentstate.ActionPressHome},
		{"Go back to the previous screen", agentstate.ActionPressBack},
		{"Press enter to confirm", agentstate.ActionPressEnter},
	}
	for _, tc := range cases {
		kind, _ := classifyGoal(tc.goal)
		require.Equal(t, tc.want, kind, tc.goal)
	}
}

func TestClassifyGoalExtractsPayloads(t *testing.T) {
	kind, params := classifyGoal(`Type "pop music" in the search field`)
	require.Equal(t, agentstate.ActionInputText, kind)
	require.Equal(t, "pop music", params["text"])

	kind, params = classifyGoal("Swipe down to open notifications")
	require.Equal(t, agentstate.ActionSwipe, kind)
	require.Equal(t, "down", params["direction"])
}

func TestRefNameCacheEviction(t *testing.T) {
	c := newRefNameCache(2)
	c.put("a", "a_opened")
	c.put("b", "b_opened")
	c.put("c", "c_opened")

	_, ok := c.get("a")
	require.False(t, ok, "oldest entry evicted")
	v, ok := c.get("c")
	require.True(t, ok)
	require.Equal(t, "c_opened", v)
}

func TestHeuristicTarget(t *testing.T) {
	require.Equal(t, "Settings", heuristicTarget("Tap Settings"))
	require.Equal(t, "Media app", heuristicTarget("Open the Media app."))
	require.Equal(t, "Bluetooth toggle", heuristicTarget("click on the Bluetooth toggle"))
}
