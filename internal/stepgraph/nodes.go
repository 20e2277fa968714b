package stepgraph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/autoqa/agentcore/graph"
	"github.com/autoqa/agentcore/internal/agentstate"
	"github.com/autoqa/agentcore/internal/device"
	"github.com/autoqa/agentcore/internal/history"
	"github.com/autoqa/agentcore/internal/vision"
)

type result = graph.NodeResult[agentstate.State]

// checkResume is the single entry point of every invocation. It does no
// work itself: the should_resume_from_hitl guard on its outgoing edges
// short-circuits a pending-guidance re-entry straight to apply_guidance,
// everything else proceeds to detect_mode.
func (g *Graph) checkResume(_ context.Context, s agentstate.State) result {
	delta := newDelta(s)
	return result{Delta: delta}
}

// detectMode stamps the run as running and routes by mode. Idle runs have
// nothing to do and terminate immediately.
func (g *Graph) detectMode(_ context.Context, s agentstate.State) result {
	delta := newDelta(s)
	if s.Mode == agentstate.ModeIdle {
		delta.Status = agentstate.StatusIdle
		return result{Delta: delta, Route: graph.Stop()}
	}
	delta.Status = agentstate.StatusRunning
	delta.ExecutionLog = []string{"run started in " + string(s.Mode) + " mode"}
	return result{Delta: delta}
}

// ragRetrieval loads the test case's ordered steps by exact id. It runs on
// the first step only: a populated step list (from a prior pass or a HITL
// re-entry) is left alone.
func (g *Graph) ragRetrieval(_ context.Context, s agentstate.State) result {
	delta := newDelta(s)
	if len(s.TestSteps) > 0 {
		return result{Delta: delta}
	}
	if g.deps.TestCases == nil {
		delta.Errors = []string{"no test case store configured"}
		return result{Delta: delta}
	}
	tc, ok := g.deps.TestCases.Get(s.TestID)
	if !ok {
		delta.Errors = []string{"test case not found: " + s.TestID}
		return result{Delta: delta}
	}
	delta.TestDescription = tc.Title
	delta.TestSteps = append([]agentstate.Step(nil), tc.Steps...)
	delta.TotalSteps = len(tc.Steps)
	delta.ExecutionLog = []string{fmt.Sprintf("loaded test case %s (%d steps)", tc.ID, len(tc.Steps))}
	return result{Delta: delta}
}

// checkLearned looks up a replayable solution for the test on the current
// device geometry. A solution captured on a different geometry is never
// consumed.
func (g *Graph) checkLearned(ctx context.Context, s agentstate.State) result {
	delta := newDelta(s)

	if delta.DeviceID == "" && g.deps.Driver != nil {
		w, h := g.deps.Driver.ScreenDimensions(ctx)
		delta.DeviceID = agentstate.DeviceID(w, h)
	}

	delta.HasLearnedSolution = false
	delta.LearnedSolution = nil
	if g.deps.Learned == nil || s.TestID == "" {
		return result{Delta: delta}
	}
	sol, ok := g.deps.Learned.Get(s.TestID)
	if !ok || len(sol.Steps) == 0 {
		return result{Delta: delta}
	}
	if sol.DeviceID != delta.DeviceID {
		delta.ExecutionLog = []string{"learned solution ignored: captured on " + sol.DeviceID}
		return result{Delta: delta}
	}
	delta.HasLearnedSolution = true
	delta.LearnedSolution = &sol
	delta.ExecutionLog = []string{fmt.Sprintf("learned solution found (%d steps, %.0f%% success)", len(sol.Steps), sol.SuccessRate*100)}
	return result{Delta: delta}
}

// parseIntent splits a free-text standalone command into ordered steps via
// the model. The command travels in TestDescription.
func (g *Graph) parseIntent(ctx context.Context, s agentstate.State) result {
	delta := newDelta(s)
	if len(s.TestSteps) > 0 {
		return result{Delta: delta}
	}
	if g.deps.Model == nil {
		delta.Errors = []string{"no model configured for intent parsing"}
		return result{Delta: delta}
	}
	split, err := g.deps.Model.SplitIntent(ctx, s.TestDescription)
	if err != nil || len(split.Steps) == 0 {
		delta.Errors = []string{"intent split failed for command: " + s.TestDescription}
		return result{Delta: delta}
	}
	steps := make([]agentstate.Step, 0, len(split.Steps))
	for _, goal := range split.Steps {
		steps = append(steps, agentstate.Step{Goal: goal})
	}
	delta.TestSteps = steps
	delta.TotalSteps = len(steps)
	delta.ExecutionLog = []string{fmt.Sprintf("command split into %d steps", len(steps))}
	return result{Delta: delta}
}

// captureScreen takes the before-shot for the current attempt and stores it
// under the run's screenshot directory.
func (g *Graph) captureScreen(ctx context.Context, s agentstate.State) result {
	delta := newDelta(s)
	delta.CurrentScreenshot = ""

	if g.deps.Driver == nil {
		delta.Errors = []string{"no device driver configured"}
		return result{Delta: delta}
	}
	png, w, h, err := g.deps.Driver.Screenshot(ctx)
	if err != nil {
		// Recoverable: routes into the retry budget, not the run's errors.
		delta.ExecutionLog = []string{"screenshot failed: " + err.Error()}
		return result{Delta: delta}
	}
	if delta.DeviceID == "" {
		delta.DeviceID = agentstate.DeviceID(w, h)
	}

	path, err := g.saveShot(s.RunID, s.CurrentStep, s.RetryCount, "before", png)
	if err != nil {
		delta.ExecutionLog = []string{"saving screenshot: " + err.Error()}
		return result{Delta: delta}
	}
	delta.CurrentScreenshot = path
	delta.BeforeScreenshot = path
	return result{Delta: delta}
}

// analyze asks the Vision Resolver for a summary of the current screen plus
// OCR detections. Perception failures are downgraded: planning proceeds
// with whatever context is available.
func (g *Graph) analyze(ctx context.Context, s agentstate.State) result {
	delta := newDelta(s)
	if g.deps.Vision == nil {
		return result{Delta: delta}
	}
	shot, err := g.loadShot(s.CurrentScreenshot)
	if err != nil {
		return result{Delta: delta}
	}
	goal := currentGoal(s)
	summary, elements, err := g.deps.Vision.Analyze(ctx, shot, "What is on this screen relevant to: "+goal)
	if err == nil {
		delta.ScreenAnalysis = summary
	}
	delta.DetectedElements = elements
	return result{Delta: delta}
}

// planAction turns the current step's goal into a concrete action: a kind,
// parameters, an optional resolved coordinate, and the expected reference
// image name for verification.
func (g *Graph) planAction(ctx context.Context, s agentstate.State) result {
	delta := newDelta(s)

	goal := strings.TrimSpace(currentGoal(s))
	if goal == "" {
		delta.Errors = []string{fmt.Sprintf("no goal for step %d", s.CurrentStep+1)}
		return result{Delta: delta}
	}

	kind, params := classifyGoal(goal)
	delta.ActionKind = kind
	delta.ActionParameters = params
	delta.PlannedAction = string(kind) + ": " + goal
	delta.ExpectedReference = g.referenceName(ctx, s, goal)

	if isDirectKey(kind) || kind == agentstate.ActionInputText || kind == agentstate.ActionSwipe || kind == agentstate.ActionPressKey {
		return result{Delta: delta}
	}

	// Tap-like action: resolve the target to a coordinate.
	target := g.targetName(ctx, goal)
	delta.TargetName = target

	delta.TargetCoordinate = nil
	if g.deps.Vision != nil {
		shot, err := g.loadShot(s.CurrentScreenshot)
		if err == nil {
			coord, err := g.deps.Vision.FindElement(ctx, shot, target, delta.DeviceID)
			if err == nil && coord != nil {
				delta.TargetCoordinate = coord
				delta.ExecutionLog = []string{fmt.Sprintf("resolved %q to (%d, %d) via %s", target, coord.X, coord.Y, coord.Source)}
			}
		}
	}
	if delta.TargetCoordinate == nil && g.deps.Model != nil {
		// Model fallback planner: the deterministic pipeline found nothing,
		// ask the model what to do with this goal.
		planned, err := g.deps.Model.PlanAction(ctx, goal, s.ScreenAnalysis)
		if err == nil {
			if kind := parseActionKind(planned.ActionType); kind != "" {
				delta.ActionKind = kind
			}
			if planned.TargetElement != "" {
				delta.TargetName = planned.TargetElement
			}
		}
	}
	return result{Delta: delta}
}

// directExecute serves two paths: direct-key actions that bypass the full
// execute pipeline, and learned-solution replay.
func (g *Graph) directExecute(ctx context.Context, s agentstate.State) result {
	delta := newDelta(s)

	// Direct-key bypass from planning.
	if isDirectKey(s.ActionKind) {
		ar := g.performAction(ctx, delta)
		delta.LastActionResult = &ar
		delta.ActionSuccess = ar.Success
		if !ar.Success {
			delta.ExecutionLog = []string{"direct key failed: " + ar.Error}
			return result{Delta: delta, Route: graph.Goto(NodeIncrementRetry)}
		}
		return result{Delta: delta, Route: graph.Goto(NodeVerify)}
	}

	// Replay path: find the learned step for the current index.
	ls, ok := learnedStepAt(s.LearnedSolution, s.CurrentStep)
	if !ok {
		delta.UseLearned = false
		delta.ExecutionLog = []string{fmt.Sprintf("no learned step for index %d, falling back to perception", s.CurrentStep)}
		return result{Delta: delta, Route: graph.Goto(NodeCaptureScreen)}
	}

	coord := ls.Coordinate
	if coord == nil && ls.TargetName != "" && g.deps.Profiles != nil {
		if stored, found := g.deps.Profiles.Lookup(s.DeviceID, vision.NormalizeName(ls.TargetName)); found {
			coord = &agentstate.Coordinate{X: stored.X, Y: stored.Y, Source: agentstate.SourceLearned, Confidence: 100}
		}
	}
	if coord == nil && needsCoordinate(ls.ActionKind) {
		delta.UseLearned = false
		delta.ExecutionLog = []string{fmt.Sprintf("learned step %d carries no coordinate, falling back to perception", ls.StepNumber)}
		return result{Delta: delta, Route: graph.Goto(NodeCaptureScreen)}
	}

	delta.ActionKind = ls.ActionKind
	delta.TargetName = ls.TargetName
	if coord != nil {
		delta.TargetCoordinate = &agentstate.Coordinate{X: coord.X, Y: coord.Y, Source: agentstate.SourceLearned, Confidence: 100}
	}
	if ls.Text != "" {
		delta.ActionParameters = map[string]string{"text": ls.Text}
	}
	delta.PlannedAction = "replay: " + string(ls.ActionKind)
	delta.ExpectedReference = g.referenceName(ctx, s, currentGoal(s))

	// Capture a before-shot so the pixel-diff fallback still has both
	// sides when no reference image exists for this step.
	if g.deps.Driver != nil {
		if png, _, _, err := g.deps.Driver.Screenshot(ctx); err == nil {
			if path, err := g.saveShot(s.RunID, s.CurrentStep, s.RetryCount, "before", png); err == nil {
				delta.BeforeScreenshot = path
			}
		}
	}

	ar := g.performAction(ctx, delta)
	delta.LastActionResult = &ar
	delta.ActionSuccess = ar.Success
	if !ar.Success {
		delta.ExecutionLog = []string{"replay action failed: " + ar.Error}
		return result{Delta: delta, Route: graph.Goto(NodeIncrementRetry)}
	}
	return result{Delta: delta, Route: graph.Goto(NodeVerify)}
}

// execute runs the planned primitive against the device.
func (g *Graph) execute(ctx context.Context, s agentstate.State) result {
	delta := newDelta(s)

	ar := g.performAction(ctx, delta)
	delta.LastActionResult = &ar
	delta.ActionSuccess = ar.Success
	if !ar.Success {
		// Action failures are step-level retry triggers, not run errors.
		delta.ExecutionLog = []string{"action failed: " + ar.Error}
	}
	return result{Delta: delta}
}

// performAction dispatches one primitive per the delta's action kind,
// reporting failure (never panicking) when a required coordinate or
// parameter is missing.
func (g *Graph) performAction(ctx context.Context, delta agentstate.State) agentstate.ActionResult {
	if g.deps.Driver == nil {
		return agentstate.ActionResult{Success: false, Error: "no device driver configured"}
	}

	coord := delta.TargetCoordinate
	needCoord := needsCoordinate(delta.ActionKind)
	if needCoord && coord == nil {
		target := delta.TargetName
		if target == "" {
			target = "target"
		}
		return agentstate.ActionResult{Success: false, Error: "no coordinate resolved for " + target}
	}

	var res device.Result
	switch delta.ActionKind {
	case agentstate.ActionTap:
		res = g.deps.Driver.Tap(ctx, coord.X, coord.Y)
	case agentstate.ActionDoubleTap:
		res = g.deps.Driver.DoubleTap(ctx, coord.X, coord.Y, paramInt(delta.ActionParameters, "delay_ms", 50))
	case agentstate.ActionLongPress:
		res = g.deps.Driver.LongPress(ctx, coord.X, coord.Y, paramInt(delta.ActionParameters, "duration_ms", 1000))
	case agentstate.ActionSwipe:
		res = g.swipe(ctx, delta)
	case agentstate.ActionInputText:
		text := delta.ActionParameters["text"]
		if text == "" {
			return agentstate.ActionResult{Success: false, Error: "no text payload for input_text"}
		}
		res = g.deps.Driver.InputText(ctx, text)
	case agentstate.ActionPressHome:
		res = g.deps.Driver.PressHome(ctx)
	case agentstate.ActionPressBack:
		res = g.deps.Driver.PressBack(ctx)
	case agentstate.ActionPressEnter:
		res = g.deps.Driver.PressEnter(ctx)
	case agentstate.ActionPressKey:
		code := paramInt(delta.ActionParameters, "keycode", 0)
		if code == 0 {
			return agentstate.ActionResult{Success: false, Error: "no keycode for press_key"}
		}
		res = g.deps.Driver.PressKey(ctx, code)
	default:
		return agentstate.ActionResult{Success: false, Error: "unknown action kind: " + string(delta.ActionKind)}
	}
	return agentstate.ActionResult{Success: res.Success, Output: res.Output, Error: res.Error, DurationMS: res.DurationMS}
}

func (g *Graph) swipe(ctx context.Context, delta agentstate.State) device.Result {
	distance := paramInt(delta.ActionParameters, "distance", 400)
	duration := paramInt(delta.ActionParameters, "duration_ms", 300)
	switch delta.ActionParameters["direction"] {
	case "down":
		return g.deps.Driver.SwipeDown(ctx, distance, duration)
	case "left":
		return g.deps.Driver.SwipeLeft(ctx, distance, duration)
	case "right":
		return g.deps.Driver.SwipeRight(ctx, distance, duration)
	default:
		return g.deps.Driver.SwipeUp(ctx, distance, duration)
	}
}

// verifyStep waits for the UI to settle, captures the after-shot, and asks
// the Verifier for a verdict. The step outcome is recorded in history here,
// and a freshly-resolved coordinate is promoted into the Device Profile on
// success.
func (g *Graph) verifyStep(ctx context.Context, s agentstate.State) result {
	delta := newDelta(s)
	start := time.Now()

	g.deps.sleep(g.deps.settle())

	var afterPNG []byte
	var afterPath string
	if g.deps.Driver != nil {
		png, _, _, err := g.deps.Driver.Screenshot(ctx)
		if err == nil {
			afterPNG = png
			afterPath, _ = g.saveShot(s.RunID, s.CurrentStep, s.RetryCount, "after", png)
		}
	}

	goal := currentGoal(s)
	if afterPNG == nil {
		delta.ExecutionLog = []string{"verification failed: cannot capture after-shot"}
		delta.VerificationResult = &agentstate.VerificationResult{}
		g.recordStep(s, delta, afterPath, start, false, "cannot capture after-shot")
		return result{Delta: delta}
	}

	beforePNG, _ := os.ReadFile(s.BeforeScreenshot)

	var vr *agentstate.VerificationResult
	var err error
	if g.deps.Verifier != nil {
		if wantsDisappearance(goal) && s.TargetName != "" {
			vr, err = g.deps.Verifier.VerifyDisappeared(ctx, s.DeviceID, beforePNG, afterPNG, s.ExpectedReference, s.TargetName)
		} else {
			vr, err = g.deps.Verifier.Verify(ctx, s.DeviceID, beforePNG, afterPNG, s.ExpectedReference, goal)
		}
	}
	if err != nil || vr == nil {
		msg := "verifier unavailable"
		if err != nil {
			msg = err.Error()
		}
		delta.ExecutionLog = []string{"verification failed: " + msg}
		delta.VerificationResult = &agentstate.VerificationResult{}
		g.recordStep(s, delta, afterPath, start, false, msg)
		return result{Delta: delta}
	}

	delta.VerificationResult = vr
	if vr.OverallPassed {
		delta.ExecutionLog = []string{fmt.Sprintf("step %d verified (ssim %.2f)", s.CurrentStep+1, vr.SSIM.Similarity)}
		g.promoteCoordinate(delta)
	}
	g.recordStep(s, delta, afterPath, start, vr.OverallPassed, "")
	return result{Delta: delta}
}

// promoteCoordinate writes a freshly-resolved coordinate into the Device
// Profile. Coordinates that came from the profile or a learned solution are
// already known and skipped.
func (g *Graph) promoteCoordinate(delta agentstate.State) {
	coord := delta.TargetCoordinate
	if coord == nil || g.deps.Profiles == nil || delta.TargetName == "" {
		return
	}
	if coord.Source == agentstate.SourceLearned || coord.Source == agentstate.SourceDeviceProfile {
		return
	}
	w, h := 0, 0
	fmt.Sscanf(delta.DeviceID, "device_%dx%d", &w, &h)
	_ = g.deps.Profiles.Upsert(delta.DeviceID, w, h, vision.NormalizeName(delta.TargetName), coord.X, coord.Y, coord.Source)
}

func (g *Graph) recordStep(s, delta agentstate.State, afterPath string, start time.Time, passed bool, errMsg string) {
	if g.deps.Recorder == nil {
		return
	}
	status := "failed"
	if passed {
		status = "passed"
	}
	rec := history.StepRecord{
		RunID:       s.RunID,
		TestID:      s.TestID,
		StepIndex:   s.CurrentStep,
		Goal:        currentGoal(s),
		ActionKind:  delta.ActionKind,
		TargetName:  delta.TargetName,
		Coordinate:  delta.TargetCoordinate,
		BeforePath:  s.BeforeScreenshot,
		AfterPath:   afterPath,
		DurationMS:  time.Since(start).Milliseconds(),
		Status:      status,
		Error:       errMsg,
		UsedLearned: delta.TargetCoordinate != nil && delta.TargetCoordinate.Source == agentstate.SourceLearned,
	}
	if delta.TargetCoordinate != nil {
		rec.CoordinateSource = delta.TargetCoordinate.Source
	}
	if vr := delta.VerificationResult; vr != nil && vr.SSIM.ReferenceFound {
		rec.SSIMScore = vr.SSIM.Similarity
		rec.SSIMPassed = vr.SSIM.Passed
		rec.SSIMThreshold = vr.SSIM.Threshold
		rec.ReferenceName = s.ExpectedReference
		rec.ComparisonPath = vr.ComparisonImg
	}
	_ = g.deps.Recorder.RecordStep(rec)
}

// incrementRetry burns one unit of the per-step retry budget and clears the
// attempt-local fields so the next pass re-perceives from scratch.
func (g *Graph) incrementRetry(_ context.Context, s agentstate.State) result {
	delta := newDelta(s)
	if delta.RetryCount < delta.MaxRetries {
		delta.RetryCount++
	}
	delta.ExecutionLog = []string{fmt.Sprintf("step %d attempt failed (retry %d/%d)", s.CurrentStep+1, delta.RetryCount, delta.MaxRetries)}

	delta.CurrentScreenshot = ""
	delta.TargetCoordinate = nil
	delta.LastActionResult = nil
	delta.ActionSuccess = false
	delta.VerificationResult = nil
	return result{Delta: delta}
}

// waitHuman suspends the run for human guidance. If guidance happens to be
// present already (a racing send_guidance), it is applied immediately.
func (g *Graph) waitHuman(_ context.Context, s agentstate.State) result {
	delta := newDelta(s)
	delta.WaitingForHITL = true
	delta.Status = agentstate.StatusWaitingHITL
	delta.FailedStep = s.CurrentStep
	delta.HITLApplied = false
	problem := lastError(s)
	if problem == "" {
		problem = fmt.Sprintf("step %d failed after %d retries", s.CurrentStep+1, s.RetryCount)
	}
	delta.HITLProblem = problem
	delta.ExecutionLog = []string{"waiting for human guidance: " + problem}

	// route_hitl_ready
	if s.HITLGuidance != "" || s.HITLCoordinate != nil {
		return result{Delta: delta, Route: graph.Goto(NodeApplyGuidance)}
	}
	return result{Delta: delta, Route: graph.Stop()}
}

// advance closes out a verified step: captures it into the executed-steps
// accumulator, moves to the next index, and clears step-local fields. A
// pending HITL remedial retry instead stays on the same step with a fresh
// retry budget.
func (g *Graph) advance(_ context.Context, s agentstate.State) result {
	delta := newDelta(s)

	if s.HITLRetryPending {
		delta.HITLRetryPending = false
		delta.RetryCount = 0
		delta.ExecutionLog = []string{fmt.Sprintf("remedial action done, re-attempting step %d", s.CurrentStep+1)}
	} else {
		executed := agentstate.LearnedStep{
			StepNumber: s.CurrentStep + 1,
			ActionKind: s.ActionKind,
			TargetName: s.TargetName,
			Text:       s.ActionParameters["text"],
			Success:    true,
		}
		if s.TargetCoordinate != nil {
			executed.Coordinate = &agentstate.Coordinate{
				X: s.TargetCoordinate.X, Y: s.TargetCoordinate.Y,
				Source: s.TargetCoordinate.Source, Confidence: s.TargetCoordinate.Confidence,
			}
		}
		delta.ExecutedSteps = []agentstate.LearnedStep{executed}
		delta.CurrentStep = s.CurrentStep + 1
		delta.RetryCount = 0
		delta.ExecutionLog = []string{fmt.Sprintf("step %d complete (%d/%d)", s.CurrentStep+1, delta.CurrentStep, s.TotalSteps)}
	}

	// Step-local fields reset; the learned-solution snapshot survives and
	// replay is re-enabled for the next index.
	delta.PlannedAction = ""
	delta.ActionKind = ""
	delta.TargetName = ""
	delta.TargetCoordinate = nil
	delta.ActionParameters = nil
	delta.ExpectedReference = ""
	delta.LastActionResult = nil
	delta.ActionSuccess = false
	delta.VerificationResult = nil
	delta.CurrentScreenshot = ""
	delta.BeforeScreenshot = ""
	delta.ScreenAnalysis = ""
	delta.DetectedElements = nil
	delta.WaitingForHITL = false
	delta.HITLProblem = ""
	delta.HITLGuidance = ""
	delta.HITLCoordinate = nil
	delta.HITLActionKind = ""
	delta.HITLApplied = false
	if s.HasLearnedSolution {
		delta.UseLearned = true
	}
	return result{Delta: delta}
}

// saveLearned persists the run's executed steps as the test's replayable
// solution. Only test-mode runs that completed every step with a non-empty
// accumulator are saved; standalone runs never persist.
func (g *Graph) saveLearned(_ context.Context, s agentstate.State) result {
	delta := newDelta(s)
	if s.Mode != agentstate.ModeTest || g.deps.Learned == nil {
		return result{Delta: delta}
	}
	if s.CurrentStep < s.TotalSteps || len(s.ExecutedSteps) == 0 {
		return result{Delta: delta}
	}
	_, err := g.deps.Learned.Upsert(s.TestID, s.DeviceID, s.ExecutedSteps, true, time.Now())
	if err != nil {
		// Persistence failures never abort the run; the solution simply
		// isn't saved this time.
		delta.ExecutionLog = []string{"saving learned solution failed: " + err.Error()}
		return result{Delta: delta}
	}
	delta.ExecutionLog = []string{fmt.Sprintf("learned solution saved (%d steps)", len(s.ExecutedSteps))}
	return result{Delta: delta}
}

// logResults settles the final status, flushes the run's history, and
// terminates the invocation.
func (g *Graph) logResults(_ context.Context, s agentstate.State) result {
	delta := newDelta(s)
	status := DetermineTestStatus(s)
	delta.Status = status
	delta.ShouldContinue = false
	delta.ExecutionLog = []string{fmt.Sprintf("run finished: %s (%d/%d steps)", status, s.CurrentStep, s.TotalSteps)}

	if g.deps.Recorder != nil {
		_, _ = g.deps.Recorder.FinishRun(s.RunID, status)
	}
	return result{Delta: delta, Route: graph.Stop()}
}

// --- shared helpers ---

func currentGoal(s agentstate.State) string {
	if s.CurrentStep >= 0 && s.CurrentStep < len(s.TestSteps) {
		return s.TestSteps[s.CurrentStep].Goal
	}
	return ""
}

func learnedStepAt(sol *agentstate.LearnedSolution, index int) (agentstate.LearnedStep, bool) {
	if sol == nil {
		return agentstate.LearnedStep{}, false
	}
	for _, ls := range sol.Steps {
		if ls.StepNumber == index+1 {
			return ls, true
		}
	}
	if index >= 0 && index < len(sol.Steps) {
		return sol.Steps[index], true
	}
	return agentstate.LearnedStep{}, false
}

func needsCoordinate(kind agentstate.ActionKind) bool {
	switch kind {
	case agentstate.ActionTap, agentstate.ActionDoubleTap, agentstate.ActionLongPress:
		return true
	}
	return false
}

func wantsDisappearance(goal string) bool {
	lower := strings.ToLower(goal)
	return strings.Contains(lower, "close") || strings.Contains(lower, "dismiss")
}

func paramInt(params map[string]string, key string, fallback int) int {
	if params == nil {
		return fallback
	}
	if v, err := strconv.Atoi(params[key]); err == nil && v > 0 {
		return v
	}
	return fallback
}

func (g *Graph) saveShot(runID string, step, retry int, phase string, png []byte) (string, error) {
	dir := filepath.Join(g.deps.ShotsDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("step%d_try%d_%s.png", step, retry, phase))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (g *Graph) loadShot(path string) (vision.Screenshot, error) {
	png, err := os.ReadFile(path)
	if err != nil {
		return vision.Screenshot{}, err
	}
	cfg, err := decodePNGSize(png)
	if err != nil {
		return vision.Screenshot{}, err
	}
	return vision.Screenshot{PNG: png, Width: cfg.w, Height: cfg.h}, nil
}
