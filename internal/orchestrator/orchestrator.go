// Package orchestrator implements the orchestrator: the public facade
// owning a single in-flight run. It seeds the initial state, invokes the
// Step Graph, processes human-in-the-loop re-entries, and exposes the
// run/stop/pause/resume/guidance operations the request-layer collaborator
// maps onto its own surface.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autoqa/agentcore/internal/agentstate"
	"github.com/autoqa/agentcore/internal/control"
	"github.com/autoqa/agentcore/internal/history"
	"github.com/autoqa/agentcore/internal/stepgraph"
)

// RunResult is the Orchestrator's return surface: final status, step
// counters, and the accumulated error list.
type RunResult struct {
	Success        bool              `json:"success"`
	Status         agentstate.Status `json:"status"`
	RunID          string            `json:"run_id"`
	StepsCompleted int               `json:"steps_completed"`
	TotalSteps     int               `json:"total_steps"`
	Errors         []string          `json:"errors,omitempty"`
}

// StatusReport is the live view GetStatus returns.
type StatusReport struct {
	Active         bool              `json:"active"`
	Paused         bool              `json:"paused"`
	Status         agentstate.Status `json:"status"`
	RunID          string            `json:"run_id,omitempty"`
	TestID         string            `json:"test_id,omitempty"`
	CurrentStep    int               `json:"current_step"`
	TotalSteps     int               `json:"total_steps"`
	WaitingForHITL bool              `json:"waiting_for_hitl"`
	HITLProblem    string            `json:"hitl_problem,omitempty"`
}

// Orchestrator owns one in-flight AgentState and serializes access to it.
type Orchestrator struct {
	mu   sync.Mutex
	cond *sync.Cond

	deps         stepgraph.Deps
	controller   *control.Controller
	recorder     *history.Recorder
	conflictWait time.Duration
	budget       int

	running bool
	state   *agentstate.State
	graph   *stepgraph.Graph

	// guidancePending rejects a second send_guidance until the first has
	// been consumed by a graph re-entry.
	guidancePending bool
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

// WithConflictWait overrides how long a second run waits for the first to
// finish before reporting a conflict (default 30s).
func WithConflictWait(d time.Duration) Option {
	return func(o *Orchestrator) { o.conflictWait = d }
}

// WithRecursionBudget overrides the node-transition cap per graph
// invocation. Values below 100 are raised to 100.
func WithRecursionBudget(n int) Option {
	return func(o *Orchestrator) { o.budget = n }
}

// New builds an Orchestrator around the step-graph dependency set. The
// controller inside deps is the shared suspension object every node and
// primitive consults.
func New(deps stepgraph.Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:         deps,
		controller:   deps.Controller,
		recorder:     deps.Recorder,
		conflictWait: 30 * time.Second,
		budget:       200,
	}
	o.cond = sync.NewCond(&o.mu)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunTest executes a single test case by id. Comma- or semicolon-joined id
// lists are rejected: one run drives one test.
func (o *Orchestrator) RunTest(ctx context.Context, testID string, useLearned bool, maxRetries int) (RunResult, error) {
	testID = strings.TrimSpace(testID)
	if testID == "" {
		return RunResult{}, fmt.Errorf("test id is required")
	}
	if strings.ContainsAny(testID, ",;") {
		return RunResult{}, fmt.Errorf("test id %q looks like a list; run one test at a time", testID)
	}

	initial := agentstate.State{
		Mode:           agentstate.ModeTest,
		Status:         agentstate.StatusRunning,
		TestID:         testID,
		UseLearned:     useLearned,
		MaxRetries:     normalizeRetries(maxRetries),
		ShouldContinue: true,
	}
	return o.run(ctx, initial)
}

// ExecuteCommand runs a free-form natural-language command in standalone
// mode. Standalone runs never persist learned solutions.
func (o *Orchestrator) ExecuteCommand(ctx context.Context, command string, maxRetries int) (RunResult, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return RunResult{}, fmt.Errorf("command is required")
	}

	initial := agentstate.State{
		Mode:            agentstate.ModeStandalone,
		Status:          agentstate.StatusRunning,
		TestDescription: command,
		MaxRetries:      normalizeRetries(maxRetries),
		ShouldContinue:  true,
	}
	return o.run(ctx, initial)
}

func (o *Orchestrator) run(ctx context.Context, initial agentstate.State) (RunResult, error) {
	if err := o.acquire(); err != nil {
		return RunResult{}, err
	}

	initial.RunID = uuid.NewString()

	g, err := stepgraph.New(o.deps, o.budget)
	if err != nil {
		o.release()
		return RunResult{}, fmt.Errorf("building step graph: %w", err)
	}

	o.mu.Lock()
	o.state = &initial
	o.graph = g
	o.guidancePending = false
	o.mu.Unlock()

	if o.controller != nil {
		o.controller.Start()
	}
	if o.recorder != nil {
		_ = o.recorder.StartRun(initial.RunID, initial.TestID, initial.Mode)
	}

	return o.invoke(ctx, initial)
}

// invoke drives one graph entry (initial or guidance re-entry) and settles
// the retained state afterwards. A run that suspends for HITL keeps its
// slot; everything else releases it.
func (o *Orchestrator) invoke(ctx context.Context, entry agentstate.State) (RunResult, error) {
	final, err := o.graph.Run(ctx, entry.RunID, entry)
	if err != nil {
		// Fatal run error at the graph boundary: flush history and report
		// failure; the error itself travels in the result's error list.
		final = entry
		final.Status = agentstate.StatusFailure
		final.Errors = append(final.Errors, err.Error())
		if o.recorder != nil {
			_, _ = o.recorder.FinishRun(entry.RunID, agentstate.StatusFailure)
		}
	}

	o.mu.Lock()
	o.state = &final
	o.guidancePending = false
	o.mu.Unlock()

	if !final.WaitingForHITL {
		o.release()
	}

	return resultOf(final), nil
}

// SendGuidance delivers human input to a run suspended in HITL and
// re-invokes the graph at check_resume. At most one guidance may be
// outstanding; a second is rejected until the first is consumed.
func (o *Orchestrator) SendGuidance(ctx context.Context, text string, coordinate *agentstate.Coordinate, actionKind agentstate.ActionKind) (RunResult, error) {
	o.mu.Lock()
	if o.state == nil || !o.state.WaitingForHITL {
		o.mu.Unlock()
		return RunResult{}, fmt.Errorf("no run is waiting for guidance")
	}
	if o.guidancePending {
		o.mu.Unlock()
		return RunResult{}, fmt.Errorf("guidance already pending; wait for it to be consumed")
	}
	if strings.TrimSpace(text) == "" && coordinate == nil {
		o.mu.Unlock()
		return RunResult{}, fmt.Errorf("guidance needs text or a coordinate")
	}

	entry := o.state.Clone()
	entry.HITLGuidance = strings.TrimSpace(text)
	entry.HITLCoordinate = coordinate
	entry.HITLActionKind = actionKind
	entry.HITLApplied = false
	o.guidancePending = true
	o.mu.Unlock()

	return o.invoke(ctx, entry)
}

// Stop requests cancellation; the run observes it at its next suspension
// point. Stopping a HITL-suspended run settles it immediately.
func (o *Orchestrator) Stop() {
	if o.controller != nil {
		o.controller.Stop()
	}

	o.mu.Lock()
	suspended := o.state != nil && o.state.WaitingForHITL
	if suspended {
		o.state.WaitingForHITL = false
		o.state.Status = agentstate.StatusStopped
		o.state.StopRequested = true
		o.state.ShouldContinue = false
		if o.recorder != nil {
			_, _ = o.recorder.FinishRun(o.state.RunID, agentstate.StatusStopped)
		}
	}
	o.mu.Unlock()

	if suspended {
		o.release()
	}
}

// Pause suspends the run at its next checkpoint.
func (o *Orchestrator) Pause() {
	if o.controller != nil {
		o.controller.Pause()
	}
}

// Resume clears a pause. Resume without a prior pause is a no-op.
func (o *Orchestrator) Resume() {
	if o.controller != nil {
		o.controller.Resume()
	}
}

// Reset clears the retained state and controller between runs. It refuses
// while a run is executing.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running && (o.state == nil || !o.state.WaitingForHITL) {
		return fmt.Errorf("cannot reset while a run is active")
	}
	o.state = nil
	o.graph = nil
	o.running = false
	o.guidancePending = false
	if o.controller != nil {
		o.controller.Reset()
	}
	o.cond.Broadcast()
	return nil
}

// GetStatus reports the retained state without blocking the run.
func (o *Orchestrator) GetStatus() StatusReport {
	o.mu.Lock()
	defer o.mu.Unlock()

	report := StatusReport{}
	if o.controller != nil {
		report.Active = o.controller.Active()
		report.Paused = o.controller.Paused()
	}
	if o.state != nil {
		report.Status = o.state.Status
		report.RunID = o.state.RunID
		report.TestID = o.state.TestID
		report.CurrentStep = o.state.CurrentStep
		report.TotalSteps = o.state.TotalSteps
		report.WaitingForHITL = o.state.WaitingForHITL
		report.HITLProblem = o.state.HITLProblem
	}
	return report
}

// acquire claims the single run slot, waiting up to conflictWait for the
// current holder to finish.
func (o *Orchestrator) acquire() error {
	deadline := time.Now().Add(o.conflictWait)

	o.mu.Lock()
	defer o.mu.Unlock()

	for o.running {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("another run is in flight")
		}
		// Condition variables have no deadline; poke the waiter on a
		// coarse tick so the timeout is honored.
		waker := time.AfterFunc(remaining, o.cond.Broadcast)
		o.cond.Wait()
		waker.Stop()
	}
	o.running = true
	return nil
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.running = false
	o.cond.Broadcast()
	o.mu.Unlock()
}

func resultOf(s agentstate.State) RunResult {
	return RunResult{
		Success:        s.Status == agentstate.StatusSuccess,
		Status:         s.Status,
		RunID:          s.RunID,
		StepsCompleted: s.CurrentStep,
		TotalSteps:     s.TotalSteps,
		Errors:         s.Errors,
	}
}

func normalizeRetries(n int) int {
	if n <= 0 {
		return 3
	}
	return n
}
