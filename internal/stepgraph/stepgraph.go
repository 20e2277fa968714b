// Package stepgraph implements the step graph: the per-step
// plan/execute/verify/retry/HITL state machine and the outer step-iteration
// loop, expressed as nodes and guarded edges over the shared graph engine.
//
// Every node is a pure function state -> state'; errors never escape the
// graph, they are written into state.Errors and routed via guards. Every
// node entry except log_results passes through the Execution Controller's
// check-and-wait checkpoint, the single cancellation/pause mechanism.
package stepgraph

import (
	"context"
	"time"

	"github.com/autoqa/agentcore/graph"
	"github.com/autoqa/agentcore/graph/emit"
	"github.com/autoqa/agentcore/internal/agentstate"
	"github.com/autoqa/agentcore/internal/control"
	"github.com/autoqa/agentcore/internal/device"
	"github.com/autoqa/agentcore/internal/history"
	"github.com/autoqa/agentcore/internal/knowledge"
	"github.com/autoqa/agentcore/internal/model"
	"github.com/autoqa/agentcore/internal/verify"
	"github.com/autoqa/agentcore/internal/vision"
)

// Node identifiers. Exposed so the Orchestrator and tests can assert
// routing without string literals scattered around.
const (
	NodeCheckResume    = "check_resume"
	NodeDetectMode     = "detect_mode"
	NodeRAGRetrieval   = "rag_retrieval"
	NodeCheckLearned   = "check_learned"
	NodeParseIntent    = "parse_intent"
	NodeCaptureScreen  = "capture_screen"
	NodeAnalyze        = "analyze"
	NodePlanAction     = "plan_action"
	NodeDirectExecute  = "direct_execute"
	NodeExecute        = "execute"
	NodeVerify         = "verify"
	NodeIncrementRetry = "increment_retry"
	NodeWaitHuman      = "wait_human"
	NodeApplyGuidance  = "apply_guidance"
	NodeAdvance        = "advance"
	NodeSaveLearned    = "save_learned"
	NodeLogResults     = "log_results"
)

// Deps carries every collaborator a node may touch. The graph owns none of
// them; the Orchestrator constructs and threads them through.
type Deps struct {
	Driver     *device.Driver
	Vision     *vision.Resolver
	Verifier   *verify.Verifier
	TestCases  *knowledge.TestCaseStore
	Learned    *knowledge.LearnedSolutionStore
	Profiles   *knowledge.DeviceProfileStore
	Controller *control.Controller
	Recorder   *history.Recorder
	Model      model.VisionModel
	Emitter    emit.Emitter

	// ShotsDir is where per-run screenshots land
	// (<ShotsDir>/<run_id>/step<k>_try<r>_<phase>.png).
	ShotsDir string

	// Settle is the wait between execute and the after-shot capture,
	// floored at one second so the UI has settled.
	Settle time.Duration

	// Sleep is the suspension primitive for settle waits; nil means
	// time.Sleep. Tests inject a no-op.
	Sleep func(time.Duration)
}

func (d *Deps) sleep(dur time.Duration) {
	if d.Sleep != nil {
		d.Sleep(dur)
		return
	}
	time.Sleep(dur)
}

func (d *Deps) settle() time.Duration {
	if d.Settle < time.Second {
		return time.Second
	}
	return d.Settle
}

// Graph owns one wired engine instance plus the per-run memoization the
// planning node keeps (reference-name cache).
type Graph struct {
	engine *graph.Engine[agentstate.State]
	deps   *Deps
	refs   *refNameCache
}

// New wires every node and guard into an engine entered at check_resume.
// maxTransitions caps node transitions per invocation (the Orchestrator's
// recursion budget); values below 100 are raised to 100.
func New(deps Deps, maxTransitions int) (*Graph, error) {
	if maxTransitions < 100 {
		maxTransitions = 100
	}

	g := &Graph{
		deps: &deps,
		refs: newRefNameCache(64),
	}

	eng := graph.New[agentstate.State](agentstate.Reduce, nil, deps.Emitter, graph.Options{
		MaxSteps: maxTransitions,
	})

	nodes := map[string]graph.NodeFunc[agentstate.State]{
		NodeCheckResume:    g.checkResume,
		NodeDetectMode:     g.detectMode,
		NodeRAGRetrieval:   g.ragRetrieval,
		NodeCheckLearned:   g.checkLearned,
		NodeParseIntent:    g.parseIntent,
		NodeCaptureScreen:  g.captureScreen,
		NodeAnalyze:        g.analyze,
		NodePlanAction:     g.planAction,
		NodeDirectExecute:  g.directExecute,
		NodeExecute:        g.execute,
		NodeVerify:         g.verifyStep,
		NodeIncrementRetry: g.incrementRetry,
		NodeWaitHuman:      g.waitHuman,
		NodeApplyGuidance:  g.applyGuidance,
		NodeAdvance:        g.advance,
		NodeSaveLearned:    g.saveLearned,
		NodeLogResults:     g.logResults,
	}
	for id, fn := range nodes {
		node := fn
		if id != NodeLogResults {
			node = g.suspendable(node)
		}
		if err := eng.Add(id, node); err != nil {
			return nil, err
		}
	}
	if err := eng.StartAt(NodeCheckResume); err != nil {
		return nil, err
	}

	// Guards, in edge-priority order per guard.
	type edge struct {
		from, to string
		when     graph.Predicate[agentstate.State]
	}
	edges := []edge{
		// should_resume_from_hitl
		{NodeCheckResume, NodeApplyGuidance, func(s agentstate.State) bool {
			return s.WaitingForHITL && (s.HITLGuidance != "" || s.HITLCoordinate != nil) && !s.HITLApplied
		}},
		{NodeCheckResume, NodeDetectMode, nil},

		// route_by_mode (idle handled by the node's terminal route)
		{NodeDetectMode, NodeRAGRetrieval, func(s agentstate.State) bool { return s.Mode == agentstate.ModeTest }},
		{NodeDetectMode, NodeParseIntent, func(s agentstate.State) bool { return s.Mode == agentstate.ModeStandalone }},

		{NodeRAGRetrieval, NodeLogResults, func(s agentstate.State) bool { return len(s.TestSteps) == 0 }},
		{NodeRAGRetrieval, NodeCheckLearned, nil},

		{NodeParseIntent, NodeLogResults, func(s agentstate.State) bool { return len(s.TestSteps) == 0 }},
		{NodeParseIntent, NodeCaptureScreen, nil},

		// should_use_learned
		{NodeCheckLearned, NodeDirectExecute, func(s agentstate.State) bool {
			return s.HasLearnedSolution && s.UseLearned
		}},
		{NodeCheckLearned, NodeCaptureScreen, nil},

		{NodeCaptureScreen, NodeAnalyze, func(s agentstate.State) bool { return s.CurrentScreenshot != "" }},
		{NodeCaptureScreen, NodeIncrementRetry, nil},

		{NodeAnalyze, NodePlanAction, nil},

		// route_from_planning
		{NodePlanAction, NodeWaitHuman, func(s agentstate.State) bool { return lastErrorContains(s, "no goal") }},
		{NodePlanAction, NodeDirectExecute, func(s agentstate.State) bool { return isDirectKey(s.ActionKind) }},
		{NodePlanAction, NodeExecute, nil},

		// route_after_execution
		{NodeExecute, NodeVerify, func(s agentstate.State) bool { return s.ActionSuccess }},
		{NodeExecute, NodeIncrementRetry, nil},

		// route_after_verification
		{NodeVerify, NodeAdvance, func(s agentstate.State) bool {
			return s.VerificationResult != nil && s.VerificationResult.OverallPassed
		}},
		{NodeVerify, NodeIncrementRetry, nil},

		// should_retry
		{NodeIncrementRetry, NodeCaptureScreen, func(s agentstate.State) bool { return s.RetryCount < s.MaxRetries }},
		{NodeIncrementRetry, NodeWaitHuman, nil},

		{NodeApplyGuidance, NodeExecute, nil},

		// route_after_advance
		{NodeAdvance, NodeSaveLearned, func(s agentstate.State) bool { return s.CurrentStep >= s.TotalSteps }},
		{NodeAdvance, NodeDirectExecute, func(s agentstate.State) bool {
			return s.HasLearnedSolution && s.UseLearned
		}},
		{NodeAdvance, NodeCaptureScreen, nil},

		{NodeSaveLearned, NodeLogResults, nil},
	}
	for _, e := range edges {
		if err := eng.Connect(e.from, e.to, e.when); err != nil {
			return nil, err
		}
	}

	g.engine = eng
	return g, nil
}

// Run drives the state machine from check_resume until it suspends or
// terminates, returning the final state.
func (g *Graph) Run(ctx context.Context, runID string, initial agentstate.State) (agentstate.State, error) {
	return g.engine.Run(ctx, runID, initial)
}

// suspendable wraps a node with the universal cancellation checkpoint: when
// the controller reports stop, the node becomes a no-op and the run drains
// through log_results with status stopped.
func (g *Graph) suspendable(fn graph.NodeFunc[agentstate.State]) graph.NodeFunc[agentstate.State] {
	return func(ctx context.Context, s agentstate.State) graph.NodeResult[agentstate.State] {
		if g.deps.Controller != nil && !g.deps.Controller.CheckAndWait() {
			delta := newDelta(s)
			delta.Status = agentstate.StatusStopped
			delta.StopRequested = true
			delta.ShouldContinue = false
			return graph.NodeResult[agentstate.State]{Delta: delta, Route: graph.Goto(NodeLogResults)}
		}
		return fn(ctx, s)
	}
}

// newDelta clones s into a delta base with the three accumulator fields
// zeroed, since the reducer appends a delta's accumulator entries onto the
// previous state rather than replacing them.
func newDelta(s agentstate.State) agentstate.State {
	delta := s.Clone()
	delta.ExecutedSteps = nil
	delta.ExecutionLog = nil
	delta.Errors = nil
	return delta
}

func lastError(s agentstate.State) string {
	if len(s.Errors) == 0 {
		return ""
	}
	return s.Errors[len(s.Errors)-1]
}

func lastErrorContains(s agentstate.State, substr string) bool {
	return substr != "" && containsFold(lastError(s), substr)
}

func isDirectKey(kind agentstate.ActionKind) bool {
	switch kind {
	case agentstate.ActionPressBack, agentstate.ActionPressHome, agentstate.ActionPressEnter:
		return true
	}
	return false
}
