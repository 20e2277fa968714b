package stepgraph

import (
	"context"
	"regexp"
	"strconv"

	"github.com/autoqa/agentcore/graph"
	"github.com/autoqa/agentcore/internal/agentstate"
	"github.com/autoqa/agentcore/internal/vision"
)

// Permissive coordinate patterns for free-text guidance: "click at X,Y",
// "(X, Y)", "x=… y=…".
var coordinatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:click|tap|press)?\s*at\s*(\d+)\s*[,x]\s*(\d+)`),
	regexp.MustCompile(`\(\s*(\d+)\s*,\s*(\d+)\s*\)`),
	regexp.MustCompile(`(?i)x\s*=\s*(\d+)\D+y\s*=\s*(\d+)`),
}

// ParseGuidanceCoordinate extracts a screen coordinate from free-text
// guidance, trying each permissive pattern in order.
func ParseGuidanceCoordinate(text string) (*agentstate.Coordinate, bool) {
	for _, pattern := range coordinatePatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		x, errX := strconv.Atoi(m[1])
		y, errY := strconv.Atoi(m[2])
		if errX != nil || errY != nil {
			continue
		}
		return &agentstate.Coordinate{X: x, Y: y, Source: agentstate.SourceHITL, Confidence: 100}, true
	}
	return nil, false
}

// applyGuidance interprets the human's input into a concrete next action:
// an explicit coordinate wins, then a coordinate parsed from the guidance
// text, then the model's interpretation of the free text (which may request
// a remedial action before re-attempting the failed step). The run always
// leaves HITL suspension here, and the next edge is always into execute.
func (g *Graph) applyGuidance(ctx context.Context, s agentstate.State) result {
	delta := newDelta(s)

	kind := s.HITLActionKind
	if kind == "" {
		kind = agentstate.ActionTap
	}

	switch {
	case s.HITLCoordinate != nil:
		delta.ActionKind = kind
		delta.TargetCoordinate = &agentstate.Coordinate{
			X: s.HITLCoordinate.X, Y: s.HITLCoordinate.Y,
			Source: agentstate.SourceHITL, Confidence: 100,
		}
		delta.PlannedAction = "guidance: " + string(kind)
		delta.ExecutionLog = []string{"applying human coordinate"}

	default:
		if coord, ok := ParseGuidanceCoordinate(s.HITLGuidance); ok {
			delta.ActionKind = kind
			delta.TargetCoordinate = coord
			delta.PlannedAction = "guidance: " + string(kind)
			delta.ExecutionLog = []string{"applying coordinate parsed from guidance text"}
			break
		}

		if g.deps.Model == nil {
			delta.Errors = []string{"cannot interpret guidance without a model: " + s.HITLGuidance}
			delta.ActionKind = kind
			break
		}
		interp, err := g.deps.Model.InterpretGuidance(ctx, s.HITLGuidance)
		if err != nil {
			delta.Errors = []string{"guidance interpretation failed: " + err.Error()}
			delta.ActionKind = kind
			break
		}

		if k := parseActionKind(interp.ActionType); k != "" {
			delta.ActionKind = k
		} else {
			delta.ActionKind = kind
		}
		delta.TargetName = interp.TargetElement
		delta.PlannedAction = "guidance: " + string(delta.ActionKind)
		delta.ExecutionLog = []string{"applying interpreted guidance: " + interp.Reasoning}

		if needsCoordinate(delta.ActionKind) && interp.TargetElement != "" && g.deps.Profiles != nil {
			if stored, found := g.deps.Profiles.Lookup(s.DeviceID, vision.NormalizeName(interp.TargetElement)); found {
				delta.TargetCoordinate = &agentstate.Coordinate{
					X: stored.X, Y: stored.Y,
					Source: agentstate.SourceDeviceProfile, Confidence: 100,
				}
			}
		}

		if interp.ThenRetry {
			// Remedial action: run it, then re-attempt the failed step with
			// a fresh retry budget. advance observes the pending flag and
			// stays on the step.
			delta.CurrentStep = s.FailedStep
			delta.HITLRetryPending = true
			delta.RetryCount = 0
		}
	}

	// The remedial/guided action verifies by screen change, not against the
	// failed step's reference.
	delta.ExpectedReference = ""

	delta.WaitingForHITL = false
	delta.HITLApplied = true
	delta.HITLGuidance = ""
	delta.HITLCoordinate = nil
	delta.HITLActionKind = ""
	delta.HITLProblem = ""
	delta.Status = agentstate.StatusRunning

	return result{Delta: delta, Route: graph.Goto(NodeExecute)}
}
