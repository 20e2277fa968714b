package stepgraph

import (
	"bytes"
	"context"
	"image"
	_ "image/png"
	"regexp"
	"strings"

	"github.com/autoqa/agentcore/internal/agentstate"
	"github.com/autoqa/agentcore/internal/vision"
)

var quotedText = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)

// classifyGoal maps a step goal's phrasing onto an action kind plus the
// parameters that kind needs. Deterministic keyword routing; the model
// fallback in planAction only runs when this plus vision resolution leaves
// no executable action.
func classifyGoal(goal string) (agentstate.ActionKind, map[string]string) {
	lower := strings.ToLower(goal)

	switch {
	case strings.Contains(lower, "press home") || strings.Contains(lower, "home button"):
		return agentstate.ActionPressHome, nil
	case strings.Contains(lower, "press back") || strings.Contains(lower, "go back") || strings.Contains(lower, "back button"):
		return agentstate.ActionPressBack, nil
	case strings.Contains(lower, "press enter") || strings.Contains(lower, "hit enter"):
		return agentstate.ActionPressEnter, nil
	case strings.Contains(lower, "double tap") || strings.Contains(lower, "double-tap"):
		return agentstate.ActionDoubleTap, nil
	case strings.Contains(lower, "long press") || strings.Contains(lower, "long-press") || strings.Contains(lower, "press and hold"):
		return agentstate.ActionLongPress, nil
	case strings.Contains(lower, "swipe") || strings.Contains(lower, "scroll"):
		return agentstate.ActionSwipe, map[string]string{"direction": swipeDirection(lower)}
	case strings.Contains(lower, "type ") || strings.Contains(lower, "enter text") || strings.Contains(lower, "input "):
		if text := extractTextPayload(goal); text != "" {
			return agentstate.ActionInputText, map[string]string{"text": text}
		}
		return agentstate.ActionInputText, nil
	}
	return agentstate.ActionTap, nil
}

func swipeDirection(lower string) string {
	for _, dir := range []string{"down", "left", "right", "up"} {
		if strings.Contains(lower, dir) {
			return dir
		}
	}
	return "up"
}

func extractTextPayload(goal string) string {
	if m := quotedText.FindStringSubmatch(goal); m != nil {
		if m[1] != "" {
			return m[1]
		}
		return m[2]
	}
	lower := strings.ToLower(goal)
	if idx := strings.Index(lower, "type "); idx >= 0 {
		return strings.TrimSpace(goal[idx+len("type "):])
	}
	return ""
}

// targetName derives the element the goal refers to: the model's 1-2 word
// extraction when a model is wired, otherwise a verb-stripping heuristic.
func (g *Graph) targetName(ctx context.Context, goal string) string {
	if g.deps.Model != nil {
		if name, err := g.deps.Model.ExtractTarget(ctx, goal); err == nil && strings.TrimSpace(name) != "" {
			return strings.TrimSpace(name)
		}
	}
	return heuristicTarget(goal)
}

var leadingVerbs = []string{
	"tap on", "tap", "click on", "click", "open", "press", "select",
	"choose", "launch", "start", "go to", "navigate to", "find",
}

func heuristicTarget(goal string) string {
	s := strings.TrimSpace(goal)
	lower := strings.ToLower(s)
	for _, verb := range leadingVerbs {
		if strings.HasPrefix(lower, verb+" ") {
			s = strings.TrimSpace(s[len(verb)+1:])
			break
		}
	}
	s = strings.TrimPrefix(s, "the ")
	s = strings.TrimRight(s, ".!?")
	return strings.TrimSpace(s)
}

// parseActionKind maps a model's free-text action_type onto the action
// enum, empty when unrecognized.
func parseActionKind(actionType string) agentstate.ActionKind {
	normalized := strings.ToLower(strings.TrimSpace(actionType))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	switch agentstate.ActionKind(normalized) {
	case agentstate.ActionTap, agentstate.ActionDoubleTap, agentstate.ActionLongPress,
		agentstate.ActionSwipe, agentstate.ActionInputText, agentstate.ActionPressHome,
		agentstate.ActionPressBack, agentstate.ActionPressEnter, agentstate.ActionPressKey:
		return agentstate.ActionKind(normalized)
	}
	switch normalized {
	case "click", "touch":
		return agentstate.ActionTap
	case "home":
		return agentstate.ActionPressHome
	case "back":
		return agentstate.ActionPressBack
	case "enter":
		return agentstate.ActionPressEnter
	case "text", "input":
		return agentstate.ActionInputText
	}
	return ""
}

// referenceName resolves the expected post-action reference image name for
// a goal: the step's explicit hint wins, then the per-run memo, then the
// model's "<noun>_opened" synthesis, then a heuristic from the goal's
// target noun. Memoized so retries of the same step never re-ask the model.
func (g *Graph) referenceName(ctx context.Context, s agentstate.State, goal string) string {
	if s.CurrentStep >= 0 && s.CurrentStep < len(s.TestSteps) {
		if hint := s.TestSteps[s.CurrentStep].ReferenceImageHint; hint != "" {
			return hint
		}
	}
	if goal == "" {
		return ""
	}
	if name, ok := g.refs.get(goal); ok {
		return name
	}
	var name string
	if g.deps.Model != nil {
		if synthesized, err := g.deps.Model.SynthesizeReferenceName(ctx, goal); err == nil {
			name = strings.TrimSpace(synthesized)
		}
	}
	if name == "" {
		name = vision.NormalizeName(heuristicTarget(goal)) + "_opened"
	}
	g.refs.put(goal, name)
	return name
}

func decodePNGSize(png []byte) (struct{ w, h int }, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(png))
	if err != nil {
		return struct{ w, h int }{}, err
	}
	return struct{ w, h int }{cfg.Width, cfg.Height}, nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
