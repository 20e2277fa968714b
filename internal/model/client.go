// Package model wraps the remote multimodal endpoint behind the specific
// prompts the agent issues: routing questions, icon localization,
// verification diagnostics, intent splitting, and guidance interpretation.
// Provider adapters (anthropic, google, openai subpackages) implement
// VisionModel natively; Client adapts any plain text completer for
// providers without a dedicated adapter.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"regexp"
	"strconv"
	"strings"
)

// Completer is the minimal request-response contract to a remote model: a
// prompt plus optional PNG bytes in, a single text blob out.
type Completer interface {
	Complete(ctx context.Context, prompt string, png []byte) (string, error)
}

// VisionModel is the multimodal contract the agent's components consume,
// one method per prompt the core issues.
type VisionModel interface {
	// AskYesNo sends a yes/no routing question and parses the answer.
	AskYesNo(ctx context.Context, question string) (bool, error)
	// LocateIcon asks the model to localize an icon by name, parsing the
	// strict FOUND:/X:/Y:/CONFIDENCE: grammar.
	LocateIcon(ctx context.Context, png []byte, description string, width, height int) (image.Point, float64, bool, error)
	// Analyze asks a free-form question about the screenshot.
	Analyze(ctx context.Context, png []byte, question string) (string, error)
	// VerifyDiagnostic asks whether a goal was achieved, structured
	// SUCCESS:/REASONING:/CONFIDENCE:.
	VerifyDiagnostic(ctx context.Context, before, after []byte, goal string) (verdict string, reasoning string, confidence float64, err error)
	// ExtractTarget asks for a 1-2 word target element name from a step
	// goal.
	ExtractTarget(ctx context.Context, goal string) (string, error)
	// SynthesizeReferenceName asks the model to name the expected
	// post-action reference image, returning "<noun>_opened".
	SynthesizeReferenceName(ctx context.Context, goal string) (string, error)
	// SplitIntent splits a free-text standalone command into ordered steps.
	SplitIntent(ctx context.Context, command string) (IntentSplit, error)
	// PlanAction asks for a fallback action plan when deterministic
	// planning cannot decide one.
	PlanAction(ctx context.Context, goal, screenAnalysis string) (PlannedAction, error)
	// InterpretGuidance maps free-text HITL guidance into a concrete next
	// action.
	InterpretGuidance(ctx context.Context, guidance string) (GuidanceInterpretation, error)
}

// IntentSplit is the parsed result of splitting a free-text command.
type IntentSplit struct {
	Intent        string   `json:"intent"`
	NumberOfSteps int      `json:"number_of_steps"`
	Steps         []string `json:"steps"`
	InitialAction string   `json:"initial_action"`
}

// PlannedAction is the fallback action-planning JSON grammar.
type PlannedAction struct {
	ActionType    string `json:"action_type"`
	TargetElement string `json:"target_element"`
	Reasoning     string `json:"reasoning"`
}

// GuidanceInterpretation is the HITL guidance-interpretation JSON grammar.
type GuidanceInterpretation struct {
	ActionType    string `json:"action_type"`
	TargetElement string `json:"target_element"`
	ThenRetry     bool   `json:"then_retry"`
	Reasoning     string `json:"reasoning"`
}

// Client lifts any Completer into a VisionModel by issuing the agent's
// prompt set and parsing the response grammars. The provider subpackages
// bypass Client and attach images through their SDKs' native content
// blocks; Client is the generic path.
type Client struct {
	completer Completer
}

// NewClient wraps completer as a VisionModel.
func NewClient(completer Completer) *Client {
	return &Client{completer: completer}
}

func (c *Client) ask(ctx context.Context, prompt string, png []byte) (string, error) {
	return c.completer.Complete(ctx, prompt, png)
}

func (c *Client) AskYesNo(ctx context.Context, question string) (bool, error) {
	text, err := c.ask(ctx, question+"\n\nAnswer strictly YES or NO.", nil)
	if err != nil {
		return false, err
	}
	return ParseYesNo(text), nil
}

// ParseYesNo interprets a model's free-text yes/no answer; anything not
// clearly starting with Y is treated as no.
func ParseYesNo(text string) bool {
	upper := strings.ToUpper(strings.TrimSpace(text))
	return strings.HasPrefix(upper, "Y")
}

var locateGrammar = regexp.MustCompile(`(?is)FOUND:\s*(YES|NO).*?X:\s*(-?\d+).*?Y:\s*(-?\d+).*?CONFIDENCE:\s*([\d.]+)`)

func (c *Client) LocateIcon(ctx context.Context, png []byte, description string, width, height int) (image.Point, float64, bool, error) {
	prompt := fmt.Sprintf(
		"Locate the UI element \"%s\" in this %dx%d screenshot.\nRespond strictly as:\nFOUND: YES/NO\nX: <int>\nY: <int>\nCONFIDENCE: <0-100>",
		description, width, height,
	)
	text, err := c.ask(ctx, prompt, png)
	if err != nil {
		return image.Point{}, 0, false, err
	}
	return ParseLocateGrammar(text)
}

// ParseLocateGrammar parses the strict FOUND:/X:/Y:/CONFIDENCE: icon
// localization response, shared across every provider adapter.
func ParseLocateGrammar(text string) (image.Point, float64, bool, error) {
	m := locateGrammar.FindStringSubmatch(text)
	if m == nil {
		return image.Point{}, 0, false, nil
	}
	if strings.ToUpper(m[1]) != "YES" {
		return image.Point{}, 0, false, nil
	}
	x, _ := strconv.Atoi(m[2])
	y, _ := strconv.Atoi(m[3])
	conf, _ := strconv.ParseFloat(m[4], 64)
	return image.Point{X: x, Y: y}, conf, true, nil
}

func (c *Client) Analyze(ctx context.Context, png []byte, question string) (string, error) {
	return c.ask(ctx, question, png)
}

var verifyGrammar = regexp.MustCompile(`(?is)SUCCESS:\s*(YES|NO).*?REASONING:\s*(.*?)\s*CONFIDENCE:\s*([\d.]+)`)

func (c *Client) VerifyDiagnostic(ctx context.Context, before, after []byte, goal string) (string, string, float64, error) {
	prompt := fmt.Sprintf(
		"Goal: %s\nThe attached screenshot was taken after the action.\nRespond strictly as:\nSUCCESS: YES/NO\nREASONING: <one sentence>\nCONFIDENCE: <0-100>",
		goal,
	)
	_ = before // only the after-shot is sent, here and in every provider adapter
	text, err := c.ask(ctx, prompt, after)
	if err != nil {
		return "", "", 0, err
	}
	return ParseVerifyGrammar(text)
}

// ParseVerifyGrammar parses the SUCCESS:/REASONING:/CONFIDENCE: diagnostic
// response, shared across providers.
func ParseVerifyGrammar(text string) (string, string, float64, error) {
	m := verifyGrammar.FindStringSubmatch(text)
	if m == nil {
		return "unknown", text, 0, nil
	}
	conf, _ := strconv.ParseFloat(m[3], 64)
	return strings.ToUpper(m[1]), strings.TrimSpace(m[2]), conf, nil
}

func (c *Client) ExtractTarget(ctx context.Context, goal string) (string, error) {
	text, err := c.ask(ctx, "Extract the 1-2 word target UI element name from this step goal: \""+goal+"\". Respond with only the target name.", nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (c *Client) SynthesizeReferenceName(ctx context.Context, goal string) (string, error) {
	text, err := c.ask(ctx, "Given the step goal \""+goal+"\", name the expected post-action reference image as \"<noun>_opened\". Respond with only that name.", nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (c *Client) SplitIntent(ctx context.Context, command string) (IntentSplit, error) {
	text, err := c.ask(ctx, "Split this free-text command into an ordered list of steps, JSON: {\"intent\":...,\"number_of_steps\":N,\"steps\":[...],\"initial_action\":...}. Command: \""+command+"\"", nil)
	if err != nil {
		return IntentSplit{}, err
	}
	var out IntentSplit
	if err := json.Unmarshal([]byte(ExtractJSON(text)), &out); err != nil {
		return IntentSplit{}, fmt.Errorf("parsing intent split: %w", err)
	}
	return out, nil
}

func (c *Client) PlanAction(ctx context.Context, goal, screenAnalysis string) (PlannedAction, error) {
	text, err := c.ask(ctx, fmt.Sprintf(
		"Goal: %s\nScreen analysis: %s\nRespond JSON: {\"action_type\":...,\"target_element\":...,\"reasoning\":...}", goal, screenAnalysis), nil)
	if err != nil {
		return PlannedAction{}, err
	}
	var out PlannedAction
	if err := json.Unmarshal([]byte(ExtractJSON(text)), &out); err != nil {
		return PlannedAction{}, fmt.Errorf("parsing planned action: %w", err)
	}
	return out, nil
}

func (c *Client) InterpretGuidance(ctx context.Context, guidance string) (GuidanceInterpretation, error) {
	text, err := c.ask(ctx, "Interpret this human guidance into JSON {\"action_type\":...,\"target_element\":...,\"then_retry\":bool,\"reasoning\":...}. Guidance: \""+guidance+"\"", nil)
	if err != nil {
		return GuidanceInterpretation{}, err
	}
	var out GuidanceInterpretation
	if err := json.Unmarshal([]byte(ExtractJSON(text)), &out); err != nil {
		return GuidanceInterpretation{}, fmt.Errorf("parsing guidance interpretation: %w", err)
	}
	return out, nil
}

// ExtractJSON trims leading/trailing prose a model sometimes wraps JSON in
// (e.g. markdown fences) down to the first {...} block.
func ExtractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
