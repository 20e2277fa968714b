// Package anthropic implements internal/model.VisionModel against the
// Anthropic Messages API, attaching screenshots as native image content
// blocks.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/autoqa/agentcore/internal/model"
)

// VisionClient implements model.VisionModel against Claude's vision-
// capable Messages API.
type VisionClient struct {
	client    anthropicsdk.Client
	modelName string
}

// New builds a VisionClient. modelName defaults to a vision-capable Claude
// model when empty.
func New(apiKey, modelName string) *VisionClient {
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
	}
	client := anthropicsdk.NewClient(option.WithAPIKey(apiKey))
	return &VisionClient{client: client, modelName: modelName}
}

func (v *VisionClient) ask(ctx context.Context, prompt string, png []byte) (string, error) {
	blocks := []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(prompt)}
	if len(png) > 0 {
		encoded := base64.StdEncoding.EncodeToString(png)
		blocks = append(blocks, anthropicsdk.NewImageBlockBase64("image/png", encoded))
	}

	resp, err := v.client.Messages.New(ctx, anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(v.modelName),
		MaxTokens: 1024,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(blocks...),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic vision request: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			text += tb.Text
		}
	}
	return text, nil
}

func (v *VisionClient) AskYesNo(ctx context.Context, question string) (bool, error) {
	text, err := v.ask(ctx, question+"\n\nAnswer strictly YES or NO.", nil)
	if err != nil {
		return false, err
	}
	return model.ParseYesNo(text), nil
}

func (v *VisionClient) LocateIcon(ctx context.Context, png []byte, description string, width, height int) (image.Point, float64, bool, error) {
	prompt := fmt.Sprintf(
		"Locate the UI element %q in this %dx%d screenshot.\nRespond strictly as:\nFOUND: YES/NO\nX: <int>\nY: <int>\nCONFIDENCE: <0-100>",
		description, width, height)
	text, err := v.ask(ctx, prompt, png)
	if err != nil {
		return image.Point{}, 0, false, err
	}
	return model.ParseLocateGrammar(text)
}

func (v *VisionClient) Analyze(ctx context.Context, png []byte, question string) (string, error) {
	return v.ask(ctx, question, png)
}

func (v *VisionClient) VerifyDiagnostic(ctx context.Context, before, after []byte, goal string) (string, string, float64, error) {
	prompt := fmt.Sprintf(
		"Goal: %s\nDoes the attached after-screenshot show the goal was achieved?\nRespond strictly as:\nSUCCESS: YES/NO\nREASONING: <one sentence>\nCONFIDENCE: <0-100>",
		goal)
	text, err := v.ask(ctx, prompt, after)
	if err != nil {
		return "", "", 0, err
	}
	return model.ParseVerifyGrammar(text)
}

func (v *VisionClient) ExtractTarget(ctx context.Context, goal string) (string, error) {
	text, err := v.ask(ctx, "Extract the 1-2 word target UI element name from this step goal: \""+goal+"\". Respond with only the target name.", nil)
	if err != nil {
		return "", err
	}
	return text, nil
}

func (v *VisionClient) SynthesizeReferenceName(ctx context.Context, goal string) (string, error) {
	text, err := v.ask(ctx, "Given the step goal \""+goal+"\", name the expected post-action reference image as \"<noun>_opened\". Respond with only that name.", nil)
	if err != nil {
		return "", err
	}
	return text, nil
}

func (v *VisionClient) SplitIntent(ctx context.Context, command string) (model.IntentSplit, error) {
	text, err := v.ask(ctx, "Split this free-text command into an ordered list of steps, JSON: {\"intent\":...,\"number_of_steps\":N,\"steps\":[...],\"initial_action\":...}. Command: \""+command+"\"", nil)
	if err != nil {
		return model.IntentSplit{}, err
	}
	var out model.IntentSplit
	if err := json.Unmarshal([]byte(model.ExtractJSON(text)), &out); err != nil {
		return model.IntentSplit{}, fmt.Errorf("parsing intent split: %w", err)
	}
	return out, nil
}

func (v *VisionClient) PlanAction(ctx context.Context, goal, screenAnalysis string) (model.PlannedAction, error) {
	text, err := v.ask(ctx, fmt.Sprintf(
		"Goal: %s\nScreen analysis: %s\nRespond JSON: {\"action_type\":...,\"target_element\":...,\"reasoning\":...}", goal, screenAnalysis), nil)
	if err != nil {
		return model.PlannedAction{}, err
	}
	var out model.PlannedAction
	if err := json.Unmarshal([]byte(model.ExtractJSON(text)), &out); err != nil {
		return model.PlannedAction{}, fmt.Errorf("parsing planned action: %w", err)
	}
	return out, nil
}

func (v *VisionClient) InterpretGuidance(ctx context.Context, guidance string) (model.GuidanceInterpretation, error) {
	text, err := v.ask(ctx, "Interpret this human guidance into JSON {\"action_type\":...,\"target_element\":...,\"then_retry\":bool,\"reasoning\":...}. Guidance: \""+guidance+"\"", nil)
	if err != nil {
		return model.GuidanceInterpretation{}, err
	}
	var out model.GuidanceInterpretation
	if err := json.Unmarshal([]byte(model.ExtractJSON(text)), &out); err != nil {
		return model.GuidanceInterpretation{}, fmt.Errorf("parsing guidance interpretation: %w", err)
	}
	return out, nil
}
