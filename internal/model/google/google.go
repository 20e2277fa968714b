// Package google implements internal/model.VisionModel against Gemini's
// multimodal GenerateContent API, a second vision provider alongside the
// anthropic and openai adapters.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"image"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/autoqa/agentcore/internal/model"
)

// VisionClient implements model.VisionModel against Gemini's vision-capable
// GenerativeModel.
type VisionClient struct {
	client    *genai.Client
	modelName string
}

// New builds a VisionClient. modelName defaults to a vision-capable Gemini
// model when empty. Client construction needs a context because the
// underlying SDK dials out during NewClient.
func New(ctx context.Context, apiKey, modelName string) (*VisionClient, error) {
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("building genai client: %w", err)
	}
	return &VisionClient{client: client, modelName: modelName}, nil
}

// Close releases the underlying genai client.
func (v *VisionClient) Close() error {
	return v.client.Close()
}

func (v *VisionClient) ask(ctx context.Context, prompt string, png []byte) (string, error) {
	m := v.client.GenerativeModel(v.modelName)
	parts := []genai.Part{genai.Text(prompt)}
	if len(png) > 0 {
		parts = append(parts, genai.ImageData("png", png))
	}

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("gemini vision request: %w", err)
	}

	var text string
	if resp != nil {
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text += string(t)
				}
			}
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
	return v.ask(ctx, "Extract the 1-2 word target UI element name from this step goal: \""+goal+"\". Respond with only the target name.", nil)
}

func (v *VisionClient) SynthesizeReferenceName(ctx context.Context, goal string) (string, error) {
	return v.ask(ctx, "Given the step goal \""+goal+"\", name the expected post-action reference image as \"<noun>_opened\". Respond with only that name.", nil)
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
