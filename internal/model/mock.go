package model

import (
	"context"
	"image"
)

// MockVisionModel is a scripted VisionModel for tests: every answer is
// canned, and Calls records which prompts were issued in order.
type MockVisionModel struct {
	YesNo             bool
	YesNoErr          error
	LocatePoint       image.Point
	LocateConfidence  float64
	LocateFound       bool
	LocateErr         error
	AnalyzeText       string
	AnalyzeErr        error
	VerifyVerdict     string
	VerifyReasoning   string
	VerifyConfidence  float64
	VerifyErr         error
	ExtractTargetText string
	ReferenceName     string
	Intent            IntentSplit
	Planned           PlannedAction
	Guidance          GuidanceInterpretation

	Calls []string
}

func (m *MockVisionModel) AskYesNo(_ context.Context, _ string) (bool, error) {
	m.Calls = append(m.Calls, "AskYesNo")
	return m.YesNo, m.YesNoErr
}

func (m *MockVisionModel) LocateIcon(_ context.Context, _ []byte, _ string, _, _ int) (image.Point, float64, bool, error) {
	m.Calls = append(m.Calls, "LocateIcon")
	return m.LocatePoint, m.LocateConfidence, m.LocateFound, m.LocateErr
}

func (m *MockVisionModel) Analyze(_ context.Context, _ []byte, _ string) (string, error) {
	m.Calls = append(m.Calls, "Analyze")
	return m.AnalyzeText, m.AnalyzeErr
}

func (m *MockVisionModel) VerifyDiagnostic(_ context.Context, _, _ []byte, _ string) (string, string, float64, error) {
	m.Calls = append(m.Calls, "VerifyDiagnostic")
	return m.VerifyVerdict, m.VerifyReasoning, m.VerifyConfidence, m.VerifyErr
}

func (m *MockVisionModel) ExtractTarget(_ context.Context, _ string) (string, error) {
	m.Calls = append(m.Calls, "ExtractTarget")
	return m.ExtractTargetText, nil
}

func (m *MockVisionModel) SynthesizeReferenceName(_ context.Context, _ string) (string, error) {
	m.Calls = append(m.Calls, "SynthesizeReferenceName")
	return m.ReferenceName, nil
}

func (m *MockVisionModel) SplitIntent(_ context.Context, _ string) (IntentSplit, error) {
	m.Calls = append(m.Calls, "SplitIntent")
	return m.Intent, nil
}

func (m *MockVisionModel) PlanAction(_ context.Context, _, _ string) (PlannedAction, error) {
	m.Calls = append(m.Calls, "PlanAction")
	return m.Planned, nil
}

func (m *MockVisionModel) InterpretGuidance(_ context.Context, _ string) (GuidanceInterpretation, error) {
	m.Calls = append(m.Calls, "InterpretGuidance")
	return m.Guidance, nil
}
