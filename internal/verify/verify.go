// Package verify implements the verifier: deciding whether a step's
// goal was achieved from before/after screenshots, an optional reference
// image, and a non-decisive model diagnostic.
package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/autoqa/agentcore/internal/agentstate"
	"github.com/autoqa/agentcore/internal/model"
)

// ReferenceStore resolves the reference image to compare against for a
// given device geometry and reference name, used by the SSIM primary
// signal. Implementations may back onto the filesystem or the Knowledge
// Store's device-profile directory tree.
type ReferenceStore interface {
	Load(ctx context.Context, deviceID, referenceName string) ([]byte, bool, error)
	Save(ctx context.Context, deviceID, referenceName string, png []byte) error
}

// ElementDetector reports whether a described element is visible in a
// screenshot. The vision resolver implements it (OCR first, model
// fallback); the Verifier uses it for the appeared/disappeared checks.
type ElementDetector interface {
	ElementVisible(ctx context.Context, png []byte, description string) (bool, error)
}

// Verifier implements verify(before, after, expected_reference_name?).
type Verifier struct {
	references      ReferenceStore
	chat            model.VisionModel
	detector        ElementDetector
	ssimThreshold   float64
	changeThreshold float64
	comparisonsDir  string
	now             func() time.Time
}

// Option configures a Verifier at construction.
type Option func(*Verifier)

// WithComparisonsDir enables side-by-side comparison image output into dir,
// one file per SSIM verification, named comparison_YYYYMMDD_HHMMSS.png.
func WithComparisonsDir(dir string) Option {
	return func(v *Verifier) { v.comparisonsDir = dir }
}

// WithClock overrides the timestamp source used for comparison file names.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithElementDetector enables the decisive appeared/disappeared checks.
// Without one (and without a model), those checks degrade to plain Verify.
func WithElementDetector(d ElementDetector) Option {
	return func(v *Verifier) { v.detector = d }
}

// New builds a Verifier. ssimThreshold and changeThreshold default to 0.85
// and 1% respectively when non-positive.
func New(references ReferenceStore, chat model.VisionModel, ssimThreshold, changeThreshold float64, opts ...Option) *Verifier {
	if ssimThreshold <= 0 {
		ssimThreshold = 0.85
	}
	if changeThreshold <= 0 {
		changeThreshold = 1.0
	}
	v := &Verifier{
		references:      references,
		chat:            chat,
		ssimThreshold:   ssimThreshold,
		changeThreshold: changeThreshold,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify decides pass/fail: SSIM against a reference image when one exists
// for deviceID/expectedReferenceName, otherwise pixel-diff between before
// and after; the model diagnostic is always attempted but never changes the
// verdict.
func (v *Verifier) Verify(ctx context.Context, deviceID string, before, after []byte, expectedReferenceName, goal string) (*agentstate.VerificationResult, error) {
	result := &agentstate.VerificationResult{}

	var referenceFound bool
	var referencePNG []byte
	if expectedReferenceName != "" && v.references != nil {
		png, found, err := v.references.Load(ctx, deviceID, expectedReferenceName)
		if err != nil {
			return nil, fmt.Errorf("loading reference %s: %w", expectedReferenceName, err)
		}
		referenceFound = found
		referencePNG = png
	}

	if referenceFound {
		similarity, err := ssim(referencePNG, after)
		if err != nil {
			return nil, fmt.Errorf("computing ssim: %w", err)
		}
		result.SSIM = agentstate.SSIMResult{
			Similarity:     similarity,
			Threshold:      v.ssimThreshold,
			Passed:         similarity >= v.ssimThreshold,
			ReferenceFound: true,
		}
		result.OverallPassed = result.SSIM.Passed

		if v.comparisonsDir != "" {
			if path, err := v.writeComparison(referencePNG, after); err == nil {
				result.ComparisonImg = path
			}
		}
	} else {
		result.SSIM.ReferenceFound = false
		changePct, err := pixelDiffPercent(before, after)
		if err != nil {
			return nil, fmt.Errorf("computing pixel diff: %w", err)
		}
		result.Pixel = agentstate.PixelResult{
			ChangePercentage: changePct,
			Changed:          changePct > v.changeThreshold,
		}
		result.OverallPassed = result.Pixel.Changed
	}

	if v.chat != nil {
		verdict, reasoning, confidence, err := v.chat.VerifyDiagnostic(ctx, before, after, goal)
		if err == nil {
			result.AI = agentstate.AIResult{Verdict: verdict, Reasoning: reasoning, Confidence: confidence}
		}
	}

	// A passing run against a reference name that had no stored image yet
	// seeds the reference for the next run on this geometry.
	if v.references != nil && expectedReferenceName != "" && !referenceFound && result.OverallPassed {
		_ = v.references.Save(ctx, deviceID, expectedReferenceName, after)
	}

	return result, nil
}

// VerifyAppeared decides whether elementDescription showed up: the element
// must be absent in the before-shot and present in the after-shot. The
// existence checks are the decisive signal; when neither a detector nor a
// model is available the check degrades to plain Verify.
func (v *Verifier) VerifyAppeared(ctx context.Context, deviceID string, before, after []byte, referenceName, elementDescription string) (*agentstate.VerificationResult, error) {
	return v.verifyExistence(ctx, deviceID, before, after, referenceName, elementDescription, true)
}

// VerifyDisappeared is the inverse: the element must be present in the
// before-shot and absent in the after-shot. A "close the dialog" step fails
// here when the dialog is still on screen, no matter how much the rest of
// the screen changed.
func (v *Verifier) VerifyDisappeared(ctx context.Context, deviceID string, before, after []byte, referenceName, elementDescription string) (*agentstate.VerificationResult, error) {
	return v.verifyExistence(ctx, deviceID, before, after, referenceName, elementDescription, false)
}

func (v *Verifier) verifyExistence(ctx context.Context, deviceID string, before, after []byte, referenceName, elementDescription string, wantAppeared bool) (*agentstate.VerificationResult, error) {
	beforeVisible, errBefore := v.elementVisible(ctx, before, elementDescription)
	afterVisible, errAfter := v.elementVisible(ctx, after, elementDescription)
	if errBefore != nil || errAfter != nil {
		// Existence cannot be determined; fall back to the change-based
		// verdict rather than failing the step outright.
		goal := "the element \"" + elementDescription + "\" disappeared from screen"
		if wantAppeared {
			goal = "the element \"" + elementDescription + "\" appeared on screen"
		}
		return v.Verify(ctx, deviceID, before, after, referenceName, goal)
	}

	result := &agentstate.VerificationResult{}
	if wantAppeared {
		result.OverallPassed = !beforeVisible && afterVisible
	} else {
		result.OverallPassed = beforeVisible && !afterVisible
	}

	// Pixel diff stays informational alongside the existence verdict.
	if changePct, err := pixelDiffPercent(before, after); err == nil {
		result.Pixel = agentstate.PixelResult{
			ChangePercentage: changePct,
			Changed:          changePct > v.changeThreshold,
		}
	}
	result.AI = agentstate.AIResult{
		Verdict:    existenceVerdict(result.OverallPassed),
		Reasoning:  existenceReasoning(elementDescription, beforeVisible, afterVisible),
		Confidence: 100,
	}
	return result, nil
}

// elementVisible asks the detector first, then the model with the
// screenshot attached. Errors mean "cannot determine", not "absent".
func (v *Verifier) elementVisible(ctx context.Context, png []byte, description string) (bool, error) {
	if v.detector != nil {
		visible, err := v.detector.ElementVisible(ctx, png, description)
		if err == nil {
			return visible, nil
		}
	}
	if v.chat != nil {
		answer, err := v.chat.Analyze(ctx, png, "Is the UI element \""+description+"\" visible in this screenshot? Answer strictly YES or NO.")
		if err == nil {
			return model.ParseYesNo(answer), nil
		}
	}
	return false, fmt.Errorf("no element detector or model available")
}

func existenceVerdict(passed bool) string {
	if passed {
		return "YES"
	}
	return "NO"
}

func existenceReasoning(description string, beforeVisible, afterVisible bool) string {
	return fmt.Sprintf("%q visible before: %t, after: %t", description, beforeVisible, afterVisible)
}

func (v *Verifier) writeComparison(reference, after []byte) (string, error) {
	png, err := sideBySide(reference, after)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(v.comparisonsDir, 0o755); err != nil {
		return "", err
	}
	name := "comparison_" + v.now().Format("20060102_150405") + ".png"
	path := filepath.Join(v.comparisonsDir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
