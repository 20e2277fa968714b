// Package vision converts a natural-language element description plus a
// screenshot into screen coordinates, combining a device-profile lookup,
// OCR, geometric grid inference, and a remote multimodal model.
//
// The package is organized as a strategy pipeline: each strategy reports
// (coordinate?, confidence) and a single dispatcher enforces the
// precedence order, so every strategy is testable in isolation.
package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/autoqa/agentcore/internal/agentstate"
	"github.com/autoqa/agentcore/internal/knowledge"
	"github.com/autoqa/agentcore/internal/model"
)

// Screenshot is a decoded screenshot plus its raw bytes, passed to every
// resolution strategy so each can choose whether it needs the bytes (OCR,
// grid detection) or can work from geometry alone.
type Screenshot struct {
	PNG    []byte
	Width  int
	Height int
}

// Candidate is one strategy's proposed resolution.
type Candidate struct {
	Coordinate agentstate.Coordinate
	Exact      bool // true if the match was an exact text match, not fuzzy
}

// Resolver answers find-element, extract-text, and analyze requests.
type Resolver struct {
	profiles *knowledge.DeviceProfileStore
	chat     model.VisionModel
	ocr      OCREngine
	grid     GridDetector

	ocrConfidenceMin float64
	fuzzyMatchMin    float64
}

// New builds a Resolver. ocr and grid may be nil to disable those
// strategies (e.g. in environments without a Tesseract binary); the
// pipeline degrades to device-profile-and-model-only resolution.
func New(profiles *knowledge.DeviceProfileStore, chat model.VisionModel, ocr OCREngine, grid GridDetector, ocrConfidenceMin, fuzzyMatchMin float64) *Resolver {
	if ocrConfidenceMin <= 0 {
		ocrConfidenceMin = 60
	}
	if fuzzyMatchMin <= 0 {
		fuzzyMatchMin = 0.85
	}
	return &Resolver{
		profiles:         profiles,
		chat:             chat,
		ocr:              ocr,
		grid:             grid,
		ocrConfidenceMin: ocrConfidenceMin,
		fuzzyMatchMin:    fuzzyMatchMin,
	}
}

// NormalizeName lowercases and underscore-joins a human-readable element
// label into the Device Profile's key format.
func NormalizeName(description string) string {
	lower := strings.ToLower(strings.TrimSpace(description))
	fields := strings.Fields(lower)
	return strings.Join(fields, "_")
}

// FindElement resolves description against shot, following the precedence
// order: device profile -> routing decision -> texted/non-texted strategy
// -> auto-learn. Returns nil only when every strategy fails.
func (r *Resolver) FindElement(ctx context.Context, shot Screenshot, description, deviceID string) (*agentstate.Coordinate, error) {
	normalized := NormalizeName(description)

	// 1. Device Profile lookup — O(1), attempted first.
	if r.profiles != nil {
		if coord, ok := r.profiles.Lookup(deviceID, normalized); ok {
			return &agentstate.Coordinate{
				X: coord.X, Y: coord.Y,
				Source:     agentstate.SourceDeviceProfile,
				Confidence: 100,
			}, nil
		}
	}

	// 2. Routing decision: texted vs non-texted. Defaults to texted on
	// model error.
	texted := r.routeTexted(ctx, description)

	var resolved *agentstate.Coordinate
	var err error

	if texted {
		resolved, err = r.resolveTexted(ctx, shot, description)
		if resolved == nil && err == nil {
			// Automatic fallback to the non-texted path when no text found.
			resolved, err = r.resolveNonTexted(ctx, shot, description)
		}
	} else {
		resolved, err = r.resolveNonTexted(ctx, shot, description)
	}
	if err != nil {
		return nil, err
	}
	if resolved == nil {
		return nil, nil
	}

	// 5. Auto-learn: any successful resolution from OCR/grid/model is
	// written back into the Device Profile under the normalized name.
	if r.profiles != nil && resolved.Source != agentstate.SourceDeviceProfile && resolved.Source != agentstate.SourceLearned {
		r.profiles.Upsert(deviceID, shot.Width, shot.Height, normalized, resolved.X, resolved.Y, resolved.Source)
	}

	return resolved, nil
}

func (r *Resolver) routeTexted(ctx context.Context, description string) bool {
	if r.chat == nil {
		return true
	}
	answer, err := r.chat.AskYesNo(ctx, "Does the UI element described as \""+description+"\" carry a visible text label?")
	if err != nil {
		return true
	}
	return answer
}

// ElementVisible reports whether description's label is visible in the
// screenshot: an OCR text match decides when OCR finds the label, then the
// model is asked with the screenshot attached (untexted icons have no label
// for OCR to find). An error means visibility could not be determined, not
// that the element is absent. Satisfies verify.ElementDetector.
func (r *Resolver) ElementVisible(ctx context.Context, png []byte, description string) (bool, error) {
	ocrRan := false
	if r.ocr != nil {
		elements, err := r.ocr.Detect(ctx, png)
		if err == nil {
			ocrRan = true
			target := normalizeForMatch(targetText(description))
			for _, el := range elements {
				candidate := normalizeForMatch(el.Text)
				if candidate == "" || target == "" {
					continue
				}
				if candidate == target || strings.Contains(candidate, target) ||
					ratcliffObershelp(candidate, target) >= r.fuzzyMatchMin {
					return true, nil
				}
			}
		}
	}
	if r.chat != nil {
		answer, err := r.chat.Analyze(ctx, png, "Is the UI element \""+description+"\" visible in this screenshot? Answer strictly YES or NO.")
		if err == nil {
			return model.ParseYesNo(answer), nil
		}
	}
	if ocrRan {
		return false, nil
	}
	return false, fmt.Errorf("visibility of %q undetermined: no OCR result and no model", description)
}

// ExtractText runs OCR on shot and returns every detected text region,
// used both by the texted resolution strategy and directly by Analyze.
func (r *Resolver) ExtractText(ctx context.Context, shot Screenshot) ([]agentstate.DetectedElement, error) {
	if r.ocr == nil {
		return nil, nil
	}
	return r.ocr.Detect(ctx, shot.PNG)
}

// Analyze asks the model for a free-text summary plus a detected-element
// list, used by the Step Graph's analyze node (diagnostic context for
// planning, not itself decisive).
func (r *Resolver) Analyze(ctx context.Context, shot Screenshot, question string) (string, []agentstate.DetectedElement, error) {
	elements, _ := r.ExtractText(ctx, shot)
	if r.chat == nil {
		return "", elements, nil
	}
	summary, err := r.chat.Analyze(ctx, shot.PNG, question)
	if err != nil {
		return "", elements, err
	}
	return summary, elements, nil
}
