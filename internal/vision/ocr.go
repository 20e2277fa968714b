package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/autoqa/agentcore/internal/agentstate"
)

// OCREngine runs OCR over a screenshot and returns every detected text
// region above the engine's own minimum confidence. Implementations may
// apply their own preprocessing; TesseractEngine runs a multi-variant
// preprocessing sweep.
type OCREngine interface {
	Detect(ctx context.Context, png []byte) ([]agentstate.DetectedElement, error)
}

// TesseractEngine wraps github.com/otiai10/gosseract (a Tesseract binding)
// and runs OCR across multiple preprocessing variants and layout modes,
// collecting every candidate above confidenceMin. Screens with poor
// contrast or inverted themes rarely survive every variant, so candidates
// from all of them are pooled before matching.
type TesseractEngine struct {
	confidenceMin float64
}

// NewTesseractEngine builds an engine with the given minimum OCR
// confidence (0-100).
func NewTesseractEngine(confidenceMin float64) *TesseractEngine {
	return &TesseractEngine{confidenceMin: confidenceMin}
}

// preprocessVariant is one of the image-preprocessing strategies run
// before OCR.
type preprocessVariant struct {
	name string
	fn   func(image.Image) image.Image
}

func variants() []preprocessVariant {
	return []preprocessVariant{
		{"grayscale_denoise_sharpen", func(img image.Image) image.Image {
			return imaging.Sharpen(imaging.Blur(imaging.Grayscale(img), 0.5), 1.0)
		}},
		{"clahe_otsu_approx", func(img image.Image) image.Image {
			return imaging.AdjustContrast(imaging.Grayscale(img), 30)
		}},
		{"invert", func(img image.Image) image.Image {
			return imaging.Invert(imaging.Grayscale(img))
		}},
		{"edge_enhance", func(img image.Image) image.Image {
			return imaging.Sharpen(img, 2.0)
		}},
		{"otsu_alone", func(img image.Image) image.Image {
			return imaging.Grayscale(img)
		}},
	}
}

// layoutModes mirrors Tesseract page segmentation modes worth trying for a
// UI screenshot: sparse text, single block, single line.
var layoutModes = []gosseract.PageSegMode{
	gosseract.PSM_SPARSE_TEXT,
	gosseract.PSM_SINGLE_BLOCK,
	gosseract.PSM_SINGLE_LINE,
}

// Detect runs every preprocessing variant x layout mode combination and
// returns the union of all candidates at or above confidenceMin.
func (t *TesseractEngine) Detect(ctx context.Context, png []byte) ([]agentstate.DetectedElement, error) {
	img, err := imaging.Decode(bytes.NewReader(png))
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot: %w", err)
	}

	var all []agentstate.DetectedElement
	for _, variant := range variants() {
		processed := variant.fn(img)
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, processed, imaging.PNG); err != nil {
			continue
		}
		processedPNG := buf.Bytes()

		for _, mode := range layoutModes {
			select {
			case <-ctx.Done():
				return all, ctx.Err()
			default:
			}
			boxes, err := t.runOnce(processedPNG, mode)
			if err != nil {
				continue
			}
			all = append(all, boxes...)
		}
	}
	return all, nil
}

func (t *TesseractEngine) runOnce(png []byte, mode gosseract.PageSegMode) ([]agentstate.DetectedElement, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetImageFromBytes(png); err != nil {
		return nil, err
	}
	if err := client.SetPageSegMode(mode); err != nil {
		return nil, err
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, err
	}

	var out []agentstate.DetectedElement
	for _, b := range boxes {
		if b.Confidence < t.confidenceMin {
			continue
		}
		out = append(out, agentstate.DetectedElement{
			Text:       b.Word,
			X:          b.Box.Min.X,
			Y:          b.Box.Min.Y,
			W:          b.Box.Dx(),
			H:          b.Box.Dy(),
			Confidence: b.Confidence,
		})
	}
	return out, nil
}

// resolveTexted resolves labeled elements: OCR across preprocessing
// variants, fuzzy/exact match against description, cluster by weighted
// centroid, pick the best by composite score. Returns (nil, nil) — not an
// error — when no text was found, signalling the caller to fall through to
// the non-texted path.
func (r *Resolver) resolveTexted(ctx context.Context, shot Screenshot, description string) (*agentstate.Coordinate, error) {
	elements, err := r.ExtractText(ctx, shot)
	if err != nil || len(elements) == 0 {
		return nil, nil
	}

	target := targetText(description)
	var candidates []scoredCandidate
	for _, el := range elements {
		similarity := ratcliffObershelp(normalizeForMatch(el.Text), normalizeForMatch(target))
		exact := normalizeForMatch(el.Text) == normalizeForMatch(target)
		if !exact && similarity < r.fuzzyMatchMin {
			continue
		}
		if el.Confidence < r.ocrConfidenceMin {
			continue
		}
		candidates = append(candidates, scoredCandidate{
			el:         el,
			similarity: similarity,
			exact:      exact,
		})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	cx, cy := weightedCentroid(candidates)
	diag := math.Hypot(float64(shot.Width), float64(shot.Height))
	maxDist := diag * 0.15

	var filtered []scoredCandidate
	for _, c := range candidates {
		dist := math.Hypot(float64(c.el.X)-cx, float64(c.el.Y)-cy)
		if dist <= maxDist {
			c.distance = dist
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		filtered = candidates
	}

	best := pickBest(filtered, diag)

	return &agentstate.Coordinate{
		X:          best.el.X + best.el.W/2,
		Y:          best.el.Y + best.el.H/2,
		Source:     agentstate.SourceOCR,
		Confidence: best.el.Confidence,
	}, nil
}

type scoredCandidate struct {
	el         agentstate.DetectedElement
	similarity float64
	exact      bool
	distance   float64
}

func weightedCentroid(cands []scoredCandidate) (float64, float64) {
	var sumX, sumY, sumW float64
	for _, c := range cands {
		weight := c.el.Confidence * c.similarity
		if weight <= 0 {
			weight = 0.01
		}
		sumX += float64(c.el.X) * weight
		sumY += float64(c.el.Y) * weight
		sumW += weight
	}
	if sumW == 0 {
		return 0, 0
	}
	return sumX / sumW, sumY / sumW
}

// pickBest applies the tie-breaking order: exact match beats fuzzy,
// then composite score 0.5*confidence + 0.3*similarity + 20*distance_score,
// then smaller distance to centroid, then insertion order.
func pickBest(cands []scoredCandidate, diag float64) scoredCandidate {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.exact != b.exact {
			return a.exact
		}
		scoreA := compositeScore(a, diag)
		scoreB := compositeScore(b, diag)
		if scoreA != scoreB {
			return scoreA > scoreB
		}
		return a.distance < b.distance
	})
	return cands[0]
}

func compositeScore(c scoredCandidate, diag float64) float64 {
	distanceScore := 1.0
	if diag > 0 {
		distanceScore = 1.0 - (c.distance / diag)
	}
	return 0.5*(c.el.Confidence/100.0) + 0.3*c.similarity + 20*distanceScore/100.0
}

func targetText(description string) string {
	return description
}

func normalizeForMatch(s string) string {
	return string([]rune(trimLowerJoin(s)))
}

func trimLowerJoin(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			continue
		}
		if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		out = append(out, r)
	}
	return string(out)
}

// ratcliffObershelp computes the Ratcliff-Obershelp similarity ratio in
// [0, 1]: twice the total length of matching subsequences divided by the
// combined length of both strings, recursing on the unmatched left/right
// remainders of the longest common substring.
func ratcliffObershelp(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	matches := matchingCharacters(a, b)
	return 2.0 * float64(matches) / float64(len(a)+len(b))
}

func matchingCharacters(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	start1, start2, length := longestCommonSubstring(ra, rb)
	if length == 0 {
		return 0
	}
	total := length
	total += matchingCharacters(string(ra[:start1]), string(rb[:start2]))
	total += matchingCharacters(string(ra[start1+length:]), string(rb[start2+length:]))
	return total
}

func longestCommonSubstring(a, b []rune) (startA, startB, length int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0, 0
	}
	dp := make([][]int, len(a)+1)
	for i := range dp {
		dp[i] = make([]int, len(b)+1)
	}
	best := 0
	bestA, bestB := 0, 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
				if dp[i][j] > best {
					best = dp[i][j]
					bestA = i - best
					bestB = j - best
				}
			}
		}
	}
	return bestA, bestB, best
}
