package verify

import (
	"bytes"
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"github.com/autoqa/agentcore/internal/model"
)

func pngOf(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := imaging.New(w, h, c)
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func TestVerifySSIMPrimary(t *testing.T) {
	dir := t.TempDir()
	refs := NewFSReferenceStore(dir)
	white := pngOf(t, 64, 64, color.White)
	black := pngOf(t, 64, 64, color.Black)

	require.NoError(t, refs.Save(context.Background(), "device_64x64", "settings_opened", white))

	v := New(refs, nil, 0.85, 1.0)

	res, err := v.Verify(context.Background(), "device_64x64", black, white, "settings_opened", "tap Settings")
	require.NoError(t, err)
	require.True(t, res.SSIM.ReferenceFound)
	require.True(t, res.SSIM.Passed)
	require.True(t, res.OverallPassed)
	require.GreaterOrEqual(t, res.SSIM.Similarity, 0.99)

	res, err = v.Verify(context.Background(), "device_64x64", white, black, "settings_opened", "tap Settings")
	require.NoError(t, err)
	require.True(t, res.SSIM.ReferenceFound)
	require.False(t, res.OverallPassed)
}

func TestVerifyResizesAfterShotToReference(t *testing.T) {
	dir := t.TempDir()
	refs := NewFSReferenceStore(dir)
	require.NoError(t, refs.Save(context.Background(), "dev", "home_opened", pngOf(t, 64, 64, color.White)))

	v := New(refs, nil, 0.85, 1.0)

	// After-shot at a different resolution still compares against the
	// reference after resize.
	res, err := v.Verify(context.Background(), "dev", nil, pngOf(t, 128, 128, color.White), "home_opened", "")
	require.NoError(t, err)
	require.True(t, res.OverallPassed)
}

func TestVerifyPixelDiffFallback(t *testing.T) {
	v := New(nil, nil, 0.85, 1.0)
	white := pngOf(t, 32, 32, color.White)
	black := pngOf(t, 32, 32, color.Black)

	res, err := v.Verify(context.Background(), "dev", white, black, "", "open launcher")
	require.NoError(t, err)
	require.False(t, res.SSIM.ReferenceFound)
	require.True(t, res.Pixel.Changed)
	require.True(t, res.OverallPassed)
	require.InDelta(t, 100.0, res.Pixel.ChangePercentage, 0.01)

	res, err = v.Verify(context.Background(), "dev", white, white, "", "open launcher")
	require.NoError(t, err)
	require.False(t, res.Pixel.Changed)
	require.False(t, res.OverallPassed)
}

func TestDiagnosticNeverChangesVerdict(t *testing.T) {
	dir := t.TempDir()
	refs := NewFSReferenceStore(dir)
	white := pngOf(t, 32, 32, color.White)
	require.NoError(t, refs.Save(context.Background(), "dev", "ref", white))

	chat := &model.MockVisionModel{VerifyVerdict: "NO", VerifyReasoning: "looks wrong", VerifyConfidence: 95}
	v := New(refs, chat, 0.85, 1.0)

	res, err := v.Verify(context.Background(), "dev", white, white, "ref", "goal")
	require.NoError(t, err)
	require.True(t, res.OverallPassed, "model diagnostic must not override SSIM")
	require.Equal(t, "NO", res.AI.Verdict)
	require.Equal(t, "looks wrong", res.AI.Reasoning)
}

func TestVerifySeedsMissingReferenceOnPass(t *testing.T) {
	dir := t.TempDir()
	refs := NewFSReferenceStore(dir)
	white := pngOf(t, 32, 32, color.White)
	black := pngOf(t, 32, 32, color.Black)

	v := New(refs, nil, 0.85, 1.0)

	res, err := v.Verify(context.Background(), "dev", white, black, "media_opened", "tap Media")
	require.NoError(t, err)
	require.False(t, res.SSIM.ReferenceFound)
	require.True(t, res.OverallPassed)

	_, found, err := refs.Load(context.Background(), "dev", "media_opened")
	require.NoError(t, err)
	require.True(t, found, "a passing run seeds the missing reference")
}

func TestComparisonImageWrittenWhenSSIMRan(t *testing.T) {
	refDir := t.TempDir()
	cmpDir := filepath.Join(t.TempDir(), "comparisons")
	refs := NewFSReferenceStore(refDir)
	white := pngOf(t, 32, 32, color.White)
	require.NoError(t, refs.Save(context.Background(), "dev", "ref", white))

	fixed := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	v := New(refs, nil, 0.85, 1.0, WithComparisonsDir(cmpDir), WithClock(func() time.Time { return fixed }))

	res, err := v.Verify(context.Background(), "dev", white, white, "ref", "goal")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cmpDir, "comparison_20260314_150926.png"), res.ComparisonImg)

	_, err = os.Stat(res.ComparisonImg)
	require.NoError(t, err)
}

func TestFSReferenceStoreMissing(t *testing.T) {
	refs := NewFSReferenceStore(t.TempDir())
	_, found, err := refs.Load(context.Background(), "dev", "nope")
	require.NoError(t, err)
	require.False(t, found)
}

func TestSSIMIdenticalAndOpposite(t *testing.T) {
	white := pngOf(t, 40, 40, color.White)
	black := pngOf(t, 40, 40, color.Black)

	same, err := ssim(white, white)
	require.NoError(t, err)
	require.Greater(t, same, 0.99)

	opposite, err := ssim(white, black)
	require.NoError(t, err)
	require.Less(t, opposite, 0.2)
}
