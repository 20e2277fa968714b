package verify

import (
	"context"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeDetector reports visibility per screenshot, keyed by raw PNG bytes.
type fakeDetector struct {
	visible map[string]bool
}

func (f *fakeDetector) ElementVisible(_ context.Context, png []byte, _ string) (bool, error) {
	v, ok := f.visible[string(png)]
	if !ok {
		return false, context.Canceled
	}
	return v, nil
}

func TestVerifyDisappearedRequiresAbsenceAfter(t *testing.T) {
	white := pngOf(t, 32, 32, color.White)
	black := pngOf(t, 32, 32, color.Black)

	detector := &fakeDetector{visible: map[string]bool{
		string(white): true,
		string(black): false,
	}}
	v := New(nil, nil, 0.85, 1.0, WithElementDetector(detector))

	res, err := v.VerifyDisappeared(context.Background(), "dev", white, black, "", "dialog")
	require.NoError(t, err)
	require.True(t, res.OverallPassed, "present before, absent after")

	// The element never left: the whole screen changed but the check still
	// fails, because existence is the decisive signal, not pixel change.
	stillThere := &fakeDetector{visible: map[string]bool{
		string(white): true,
		string(black): true,
	}}
	v = New(nil, nil, 0.85, 1.0, WithElementDetector(stillThere))

	res, err = v.VerifyDisappeared(context.Background(), "dev", white, black, "", "dialog")
	require.NoError(t, err)
	require.False(t, res.OverallPassed)
	require.True(t, res.Pixel.Changed, "pixel diff stays informational")
}

func TestVerifyDisappearedFailsWhenNeverPresent(t *testing.T) {
	white := pngOf(t, 32, 32, color.White)
	black := pngOf(t, 32, 32, color.Black)

	detector := &fakeDetector{visible: map[string]bool{
		string(white): false,
		string(black): false,
	}}
	v := New(nil, nil, 0.85, 1.0, WithElementDetector(detector))

	res, err := v.VerifyDisappeared(context.Background(), "dev", white, black, "", "dialog")
	require.NoError(t, err)
	require.False(t, res.OverallPassed, "cannot disappear without being present first")
}

func TestVerifyAppearedMirror(t *testing.T) {
	white := pngOf(t, 32, 32, color.White)
	black := pngOf(t, 32, 32, color.Black)

	detector := &fakeDetector{visible: map[string]bool{
		string(white): false,
		string(black): true,
	}}
	v := New(nil, nil, 0.85, 1.0, WithElementDetector(detector))

	res, err := v.VerifyAppeared(context.Background(), "dev", white, black, "", "settings panel")
	require.NoError(t, err)
	require.True(t, res.OverallPassed)
	require.Equal(t, "YES", res.AI.Verdict)

	// Already visible before the action: not an appearance.
	already := &fakeDetector{visible: map[string]bool{
		string(white): true,
		string(black): true,
	}}
	v = New(nil, nil, 0.85, 1.0, WithElementDetector(already))

	res, err = v.VerifyAppeared(context.Background(), "dev", white, black, "", "settings panel")
	require.NoError(t, err)
	require.False(t, res.OverallPassed)
}

func TestExistenceFallsBackToVerifyWhenUndetermined(t *testing.T) {
	white := pngOf(t, 32, 32, color.White)
	black := pngOf(t, 32, 32, color.Black)

	// No detector and no model: existence cannot be determined, so the
	// change-based verdict applies.
	v := New(nil, nil, 0.85, 1.0)

	res, err := v.VerifyDisappeared(context.Background(), "dev", white, black, "", "dialog")
	require.NoError(t, err)
	require.True(t, res.OverallPassed, "degraded to pixel-diff verdict")

	res, err = v.VerifyDisappeared(context.Background(), "dev", white, white, "", "dialog")
	require.NoError(t, err)
	require.False(t, res.OverallPassed)
}
