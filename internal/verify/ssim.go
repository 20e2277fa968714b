package verify

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
)

// SSIM stabilization constants for 8-bit dynamic range, per the standard
// formulation: C1 = (0.01*255)^2, C2 = (0.03*255)^2.
const (
	ssimC1 = 6.5025
	ssimC2 = 58.5225

	ssimWindow = 8
)

func decodeGray(png []byte) (*image.Gray, error) {
	img, err := imaging.Decode(bytes.NewReader(png))
	if err != nil {
		return nil, err
	}
	gray := image.NewGray(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
	xdraw.Draw(gray, gray.Bounds(), img, img.Bounds().Min, xdraw.Src)
	return gray, nil
}

func resizeGray(src *image.Gray, w, h int) *image.Gray {
	if src.Bounds().Dx() == w && src.Bounds().Dy() == h {
		return src
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// ssim computes the mean Structural Similarity Index between the reference
// image and the after-shot on grayscale versions, resizing the after-shot
// to the reference dimensions first. Windows of 8x8 pixels are scored
// independently and averaged; a trailing partial window is included so edge
// content still contributes.
func ssim(referencePNG, afterPNG []byte) (float64, error) {
	ref, err := decodeGray(referencePNG)
	if err != nil {
		return 0, err
	}
	after, err := decodeGray(afterPNG)
	if err != nil {
		return 0, err
	}

	w, h := ref.Bounds().Dx(), ref.Bounds().Dy()
	after = resizeGray(after, w, h)

	var total float64
	var windows int
	for y := 0; y < h; y += ssimWindow {
		for x := 0; x < w; x += ssimWindow {
			ww := minInt(ssimWindow, w-x)
			wh := minInt(ssimWindow, h-y)
			total += windowSSIM(ref, after, x, y, ww, wh)
			windows++
		}
	}
	if windows == 0 {
		return 0, nil
	}
	return total / float64(windows), nil
}

func windowSSIM(a, b *image.Gray, x0, y0, w, h int) float64 {
	n := float64(w * h)

	var sumA, sumB float64
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			sumA += float64(a.GrayAt(x, y).Y)
			sumB += float64(b.GrayAt(x, y).Y)
		}
	}
	muA := sumA / n
	muB := sumB / n

	var varA, varB, cov float64
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			da := float64(a.GrayAt(x, y).Y) - muA
			db := float64(b.GrayAt(x, y).Y) - muB
			varA += da * da
			varB += db * db
			cov += da * db
		}
	}
	varA /= n
	varB /= n
	cov /= n

	num := (2*muA*muB + ssimC1) * (2*cov + ssimC2)
	den := (muA*muA + muB*muB + ssimC1) * (varA + varB + ssimC2)
	if den == 0 {
		return 1
	}
	return num / den
}

// pixelDiffPercent reports the percentage of pixels whose grayscale values
// differ by more than 30 between before and after, resizing after to
// before's dimensions when geometries differ.
func pixelDiffPercent(beforePNG, afterPNG []byte) (float64, error) {
	before, err := decodeGray(beforePNG)
	if err != nil {
		return 0, err
	}
	after, err := decodeGray(afterPNG)
	if err != nil {
		return 0, err
	}

	w, h := before.Bounds().Dx(), before.Bounds().Dy()
	after = resizeGray(after, w, h)

	total := w * h
	if total == 0 {
		return 0, nil
	}
	changed := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			diff := int(before.GrayAt(x, y).Y) - int(after.GrayAt(x, y).Y)
			if diff < 0 {
				diff = -diff
			}
			if diff > 30 {
				changed++
			}
		}
	}
	return 100 * float64(changed) / float64(total), nil
}

// sideBySide renders reference and after into one PNG, reference on the
// left, for operator inspection of SSIM failures.
func sideBySide(reference, after []byte) ([]byte, error) {
	refImg, err := imaging.Decode(bytes.NewReader(reference))
	if err != nil {
		return nil, err
	}
	afterImg, err := imaging.Decode(bytes.NewReader(after))
	if err != nil {
		return nil, err
	}

	rw, rh := refImg.Bounds().Dx(), refImg.Bounds().Dy()
	aw, ah := afterImg.Bounds().Dx(), afterImg.Bounds().Dy()
	canvas := imaging.New(rw+aw, maxInt(rh, ah), image.White)
	canvas = imaging.Paste(canvas, refImg, image.Pt(0, 0))
	canvas = imaging.Paste(canvas, afterImg, image.Pt(rw, 0))

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
