package vision

import (
	"bytes"
	"context"
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/autoqa/agentcore/internal/agentstate"
)

// launcherKeywords trigger the CV grid detector. Routing is otherwise
// model-decided; only the launcher-grid shortcut is keyword-matched.
var launcherKeywords = []string{"launcher", "drawer", "grid"}

func looksLikeLauncher(description string) bool {
	lower := strings.ToLower(description)
	for _, kw := range launcherKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// GridDetector finds a launcher-style 3x3 icon grid in a screenshot and
// returns its centroid plus a uniformity score in [0, 1].
type GridDetector interface {
	DetectGrid(ctx context.Context, png []byte) (center image.Point, uniformity float64, dotCount int, found bool)
}

// CVGridDetector implements GridDetector with a dot-clustering approach
// over navigation-bar candidate regions: candidate "dots" are small sample
// windows whose mean intensity differs sharply (darker or lighter) from
// their surroundings within each band, clustered DBSCAN-style and checked for 3x3 radius
// uniformity. Pure-Go on github.com/disintegration/imaging; no OpenCV
// binding required.
type CVGridDetector struct{}

// NewCVGridDetector builds a CVGridDetector.
func NewCVGridDetector() *CVGridDetector { return &CVGridDetector{} }

// navBand is one of the four candidate navigation-bar regions scanned:
// bottom, top, left, right, each 15% of the screen.
type navBand struct {
	name string
	rect func(w, h int) image.Rectangle
}

func navBands() []navBand {
	return []navBand{
		{"bottom", func(w, h int) image.Rectangle { return image.Rect(0, int(float64(h)*0.85), w, h) }},
		{"top", func(w, h int) image.Rectangle { return image.Rect(0, 0, w, int(float64(h)*0.15)) }},
		{"left", func(w, h int) image.Rectangle { return image.Rect(0, 0, int(float64(w)*0.15), h) }},
		{"right", func(w, h int) image.Rectangle { return image.Rect(int(float64(w)*0.85), 0, w, h) }},
	}
}

// dot is a candidate circular icon-dot detection within a band.
type dot struct {
	cx, cy float64
	radius float64
}

// DetectGrid scans each navigation band for a cluster of roughly uniform
// circular dots (icons), verifying the cluster passes the uniformity
// threshold before reporting a find.
func (g *CVGridDetector) DetectGrid(_ context.Context, png []byte) (image.Point, float64, int, bool) {
	img, err := imaging.Decode(bytes.NewReader(png))
	if err != nil {
		return image.Point{}, 0, 0, false
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	gray := imaging.Grayscale(img)

	for _, band := range navBands() {
		rect := band.rect(w, h)
		dots := detectDots(gray, rect)
		if len(dots) < 5 {
			continue
		}
		clusters := dbscanCluster(dots, 40.0, 3)
		for _, cluster := range clusters {
			if len(cluster) < 5 {
				continue
			}
			uniformity := radiusUniformity(cluster)
			if uniformity >= 0.5 {
				cx, cy := clusterCentroid(cluster)
				return image.Point{X: int(cx), Y: int(cy)}, uniformity, len(cluster), true
			}
		}
	}
	return image.Point{}, 0, 0, false
}

// detectDots scans rect in a coarse grid of sample windows, treating a
// window whose mean intensity differs sharply from its neighborhood as a
// candidate icon dot center.
func detectDots(gray image.Image, rect image.Rectangle) []dot {
	const step = 12
	const window = 8

	var dots []dot
	for y := rect.Min.Y; y < rect.Max.Y-window; y += step {
		for x := rect.Min.X; x < rect.Max.X-window; x += step {
			mean := meanIntensity(gray, x, y, window)
			surround := meanIntensity(gray, x-window, y-window, window*3)
			if math.Abs(mean-surround) > 25 {
				dots = append(dots, dot{cx: float64(x + window/2), cy: float64(y + window/2), radius: window / 2})
			}
		}
	}
	return dots
}

func meanIntensity(gray image.Image, x, y, size int) float64 {
	bounds := gray.Bounds()
	var sum, count float64
	for dy := 0; dy < size; dy++ {
		for dx := 0; dx < size; dx++ {
			px, py := x+dx, y+dy
			if px < bounds.Min.X || px >= bounds.Max.X || py < bounds.Min.Y || py >= bounds.Max.Y {
				continue
			}
			r, _, _, _ := gray.At(px, py).RGBA()
			sum += float64(r >> 8)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / count
}

// dbscanCluster is a minimal DBSCAN over 2D points (eps, minPts), grouping
// dots into candidate icon-grid clusters.
func dbscanCluster(dots []dot, eps float64, minPts int) [][]dot {
	visited := make([]bool, len(dots))
	var clusters [][]dot

	neighbors := func(i int) []int {
		var out []int
		for j, d := range dots {
			if j == i {
				continue
			}
			if math.Hypot(dots[i].cx-d.cx, dots[i].cy-d.cy) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	for i := range dots {
		if visited[i] {
			continue
		}
		visited[i] = true
		neigh := neighbors(i)
		if len(neigh) < minPts {
			continue
		}
		cluster := []dot{dots[i]}
		queue := append([]int(nil), neigh...)
		seen := map[int]bool{i: true}
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if seen[j] {
				continue
			}
			seen[j] = true
			visited[j] = true
			cluster = append(cluster, dots[j])
			more := neighbors(j)
			if len(more) >= minPts {
				queue = append(queue, more...)
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

func radiusUniformity(cluster []dot) float64 {
	if len(cluster) == 0 {
		return 0
	}
	var sum float64
	for _, d := range cluster {
		sum += d.radius
	}
	mean := sum / float64(len(cluster))
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, d := range cluster {
		variance += (d.radius - mean) * (d.radius - mean)
	}
	variance /= float64(len(cluster))
	stddev := math.Sqrt(variance)
	uniformity := 1.0 - (stddev / mean)
	if uniformity < 0 {
		uniformity = 0
	}
	return uniformity
}

func clusterCentroid(cluster []dot) (float64, float64) {
	var sumX, sumY float64
	for _, d := range cluster {
		sumX += d.cx
		sumY += d.cy
	}
	n := float64(len(cluster))
	return sumX / n, sumY / n
}

// resolveNonTexted resolves unlabeled elements: a launcher-grid CV
// detector for keyword-matched descriptions, otherwise the model's
// FOUND/X/Y/CONFIDENCE localization grammar.
func (r *Resolver) resolveNonTexted(ctx context.Context, shot Screenshot, description string) (*agentstate.Coordinate, error) {
	if looksLikeLauncher(description) && r.grid != nil {
		center, uniformity, _, found := r.grid.DetectGrid(ctx, shot.PNG)
		if found {
			return &agentstate.Coordinate{
				X: center.X, Y: center.Y,
				Source:     agentstate.SourceGrid,
				Confidence: uniformity * 100,
			}, nil
		}
	}

	if r.chat == nil {
		return nil, nil
	}
	coord, confidence, found, err := r.chat.LocateIcon(ctx, shot.PNG, description, shot.Width, shot.Height)
	if err != nil {
		return nil, nil // network errors downgrade to zero confidence and move on
	}
	if !found {
		return nil, nil
	}
	if coord.X < 0 || coord.X > shot.Width || coord.Y < 0 || coord.Y > shot.Height {
		return nil, nil
	}
	return &agentstate.Coordinate{X: coord.X, Y: coord.Y, Source: agentstate.SourceModel, Confidence: confidence}, nil
}
