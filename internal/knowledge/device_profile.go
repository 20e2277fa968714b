package knowledge

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/autoqa/agentcore/internal/agentstate"
)

// defaultFuzzyFormula is the character-set Jaccard match-weight
// expression, kept as a compiled expr program rather than a Go constant so
// the match weight is data-editable without a rebuild.
const defaultFuzzyFormula = "intersection / union"

// DeviceProfileStore persists per-device-geometry maps of normalized icon
// name -> resolved coordinate. One JSON file per device id, written
// crash-atomically; lookups are exact-match first, then fuzzy.
type DeviceProfileStore struct {
	mu       sync.Mutex
	dir      string
	fuzzyMin float64
	formula  *vm.Program
	cache    map[string]*agentstate.DeviceProfile
}

// NewDeviceProfileStore builds a store rooted at dir (one JSON file per
// device id). fuzzyMin defaults to 0.7.
func NewDeviceProfileStore(dir string, fuzzyMin float64) (*DeviceProfileStore, error) {
	if fuzzyMin <= 0 {
		fuzzyMin = 0.7
	}
	program, err := expr.Compile(defaultFuzzyFormula, expr.Env(map[string]float64{"intersection": 0, "union": 0}), expr.AsFloat64())
	if err != nil {
		return nil, fmt.Errorf("compiling fuzzy match formula: %w", err)
	}
	return &DeviceProfileStore{
		dir:      dir,
		fuzzyMin: fuzzyMin,
		formula:  program,
		cache:    make(map[string]*agentstate.DeviceProfile),
	}, nil
}

func (s *DeviceProfileStore) path(deviceID string) string {
	return filepath.Join(s.dir, deviceID+".json")
}

// load returns the in-memory profile for deviceID, reading from disk (or
// creating an empty one) on first access. Caller must hold s.mu.
func (s *DeviceProfileStore) load(deviceID string, width, height int) *agentstate.DeviceProfile {
	if p, ok := s.cache[deviceID]; ok {
		return p
	}
	p := &agentstate.DeviceProfile{DeviceID: deviceID, Width: width, Height: height, Icons: map[string]agentstate.StoredCoordinate{}}
	_ = readJSON(s.path(deviceID), p) // missing file means a fresh profile
	if p.Icons == nil {
		p.Icons = map[string]agentstate.StoredCoordinate{}
	}
	s.cache[deviceID] = p
	return p
}

// Lookup resolves a normalized icon name against deviceID's profile: exact
// match first, then substring/Jaccard fuzzy fallback at >= fuzzyMin.
func (s *DeviceProfileStore) Lookup(deviceID, normalizedName string) (agentstate.StoredCoordinate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.load(deviceID, 0, 0)
	if coord, ok := p.Icons[normalizedName]; ok {
		return coord, true
	}

	best, bestScore, found := s.fuzzyMatch(p, normalizedName)
	if found && bestScore >= s.fuzzyMin {
		return best, true
	}
	return agentstate.StoredCoordinate{}, false
}

func (s *DeviceProfileStore) fuzzyMatch(p *agentstate.DeviceProfile, name string) (agentstate.StoredCoordinate, float64, bool) {
	var bestName string
	var bestScore float64
	found := false

	for key := range p.Icons {
		if strings.Contains(key, name) || strings.Contains(name, key) {
			score := s.jaccard(key, name)
			if !found || score > bestScore {
				bestName, bestScore, found = key, score, true
			}
		}
	}
	if !found {
		return agentstate.StoredCoordinate{}, 0, false
	}
	return p.Icons[bestName], bestScore, true
}

func (s *DeviceProfileStore) jaccard(a, b string) float64 {
	setA := charSet(a)
	setB := charSet(b)

	union := map[rune]bool{}
	for r := range setA {
		union[r] = true
	}
	for r := range setB {
		union[r] = true
	}
	intersection := 0
	for r := range setA {
		if setB[r] {
			intersection++
		}
	}
	if len(union) == 0 {
		return 0
	}

	out, err := expr.Run(s.formula, map[string]float64{
		"intersection": float64(intersection),
		"union":        float64(len(union)),
	})
	if err != nil {
		return float64(intersection) / float64(len(union))
	}
	score, _ := out.(float64)
	return score
}

func charSet(s string) map[rune]bool {
	out := map[rune]bool{}
	for _, r := range s {
		out[r] = true
	}
	return out
}

// Upsert records a resolved coordinate under normalizedName, creating the
// device's profile on first use. Writes are crash-atomic.
func (s *DeviceProfileStore) Upsert(deviceID string, width, height int, normalizedName string, x, y int, source agentstate.CoordinateSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.load(deviceID, width, height)
	if p.Width == 0 {
		p.Width, p.Height = width, height
	}
	p.Icons[normalizedName] = agentstate.StoredCoordinate{X: x, Y: y, Source: source, LastVerify: time.Now()}
	return writeJSONAtomic(s.path(deviceID), p)
}

// Delete removes normalizedName from deviceID's profile, tolerating a
// fuzzy match against the stored key set. Operator-facing cleanup for
// entries a layout change has invalidated.
func (s *DeviceProfileStore) Delete(deviceID, normalizedName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.load(deviceID, 0, 0)
	if _, ok := p.Icons[normalizedName]; ok {
		delete(p.Icons, normalizedName)
		return true, writeJSONAtomic(s.path(deviceID), p)
	}

	best, score, found := s.fuzzyMatch(p, normalizedName)
	_ = best
	if found && score >= s.fuzzyMin {
		for key := range p.Icons {
			if s.jaccard(key, normalizedName) == score {
				delete(p.Icons, key)
				return true, writeJSONAtomic(s.path(deviceID), p)
			}
		}
	}
	return false, nil
}

// List returns every icon name and coordinate known for deviceID, sorted by
// name for stable CLI output.
func (s *DeviceProfileStore) List(deviceID string) []agentstate.DeviceProfileEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.load(deviceID, 0, 0)
	out := make([]agentstate.DeviceProfileEntry, 0, len(p.Icons))
	for name, coord := range p.Icons {
		out = append(out, agentstate.DeviceProfileEntry{Name: name, Coordinate: coord})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
