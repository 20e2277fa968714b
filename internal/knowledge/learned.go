package knowledge

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/autoqa/agentcore/internal/agentstate"
)

// LearnedSolutionStore persists per-test replayable step traces plus
// running success statistics, keyed by test id.
//
// A solution moves absent -> created(success_rate=1.0) -> updated
// (success_rate recomputed). There is no delete-on-failure: a failed run
// simply does not update the stored trace.
type LearnedSolutionStore struct {
	mu    sync.Mutex
	dir   string
	cache map[string]*agentstate.LearnedSolution
}

// NewLearnedSolutionStore builds a store rooted at dir.
func NewLearnedSolutionStore(dir string) *LearnedSolutionStore {
	return &LearnedSolutionStore{dir: dir, cache: make(map[string]*agentstate.LearnedSolution)}
}

func (s *LearnedSolutionStore) path(testID string) string {
	return filepath.Join(s.dir, testID+".json")
}

// Get retrieves the learned solution for testID, for replay.
func (s *LearnedSolutionStore) Get(testID string) (agentstate.LearnedSolution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sol, ok := s.cache[testID]; ok {
		return *sol, true
	}
	var sol agentstate.LearnedSolution
	if err := readJSON(s.path(testID), &sol); err != nil {
		return agentstate.LearnedSolution{}, false
	}
	s.cache[testID] = &sol
	return sol, true
}

// Upsert atomically folds one run's outcome into the learned solution for
// testID: creating it at success_rate 1.0 on first save, otherwise
// recomputing success_rate from the updated counters. steps replaces the
// replayable trace only when the run succeeded outright (overwriting a
// working trace with a failed one would make future replay worse, not
// better).
func (s *LearnedSolutionStore) Upsert(testID, deviceID string, steps []agentstate.LearnedStep, success bool, at time.Time) (agentstate.LearnedSolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sol, ok := s.cache[testID]
	if !ok {
		sol = &agentstate.LearnedSolution{}
		if err := readJSON(s.path(testID), sol); err != nil {
			sol = &agentstate.LearnedSolution{TestID: testID, DeviceID: deviceID, CreatedAt: at}
		}
	}

	if success {
		sol.Steps = steps
	}
	sol.RecordExecution(success, at)
	s.cache[testID] = sol

	if err := writeJSONAtomic(s.path(testID), sol); err != nil {
		return agentstate.LearnedSolution{}, err
	}
	return *sol, nil
}

// Delete removes a learned solution. Operator-facing escape hatch; the
// run loop itself never deletes.
func (s *LearnedSolutionStore) Delete(testID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cache, testID)
	return removeIfExists(s.path(testID))
}
