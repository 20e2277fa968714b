// Package history implements the history recorder: append-only
// per-run records of step outcomes (SSIM scores, durations, chosen
// coordinates and their provenance) plus a shared index the collaborator
// layer paginates.
//
// Layout follows the deterministic paths of the persisted-state contract:
// <root>/executions/<run_id>.json holds one run, <root>/index.json the
// cross-run index. The per-run file is owned by its run; the index is
// updated under a short lock.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/autoqa/agentcore/internal/agentstate"
)

// StepRecord is one completed step of a run.
type StepRecord struct {
	RunID            string                      `json:"run_id"`
	TestID           string                      `json:"test_id"`
	StepIndex        int                         `json:"step_index"`
	Goal             string                      `json:"goal"`
	ActionKind       agentstate.ActionKind       `json:"action_kind"`
	TargetName       string                      `json:"target_name,omitempty"`
	Coordinate       *agentstate.Coordinate      `json:"coordinate,omitempty"`
	CoordinateSource agentstate.CoordinateSource `json:"coordinate_source,omitempty"`
	SSIMScore        float64                     `json:"ssim_score"`
	SSIMPassed       bool                        `json:"ssim_passed"`
	SSIMThreshold    float64                     `json:"ssim_threshold"`
	ReferenceName    string                      `json:"reference_name,omitempty"`
	BeforePath       string                      `json:"before_path,omitempty"`
	AfterPath        string                      `json:"after_path,omitempty"`
	ComparisonPath   string                      `json:"comparison_path,omitempty"`
	DurationMS       int64                       `json:"duration_ms"`
	Status           string                      `json:"status"`
	Error            string                      `json:"error,omitempty"`
	UsedLearned      bool                        `json:"used_learned"`
	RecordedAt       time.Time                   `json:"recorded_at"`
}

// RunRecord is one run's full history plus its totals.
type RunRecord struct {
	RunID       string            `json:"run_id"`
	TestID      string            `json:"test_id"`
	Mode        agentstate.Mode   `json:"mode"`
	Status      agentstate.Status `json:"status"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at,omitempty"`
	Steps       []StepRecord      `json:"steps"`
	StepsPassed int               `json:"steps_passed"`
	StepsFailed int               `json:"steps_failed"`
	AverageSSIM float64           `json:"average_ssim"`
	DurationMS  int64             `json:"duration_ms"`
}

// IndexEntry is the per-run summary the index file carries for pagination.
type IndexEntry struct {
	RunID       string            `json:"run_id"`
	TestID      string            `json:"test_id"`
	Status      agentstate.Status `json:"status"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at,omitempty"`
	StepsPassed int               `json:"steps_passed"`
	StepsFailed int               `json:"steps_failed"`
	DurationMS  int64             `json:"duration_ms"`
}

// Recorder writes run and step records under a history root directory.
type Recorder struct {
	mu   sync.Mutex
	root string
	runs map[string]*RunRecord
	now  func() time.Time
}

// NewRecorder builds a Recorder rooted at root, typically data/test_history.
func NewRecorder(root string) *Recorder {
	return &Recorder{root: root, runs: make(map[string]*RunRecord), now: time.Now}
}

// WithClock overrides the Recorder's timestamp source, for tests.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

func (r *Recorder) runPath(runID string) string {
	return filepath.Join(r.root, "executions", runID+".json")
}

func (r *Recorder) indexPath() string {
	return filepath.Join(r.root, "index.json")
}

// StartRun opens a new run record. Each run has a stable id used for all
// subsequent step grouping; starting an id twice is an error.
func (r *Recorder) StartRun(runID, testID string, mode agentstate.Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[runID]; exists {
		return fmt.Errorf("run %s already started", runID)
	}
	r.runs[runID] = &RunRecord{
		RunID:     runID,
		TestID:    testID,
		Mode:      mode,
		Status:    agentstate.StatusRunning,
		StartedAt: r.now(),
	}
	return r.flushRunLocked(runID)
}

// RecordStep appends one completed step to its run's record and rewrites
// the per-run file. Unknown run ids are an error: every StepRecord
// references exactly one started run.
func (r *Recorder) RecordStep(rec StepRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[rec.RunID]
	if !ok {
		return fmt.Errorf("run %s not started", rec.RunID)
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = r.now()
	}
	run.Steps = append(run.Steps, rec)
	return r.flushRunLocked(rec.RunID)
}

// FinishRun closes a run: computes totals, stamps the final status, rewrites
// the per-run file, and updates the shared index.
func (r *Recorder) FinishRun(runID string, status agentstate.Status) (RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return RunRecord{}, fmt.Errorf("run %s not started", runID)
	}

	run.Status = status
	run.FinishedAt = r.now()
	run.DurationMS = run.FinishedAt.Sub(run.StartedAt).Milliseconds()

	run.StepsPassed, run.StepsFailed = 0, 0
	var ssimSum float64
	var ssimCount int
	for _, s := range run.Steps {
		if s.Status == "passed" {
			run.StepsPassed++
		} else {
			run.StepsFailed++
		}
		if s.SSIMThreshold > 0 {
			ssimSum += s.SSIMScore
			ssimCount++
		}
	}
	if ssimCount > 0 {
		run.AverageSSIM = ssimSum / float64(ssimCount)
	}

	if err := r.flushRunLocked(runID); err != nil {
		return RunRecord{}, err
	}
	if err := r.updateIndexLocked(run); err != nil {
		return RunRecord{}, err
	}

	finished := *run
	delete(r.runs, runID)
	return finished, nil
}

// Run loads a run record by id, from memory for in-flight runs or from disk
// for finished ones.
func (r *Recorder) Run(runID string) (RunRecord, bool) {
	r.mu.Lock()
	if run, ok := r.runs[runID]; ok {
		rec := *run
		r.mu.Unlock()
		return rec, true
	}
	r.mu.Unlock()

	var rec RunRecord
	data, err := os.ReadFile(r.runPath(runID))
	if err != nil {
		return RunRecord{}, false
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return RunRecord{}, false
	}
	return rec, true
}

// Index returns index entries newest-first, skipping offset entries and
// returning at most limit (all remaining if limit <= 0).
func (r *Recorder) Index(offset, limit int) ([]IndexEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.readIndexLocked()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].StartedAt.After(entries[j].StartedAt) })

	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

func (r *Recorder) flushRunLocked(runID string) error {
	run := r.runs[runID]
	return writeJSONAtomic(r.runPath(runID), run)
}

func (r *Recorder) readIndexLocked() ([]IndexEntry, error) {
	data, err := os.ReadFile(r.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []IndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *Recorder) updateIndexLocked(run *RunRecord) error {
	entries, err := r.readIndexLocked()
	if err != nil {
		return err
	}
	entry := IndexEntry{
		RunID:       run.RunID,
		TestID:      run.TestID,
		Status:      run.Status,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		StepsPassed: run.StepsPassed,
		StepsFailed: run.StepsFailed,
		DurationMS:  run.DurationMS,
	}
	replaced := false
	for i := range entries {
		if entries[i].RunID == run.RunID {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}
	return writeJSONAtomic(r.indexPath(), entries)
}

func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".history-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
