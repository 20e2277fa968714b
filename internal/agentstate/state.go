// Package agentstate defines the single travelling state value that moves
// between step-graph node executions, plus the entities it carries
// (test cases, learned solutions, device profiles, verification results).
package agentstate

import "time"

// Mode identifies how a run was started.
type Mode string

const (
	ModeTest       Mode = "test"
	ModeStandalone Mode = "standalone"
	ModeIdle       Mode = "idle"
)

// Status is the terminal or in-flight status of a run.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusRunning     Status = "running"
	StatusWaitingHITL Status = "waiting_hitl"
	StatusSuccess     Status = "success"
	StatusFailure     Status = "failure"
	StatusStopped     Status = "stopped"
	StatusIncomplete  Status = "incomplete"
)

// ActionKind enumerates the primitive actions a learned step or planned
// action may carry out on the device.
type ActionKind string

const (
	ActionTap        ActionKind = "tap"
	ActionDoubleTap  ActionKind = "double_tap"
	ActionLongPress  ActionKind = "long_press"
	ActionSwipe      ActionKind = "swipe"
	ActionInputText  ActionKind = "input_text"
	ActionPressHome  ActionKind = "press_home"
	ActionPressBack  ActionKind = "press_back"
	ActionPressEnter ActionKind = "press_enter"
	ActionPressKey   ActionKind = "press_key"
)

// CoordinateSource records where a resolved coordinate came from, used both
// for tie-breaking in the Vision Resolver and for the auto-learn guard
// (a coordinate sourced from "learned" or "device_profile" is never
// re-written back into the Device Profile).
type CoordinateSource string

const (
	SourceDeviceProfile CoordinateSource = "device_profile"
	SourceOCR           CoordinateSource = "ocr"
	SourceGrid          CoordinateSource = "grid"
	SourceModel         CoordinateSource = "model"
	SourceLearned       CoordinateSource = "learned"
	SourceHITL          CoordinateSource = "hitl"
)

// Coordinate is a screen-space point plus the provenance of how it was
// resolved and the confidence reported by that resolution strategy.
type Coordinate struct {
	X          int              `json:"x"`
	Y          int              `json:"y"`
	Source     CoordinateSource `json:"source"`
	Confidence float64          `json:"confidence"`
}

// Step is a single natural-language goal within a TestCase. It is data, not
// a graph node; executing it produces a StepRecord.
type Step struct {
	Goal               string `json:"goal"`
	ReferenceImageHint string `json:"reference_image_hint,omitempty"`
}

// TestCase is an immutable, ingested ordered sequence of steps.
type TestCase struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Component   string    `json:"component"`
	Steps       []Step    `json:"steps"`
	Description string    `json:"description,omitempty"`
	Expected    string    `json:"expected,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	SourceHash  string    `json:"source_hash"`
}

// LearnedStep is one entry of a replayable, previously-successful run.
type LearnedStep struct {
	StepNumber int         `json:"step_number"`
	ActionKind ActionKind  `json:"action_kind"`
	TargetName string      `json:"target_name,omitempty"`
	Coordinate *Coordinate `json:"coordinate,omitempty"`
	Text       string      `json:"text,omitempty"`
	Success    bool        `json:"success"`
}

// LearnedSolution is the replayable trace of a test case on one device
// geometry, plus running statistics updated after every run that reaches
// save on overall success.
type LearnedSolution struct {
	TestID         string        `json:"test_id"`
	DeviceID       string        `json:"device_id"`
	Steps          []LearnedStep `json:"steps"`
	ExecutionCount int           `json:"execution_count"`
	SuccessCount   int           `json:"success_count"`
	SuccessRate    float64       `json:"success_rate"`
	CreatedAt      time.Time     `json:"created_at"`
	LastExecution  time.Time     `json:"last_execution"`
}

// RecordExecution folds the outcome of one more run into the counters,
// recomputing SuccessRate as SuccessCount/ExecutionCount clamped to [0, 1].
func (l *LearnedSolution) RecordExecution(success bool, at time.Time) {
	l.ExecutionCount++
	if success {
		l.SuccessCount++
	}
	if l.ExecutionCount > 0 {
		rate := float64(l.SuccessCount) / float64(l.ExecutionCount)
		if rate < 0 {
			rate = 0
		}
		if rate > 1 {
			rate = 1
		}
		l.SuccessRate = rate
	}
	l.LastExecution = at
}

// StoredCoordinate is a Device Profile entry: a coordinate the system has
// previously resolved and verified for a given icon name.
type StoredCoordinate struct {
	X          int              `json:"x"`
	Y          int              `json:"y"`
	Source     CoordinateSource `json:"source"`
	LastVerify time.Time        `json:"last_verified"`
}

// DeviceProfile maps normalized icon names to stored coordinates for one
// device geometry (width x height).
type DeviceProfile struct {
	DeviceID string                      `json:"device_id"`
	Width    int                         `json:"width"`
	Height   int                         `json:"height"`
	Icons    map[string]StoredCoordinate `json:"icons"`
}

// DeviceProfileEntry is one named coordinate from a Device Profile listing,
// used by operator-facing tooling (cmd/agentctl profiles).
type DeviceProfileEntry struct {
	Name       string           `json:"name"`
	Coordinate StoredCoordinate `json:"coordinate"`
}

// DeviceID derives the canonical device geometry identifier used as the key
// across the Knowledge Store's device-profile corpus and Device Profile
// lookups in the Vision Resolver.
func DeviceID(width, height int) string {
	return deviceIDFormat(width, height)
}

// VerificationResult is the output of the verifier: a primary SSIM
// verdict, a pixel-diff fallback, and a non-decisive model diagnostic.
type VerificationResult struct {
	OverallPassed bool
	SSIM          SSIMResult
	Pixel         PixelResult
	AI            AIResult
	ComparisonImg string
}

type SSIMResult struct {
	Similarity     float64
	Threshold      float64
	Passed         bool
	ReferenceFound bool
}

type PixelResult struct {
	ChangePercentage float64
	Changed          bool
}

type AIResult struct {
	Verdict    string
	Reasoning  string
	Confidence float64
}

// DetectedElement is a single OCR or CV detection surfaced by Analyze, kept
// on the state for diagnostics and for the terminal logger's narration.
type DetectedElement struct {
	Text       string  `json:"text"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	W          int     `json:"w"`
	H          int     `json:"h"`
	Confidence float64 `json:"confidence"`
}

// State is the single travelling value passed between step-graph nodes.
// Fields are grouped by concern; every optional field is either a
// pointer, a zero-value sentinel, or an explicit bool flag.
type State struct {
	// Mode & lifecycle.
	Mode           Mode
	Status         Status
	StopRequested  bool
	ShouldContinue bool

	// Test identity.
	TestID          string
	TestDescription string
	TestSteps       []Step
	CurrentStep     int
	TotalSteps      int
	RunID           string
	DeviceID        string

	// Replay.
	HasLearnedSolution bool
	LearnedSolution    *LearnedSolution
	UseLearned         bool

	// Perception.
	CurrentScreenshot string
	BeforeScreenshot  string
	ScreenAnalysis    string
	DetectedElements  []DetectedElement

	// Planning.
	PlannedAction     string
	ActionKind        ActionKind
	TargetName        string
	TargetCoordinate  *Coordinate
	ActionParameters  map[string]string
	ExpectedReference string

	// Outcome.
	LastActionResult   *ActionResult
	ActionSuccess      bool
	VerificationResult *VerificationResult
	RetryCount         int
	MaxRetries         int
	ExecutedSteps      []LearnedStep

	// HITL.
	WaitingForHITL   bool
	HITLProblem      string
	HITLGuidance     string
	HITLCoordinate   *Coordinate
	HITLActionKind   ActionKind
	HITLApplied      bool
	HITLRetryPending bool
	FailedStep       int

	// Log.
	ExecutionLog []string
	Errors       []string
}

// ActionResult is the outcome of a single device primitive invocation.
type ActionResult struct {
	Success    bool
	Output     string
	Error      string
	DurationMS int64
}

// Clone returns a deep-enough copy of s for use as a node Delta base: slices
// and maps are copied so a node can mutate its own delta without aliasing
// the previous state's backing arrays.
func (s State) Clone() State {
	c := s
	c.TestSteps = append([]Step(nil), s.TestSteps...)
	c.DetectedElements = append([]DetectedElement(nil), s.DetectedElements...)
	c.ExecutedSteps = append([]LearnedStep(nil), s.ExecutedSteps...)
	c.ExecutionLog = append([]string(nil), s.ExecutionLog...)
	c.Errors = append([]string(nil), s.Errors...)
	if s.ActionParameters != nil {
		c.ActionParameters = make(map[string]string, len(s.ActionParameters))
		for k, v := range s.ActionParameters {
			c.ActionParameters[k] = v
		}
	}
	return c
}
