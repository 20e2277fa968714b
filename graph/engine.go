// Package graph provides the core graph execution engine this module
// specializes to a single concrete workflow: the agent's step graph.
package graph

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/autoqa/agentcore/graph/emit"
	"github.com/autoqa/agentcore/graph/store"
)

// contextKey is a private type used for context value keys to avoid collisions
// with keys from other packages.
type contextKey string

const (
	// RunIDKey is the context key for the unique workflow run identifier.
	RunIDKey contextKey = "graph.run_id"

	// StepIDKey is the context key for the current execution step number.
	StepIDKey contextKey = "graph.step_id"

	// NodeIDKey is the context key for the current node identifier.
	NodeIDKey contextKey = "graph.node_id"

	// AttemptKey is the context key for a retry attempt number (0-based).
	// Engine.Run runs each node once and does not set it.
	AttemptKey contextKey = "graph.attempt"

	// RNGKey is the context key for a seeded random number generator, used for
	// deterministic retry jitter (computeBackoff) in tests.
	RNGKey contextKey = "graph.rng"
)

// hashSeed derives a deterministic int64 seed from a run ID, so retry jitter
// within a run is reproducible across repeated executions of the same run ID.
func hashSeed(runID string) int64 {
	sum := sha256.Sum256([]byte(runID))
	return int64(binary.BigEndian.Uint64(sum[:8])) //nolint:gosec // deterministic seed, not security-sensitive
}

// Reducer merges a partial state update (delta) into the previous state.
//
// Reducers must be deterministic and pure: same (prev, delta) always
// produces the same result. A node's Delta is merged via the reducer after
// every step; loops re-enter the same reducer on every pass, so it must
// also tolerate repeated application of the same node.
//
// Type parameter S is the state type shared across the workflow.
type Reducer[S any] func(prev S, delta S) S

// Engine orchestrates a single logical thread of control through a typed
// node/edge graph: exactly one node runs at a time, in the order routing
// decisions produce, with no reordering and no concurrent node execution.
//
// Type parameter S is the state type shared across the workflow.
type Engine[S any] struct {
	mu sync.RWMutex

	reducer   Reducer[S]
	nodes     map[string]Node[S]
	policies  map[string]*NodePolicy
	edges     []Edge[S]
	startNode string

	store   store.Store[S]
	emitter emit.Emitter

	opts Options
}

// Options configures Engine execution behavior. Zero values are valid.
type Options struct {
	// MaxSteps limits workflow execution to prevent infinite loops. If 0, no
	// limit is enforced.
	MaxSteps int

	// DefaultNodeTimeout is the maximum execution time for nodes without an
	// explicit NodePolicy.Timeout. If 0, nodes run without a timeout unless
	// they set their own.
	DefaultNodeTimeout time.Duration

	// RunWallClockBudget is the maximum total execution time for Run(). If 0,
	// the run has no overall deadline beyond ctx's own.
	RunWallClockBudget time.Duration
}

// New creates a new Engine with the given reducer, store, and emitter.
func New[S any](reducer Reducer[S], st store.Store[S], emitter emit.Emitter, opts Options) *Engine[S] {
	return &Engine[S]{
		reducer:  reducer,
		nodes:    make(map[string]Node[S]),
		policies: make(map[string]*NodePolicy),
		edges:    make([]Edge[S], 0),
		store:    st,
		emitter:  emitter,
		opts:     opts,
	}
}

// Add registers a node in the workflow graph. Node IDs must be unique.
func (e *Engine[S]) Add(nodeID string, node Node[S]) error {
	if e == nil {
		return &EngineError{Message: "engine is nil", Code: "NIL_ENGINE"}
	}
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{Message: "duplicate node ID: " + nodeID, Code: "DUPLICATE_NODE"}
	}

	e.nodes[nodeID] = node
	return nil
}

// SetPolicy attaches a NodePolicy (timeout, retry) to an already-registered node.
func (e *Engine[S]) SetPolicy(nodeID string, policy *NodePolicy) error {
	if e == nil {
		return &EngineError{Message: "engine is nil", Code: "NIL_ENGINE"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{Message: "node does not exist: " + nodeID, Code: "NODE_NOT_FOUND"}
	}

	e.policies[nodeID] = policy
	return nil
}

// StartAt sets the entry point for workflow execution.
func (e *Engine[S]) StartAt(nodeID string) error {
	if e == nil {
		return &EngineError{Message: "engine is nil", Code: "NIL_ENGINE"}
	}
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{Message: "start node does not exist: " + nodeID, Code: "NODE_NOT_FOUND"}
	}

	e.startNode = nodeID
	return nil
}

// Connect creates an edge between two nodes. Node explicit routing via
// NodeResult.Route takes precedence over edges.
func (e *Engine[S]) Connect(from, to string, predicate Predicate[S]) error {
	if e == nil {
		return &EngineError{Message: "engine is nil", Code: "NIL_ENGINE"}
	}
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// Run executes the workflow from start to completion or error.
//
// Exactly one node executes per step, strictly in the order routing
// decisions produce: explicit NodeResult.Route wins, falling back to the
// first matching edge. There is no fan-out and no concurrent node
// execution — loops (A -> B -> A) are the only form of repetition, bounded
// by MaxSteps.
func (e *Engine[S]) Run(ctx context.Context, runID string, initial S) (S, error) {
	var zero S

	if e == nil {
		return zero, &EngineError{Message: "engine is nil", Code: "NIL_ENGINE"}
	}
	if e.reducer == nil {
		return zero, &EngineError{Message: "reducer is required", Code: "MISSING_REDUCER"}
	}
	if e.startNode == "" {
		return zero, &EngineError{Message: "start node not set (call StartAt before Run)", Code: "NO_START_NODE"}
	}

	e.mu.RLock()
	_, exists := e.nodes[e.startNode]
	e.mu.RUnlock()
	if !exists {
		return zero, &EngineError{Message: "start node does not exist: " + e.startNode, Code: "NODE_NOT_FOUND"}
	}

	if e.opts.RunWallClockBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.RunWallClockBudget)
		defer cancel()
	}

	ctx = context.WithValue(ctx, RNGKey, rand.New(rand.NewSource(hashSeed(runID)))) //nolint:gosec // deterministic jitter seed, not security-sensitive

	currentState := initial
	currentNode := e.startNode
	step := 0

	for {
		step++

		if e.opts.MaxSteps > 0 && step > e.opts.MaxSteps {
			return zero, &EngineError{Message: "workflow exceeded MaxSteps limit", Code: "MAX_STEPS_EXCEEDED"}
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		e.mu.RLock()
		nodeImpl, exists := e.nodes[currentNode]
		policy := e.policies[currentNode]
		e.mu.RUnlock()

		if !exists {
			return zero, &EngineError{Message: "node not found during execution: " + currentNode, Code: "NODE_NOT_FOUND"}
		}

		stepCtx := context.WithValue(ctx, NodeIDKey, currentNode)
		stepCtx = context.WithValue(stepCtx, StepIDKey, step)

		e.emitNodeStart(runID, currentNode, step-1)

		result, timeoutErr := executeNodeWithTimeout(stepCtx, nodeImpl, currentNode, currentState, policy, e.opts.DefaultNodeTimeout)
		if timeoutErr != nil {
			e.emitError(runID, currentNode, step-1, timeoutErr)
			return zero, timeoutErr
		}
		if result.Err != nil {
			e.emitError(runID, currentNode, step-1, result.Err)
			return zero, result.Err
		}

		currentState = e.reducer(currentState, result.Delta)

		if e.store != nil {
			if err := e.store.SaveStep(ctx, runID, step, currentNode, currentState); err != nil {
				return zero, &EngineError{Message: "failed to save step: " + err.Error(), Code: "STORE_ERROR"}
			}
		}

		e.emitNodeEnd(runID, currentNode, step-1, result.Delta)

		if result.Route.Terminal {
			e.emitRoutingDecision(runID, currentNode, step-1, map[string]interface{}{"terminal": true})
			return currentState, nil
		}

		if result.Route.To != "" {
			e.emitRoutingDecision(runID, currentNode, step-1, map[string]interface{}{"next_node": result.Route.To})
			currentNode = result.Route.To
			continue
		}

		nextNode := e.evaluateEdges(currentNode, currentState)
		if nextNode == "" {
			return zero, &EngineError{Message: "no valid route from node: " + currentNode, Code: "NO_ROUTE"}
		}

		e.emitRoutingDecision(runID, currentNode, step-1, map[string]interface{}{"next_node": nextNode, "via_edge": true})
		currentNode = nextNode
	}
}

// evaluateEdges finds the first matching edge from the given node. An edge
// with a nil predicate always matches; otherwise the predicate must return
// true. Edges are evaluated in the order they were added (priority order).
func (e *Engine[S]) evaluateEdges(fromNode string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, edge := range e.edges {
		if edge.From != fromNode {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}
	return ""
}

func (e *Engine[S]) emitNodeStart(runID, nodeID string, step int) {
	if e.emitter != nil {
		e.emitter.Emit(emit.Event{RunID: runID, Step: step, NodeID: nodeID, Msg: "node_start"})
	}
}

func (e *Engine[S]) emitNodeEnd(runID, nodeID string, step int, delta S) {
	if e.emitter != nil {
		e.emitter.Emit(emit.Event{
			RunID: runID, Step: step, NodeID: nodeID, Msg: "node_end",
			Meta: map[string]interface{}{"delta": delta},
		})
	}
}

func (e *Engine[S]) emitError(runID, nodeID string, step int, err error) {
	if e.emitter != nil {
		e.emitter.Emit(emit.Event{
			RunID: runID, Step: step, NodeID: nodeID, Msg: "error",
			Meta: map[string]interface{}{"error": err.Error()},
		})
	}
}

func (e *Engine[S]) emitRoutingDecision(runID, nodeID string, step int, meta map[string]interface{}) {
	if e.emitter != nil {
		e.emitter.Emit(emit.Event{RunID: runID, Step: step, NodeID: nodeID, Msg: "routing_decision", Meta: meta})
	}
}

// EngineError represents an error from Engine operations.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
