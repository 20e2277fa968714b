package graph

import (
	"context"
	"fmt"
	"time"
)

// getNodeTimeout resolves a node's timeout: per-node policy override first,
// then the engine-wide default, then 0 (unlimited).
func getNodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// executeNodeWithTimeout runs one node under its resolved timeout. A node
// that outlives its deadline yields a NODE_TIMEOUT engine error, which
// Engine.Run returns, ending the run. The step graph sets no node timeouts.
func executeNodeWithTimeout[S any](
	ctx context.Context,
	node Node[S],
	nodeID string,
	state S,
	policy *NodePolicy,
	defaultTimeout time.Duration,
) (NodeResult[S], error) {
	timeout := getNodeTimeout(policy, defaultTimeout)
	if timeout == 0 {
		return node.Run(ctx, state), nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := node.Run(timeoutCtx, state)

	if timeoutCtx.Err() == context.DeadlineExceeded {
		return result, &EngineError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", nodeID, timeout),
			Code:    "NODE_TIMEOUT",
		}
	}
	return result, nil
}
