package graph

import (
	"math/rand"
	"time"
)

// NodePolicy configures execution behavior for one node.
type NodePolicy struct {
	// Timeout is the maximum execution time allowed for this node. If
	// zero, Options.DefaultNodeTimeout applies.
	Timeout time.Duration

	// RetryPolicy describes retry behavior for transient node failures.
	// Engine.Run does not apply it: a node error or timeout halts the run
	// on the first attempt whatever this field holds. Step-level retries
	// (the retry budget) live in the graph's guards.
	RetryPolicy *RetryPolicy
}

// RetryPolicy bounds automatic retries of a failed node execution.
// Delays follow exponential backoff with jitter.
type RetryPolicy struct {
	// MaxAttempts is the total number of execution attempts, including the
	// first. Must be >= 1; 1 means no retries.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff:
	// min(BaseDelay * 2^attempt, MaxDelay) + jitter.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Must be >= BaseDelay when both are set;
	// zero means uncapped.
	MaxDelay time.Duration

	// Retryable reports whether an error is worth retrying. Nil treats
	// every error as non-retryable.
	Retryable func(error) bool
}

// computeBackoff calculates the delay before the next retry:
// min(base * 2^attempt, maxDelay) plus up to one base of jitter so
// concurrent retriers never synchronize.
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	exponentialDelay := base * (1 << attempt)
	if maxDelay > 0 && exponentialDelay > maxDelay {
		exponentialDelay = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- retry timing, not security-sensitive
	}

	return exponentialDelay + jitter
}

// Validate checks the RetryPolicy's constraints: MaxAttempts >= 1, and
// MaxDelay >= BaseDelay when both are set.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}
