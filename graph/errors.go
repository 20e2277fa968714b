package graph

import "errors"

// ErrMaxStepsExceeded indicates that the graph execution reached the maximum
// allowed step count without completing. This prevents infinite loops and
// runaway executions.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrInvalidRetryPolicy indicates a RetryPolicy was constructed with
// inconsistent values (MaxAttempts < 1, or MaxDelay < BaseDelay).
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")
