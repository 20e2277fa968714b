package agentstate

// Reduce merges a node's Delta into the previous state.
//
// Every node builds its Delta by cloning the previous state and mutating
// only the fields it owns, so for most fields the delta already carries the
// complete next value and Reduce simply adopts it. The three accumulator
// fields (ExecutedSteps, ExecutionLog, Errors) are the exception: a node's
// Delta carries only the entries it is adding this step, and Reduce appends
// them onto the previous state's accumulated slices. This keeps nodes from
// having to re-thread the full history through every Delta and keeps the
// reducer itself pure and order-preserving across repeated loop passes.
func Reduce(prev, delta State) State {
	next := delta

	next.ExecutedSteps = appendLearnedSteps(prev.ExecutedSteps, delta.ExecutedSteps)
	next.ExecutionLog = appendStrings(prev.ExecutionLog, delta.ExecutionLog)
	next.Errors = appendStrings(prev.Errors, delta.Errors)

	return next
}

func appendStrings(prev, add []string) []string {
	if len(add) == 0 {
		return append([]string(nil), prev...)
	}
	out := make([]string, 0, len(prev)+len(add))
	out = append(out, prev...)
	out = append(out, add...)
	return out
}

func appendLearnedSteps(prev, add []LearnedStep) []LearnedStep {
	if len(add) == 0 {
		return append([]LearnedStep(nil), prev...)
	}
	out := make([]LearnedStep, 0, len(prev)+len(add))
	out = append(out, prev...)
	out = append(out, add...)
	return out
}
