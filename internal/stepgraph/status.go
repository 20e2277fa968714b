package stepgraph

import "github.com/autoqa/agentcore/internal/agentstate"

// DetermineTestStatus is the single place the terminal-status decision
// lives: stopped beats waiting, waiting beats failure, failure beats
// success, and a run that ran out of steps without error but without
// finishing is incomplete.
func DetermineTestStatus(s agentstate.State) agentstate.Status {
	switch {
	case s.StopRequested || s.Status == agentstate.StatusStopped:
		return agentstate.StatusStopped
	case s.WaitingForHITL:
		return agentstate.StatusWaitingHITL
	case len(s.Errors) > 0:
		return agentstate.StatusFailure
	case s.Mode == agentstate.ModeIdle:
		return agentstate.StatusIdle
	case s.TotalSteps > 0 && s.CurrentStep >= s.TotalSteps:
		return agentstate.StatusSuccess
	default:
		return agentstate.StatusIncomplete
	}
}
