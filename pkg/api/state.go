package api

import "fmt"

// ValidateJobTransition checks whether a Job state transition is valid.
// An empty "from" state represents the initial state before submission.
// Terminal states (completed, failed, cancelled) do not allow outgoing
// transitions.
func ValidateJobTransition(from, to JobState) *Error {
	valid := map[JobState][]JobState{
		"":                {JobStateQueued},
		JobStateQueued:    {JobStateRunning, JobStateCancelled},
		JobStateRunning:   {JobStateCompleted, JobStateFailed, JobStateCancelled},
		JobStateCompleted: {}, // terminal
		JobStateFailed:    {}, // terminal
		JobStateCancelled: {}, // terminal
	}

	allowed, exists := valid[from]
	if !exists {
		return NewInvalidRequestError("state",
			fmt.Sprintf("invalid transition from %s to %s", from, to))
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return NewInvalidRequestError("state",
		fmt.Sprintf("invalid transition from %s to %s", from, to))
}

// ValidateSessionTransition checks whether a Session state transition is
// valid. Terminated is a terminal state.
func ValidateSessionTransition(from, to SessionState) *Error {
	valid := map[SessionState][]SessionState{
		"":                       {SessionStateActive},
		SessionStateActive:       {SessionStateIdle, SessionStateTerminating},
		SessionStateIdle:         {SessionStateActive, SessionStateTerminating},
		SessionStateTerminating:  {SessionStateTerminated},
		SessionStateTerminated:   {}, // terminal
	}

	allowed, exists := valid[from]
	if !exists {
		return NewInvalidRequestError("state",
			fmt.Sprintf("invalid transition from %s to %s", from, to))
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return NewInvalidRequestError("state",
		fmt.Sprintf("invalid transition from %s to %s", from, to))
}
