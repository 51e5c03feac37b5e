package api

import "testing"

func TestValidateJobTransition(t *testing.T) {
	tests := []struct {
		from, to JobState
		wantErr  bool
	}{
		{"", JobStateQueued, false},
		{JobStateQueued, JobStateRunning, false},
		{JobStateQueued, JobStateCancelled, false},
		{JobStateRunning, JobStateCompleted, false},
		{JobStateRunning, JobStateFailed, false},
		{JobStateCompleted, JobStateRunning, true},
		{JobStateCancelled, JobStateQueued, true},
		{JobStateQueued, JobStateCompleted, true},
	}

	for _, tt := range tests {
		err := ValidateJobTransition(tt.from, tt.to)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateJobTransition(%q, %q) err = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
		}
	}
}

func TestValidateSessionTransition(t *testing.T) {
	tests := []struct {
		from, to SessionState
		wantErr  bool
	}{
		{"", SessionStateActive, false},
		{SessionStateActive, SessionStateIdle, false},
		{SessionStateIdle, SessionStateActive, false},
		{SessionStateTerminating, SessionStateTerminated, false},
		{SessionStateTerminated, SessionStateActive, true},
	}

	for _, tt := range tests {
		err := ValidateSessionTransition(tt.from, tt.to)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateSessionTransition(%q, %q) err = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
		}
	}
}
