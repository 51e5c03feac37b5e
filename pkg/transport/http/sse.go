package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/cagekeep/broker/pkg/api"
)

// writerState tracks the state of an SSE job stream.
type writerState int

const (
	writerIdle      writerState = iota // Initial state, no writes yet
	writerStreaming                    // WriteEvent has been called at least once
	writerCompleted                    // Terminal state reached
)

// terminalJobStates are the Job states that end a stream.
var terminalJobStates = map[api.JobState]bool{
	api.JobStateCompleted: true,
	api.JobStateFailed:    true,
	api.JobStateCancelled: true,
}

// jobStreamEvent is one SSE event describing a job's current state, sent to
// a GET /jobs/{id}/stream client each time the job transitions.
type jobStreamEvent struct {
	Job *api.Job `json:"job"`
}

// sseJobWriter streams a job's state transitions to an HTTP client as
// server-sent events, one event per poll where the state changed.
type sseJobWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu    sync.Mutex
	state writerState
}

func newSSEJobWriter(w http.ResponseWriter) *sseJobWriter {
	return &sseJobWriter{w: w, rc: http.NewResponseController(w)}
}

// WriteEvent sends one job-state SSE event. After a terminal state it also
// sends "data: [DONE]" and marks the writer completed; further calls fail.
func (s *sseJobWriter) WriteEvent(job *api.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerCompleted {
		return errors.New("cannot write event: stream is completed")
	}
	if s.state == writerIdle {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.state = writerStreaming
	}

	data, err := json.Marshal(jobStreamEvent{Job: job})
	if err != nil {
		return fmt.Errorf("marshaling job event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: job.state\ndata: %s\n\n", data); err != nil {
		return fmt.Errorf("writing job event: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("flushing job event: %w", err)
	}

	if terminalJobStates[job.State] {
		if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
			return fmt.Errorf("writing [DONE]: %w", err)
		}
		if err := s.rc.Flush(); err != nil {
			return fmt.Errorf("flushing [DONE]: %w", err)
		}
		s.state = writerCompleted
	}
	return nil
}

// hasStartedStreaming reports whether at least one event has been written.
func (s *sseJobWriter) hasStartedStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != writerIdle
}
