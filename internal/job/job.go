// Package job models a single media job and sequences it through the
// pipeline: stage the input, invoke the engine, format the result, and hand
// the output to the artifact store.
package job

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/book-expert/media-service/internal/workspace"
	"github.com/google/uuid"
)

// Kind is the type of work a job performs.
type Kind string

// Job kinds.
const (
	KindTranscribe Kind = "transcribe"
	KindSynthesize Kind = "synthesize"
	KindTranscode  Kind = "transcode"
)

// Status is the coarse, caller-facing progress of a job.
type Status string

// Job statuses.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// State is a step of the pipeline.
type State string

// Pipeline states.
const (
	StateCreated    State = "created"
	StateStaging    State = "staging"
	StateInvoking   State = "invoking"
	StateFormatting State = "formatting"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// ErrInvalidTransition is returned when a state change is not allowed.
var ErrInvalidTransition = errors.New("invalid job state transition")

var transitions = map[State][]State{
	StateCreated:    {StateStaging, StateFailed},
	StateStaging:    {StateInvoking, StateFailed},
	StateInvoking:   {StateFormatting, StateCompleted, StateFailed},
	StateFormatting: {StateCompleted, StateFailed},
}

// Job is one request's unit of work. It owns its workspace exclusively.
type Job struct {
	ID        string
	Kind      Kind
	CreatedAt time.Time

	mu          sync.Mutex
	state       State
	workspace   *workspace.Workspace
	failure     error
	completedAt time.Time
}

// New creates a job of the given kind in StateCreated.
func New(kind Kind) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		CreatedAt: time.Now(),
		state:     StateCreated,
	}
}

// State returns the current pipeline state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.state
}

// Status derives the caller-facing status from the pipeline state.
func (j *Job) Status() Status {
	switch j.State() {
	case StateCreated:
		return StatusPending
	case StateCompleted:
		return StatusSucceeded
	case StateFailed:
		return StatusFailed
	default:
		return StatusRunning
	}
}

// Err returns the error the job failed with, if any.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.failure
}

// Workspace returns the job's workspace once staging has begun.
func (j *Job) Workspace() *workspace.Workspace {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.workspace
}

// Duration is the time from creation to completion or failure, or to now for
// a job still in progress.
func (j *Job) Duration() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.completedAt.IsZero() {
		return time.Since(j.CreatedAt)
	}

	return j.completedAt.Sub(j.CreatedAt)
}

// Transition moves the job to next. Formatting is only reachable by
// transcription jobs.
func (j *Job) Transition(next State) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !slices.Contains(transitions[j.state], next) ||
		(next == StateFormatting && j.Kind != KindTranscribe) {
		return fmt.Errorf("%w: %s job from %s to %s", ErrInvalidTransition, j.Kind, j.state, next)
	}

	j.state = next

	if next == StateCompleted || next == StateFailed {
		j.completedAt = time.Now()
	}

	return nil
}

// Fail moves the job to StateFailed and records cause. Failing an already
// terminal job keeps the first outcome.
func (j *Job) Fail(cause error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state == StateCompleted || j.state == StateFailed {
		return
	}

	j.state = StateFailed
	j.failure = cause
	j.completedAt = time.Now()
}

func (j *Job) attach(ws *workspace.Workspace) {
	j.mu.Lock()
	j.workspace = ws
	j.mu.Unlock()
}
