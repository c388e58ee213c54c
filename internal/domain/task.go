package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskState enumerates the render pipeline states.
type TaskState string

const (
	TaskStateGenerating TaskState = "generating"
	TaskStateCodeReady  TaskState = "code_ready"
	TaskStateRendering  TaskState = "rendering"
	TaskStateRepairing  TaskState = "repairing"
	TaskStateRendering2 TaskState = "rendering_2"
	TaskStateComplete   TaskState = "complete"
	TaskStateFailed     TaskState = "failed"
)

// MaxAttempts is the first render plus exactly one repair.
const MaxAttempts = 2

var transitions = map[TaskState][]TaskState{
	TaskStateGenerating: {TaskStateCodeReady, TaskStateFailed},
	TaskStateCodeReady:  {TaskStateRendering, TaskStateFailed},
	TaskStateRendering:  {TaskStateComplete, TaskStateRepairing, TaskStateFailed},
	TaskStateRepairing:  {TaskStateRendering2, TaskStateFailed},
	TaskStateRendering2: {TaskStateComplete, TaskStateFailed},
}

// Terminal reports whether no further transitions are possible.
func (s TaskState) Terminal() bool {
	return s == TaskStateComplete || s == TaskStateFailed
}

// Attempt records one generate-write-render cycle.
type Attempt struct {
	Ordinal     int
	Script      string
	ScriptPath  string
	ExitStatus  int
	TimedOut    bool
	Diagnostics string
	Duration    time.Duration
}

// Succeeded reports whether the renderer exited cleanly.
func (a Attempt) Succeeded() bool {
	return a.ExitStatus == 0 && !a.TimedOut
}

// Task is one request's journey through the pipeline. It lives only for the
// duration of the request.
type Task struct {
	ID        string
	Request   Intent
	Attempts  []Attempt
	State     TaskState
	VideoURL  string
	Error     string
	CreatedAt time.Time
}

// NewTask creates a task in the Generating state with a fresh id.
func NewTask(req Intent) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Request:   req,
		State:     TaskStateGenerating,
		CreatedAt: time.Now().UTC(),
	}
}

// Transition moves the task to next, rejecting moves the state machine does not allow.
func (t *Task) Transition(next TaskState) error {
	for _, allowed := range transitions[t.State] {
		if allowed == next {
			t.State = next
			if next.Terminal() {
				t.discardDiagnostics()
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, next)
}

// AddAttempt appends a new attempt holding script.
func (t *Task) AddAttempt(script string) (*Attempt, error) {
	if len(t.Attempts) >= MaxAttempts {
		return nil, ErrAttemptLimit
	}
	t.Attempts = append(t.Attempts, Attempt{Ordinal: len(t.Attempts) + 1, Script: script})
	return &t.Attempts[len(t.Attempts)-1], nil
}

// LastAttempt returns the most recent attempt, or nil.
func (t *Task) LastAttempt() *Attempt {
	if len(t.Attempts) == 0 {
		return nil
	}
	return &t.Attempts[len(t.Attempts)-1]
}

// Repaired reports whether a repair attempt was made.
func (t *Task) Repaired() bool {
	return len(t.Attempts) == MaxAttempts
}

func (t *Task) discardDiagnostics() {
	for i := range t.Attempts {
		t.Attempts[i].Diagnostics = ""
	}
}
