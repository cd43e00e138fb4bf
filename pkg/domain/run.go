package domain

import "time"

// RunStatus is the lifecycle status of a run or of one of its steps.
type RunStatus string

const (
	RunStatusSubmitted RunStatus = "submitted"
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSkipped   RunStatus = "skipped"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// StepState tracks one step of a run.
type StepState struct {
	Name        StepName   `json:"name"`
	Status      RunStatus  `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// RunState is the persisted state of an asynchronous run.
type RunState struct {
	RunID         string       `json:"run_id"`
	Status        RunStatus    `json:"status"`
	Mode          Mode         `json:"mode,omitempty"`
	OutputAnnData bool         `json:"output_anndata"`
	Genes         int          `json:"genes"`
	Cells         int          `json:"cells"`
	Steps         []*StepState `json:"steps"`
	Result        *Result      `json:"result,omitempty"`
	Error         string       `json:"error,omitempty"`
	SubmittedAt   time.Time    `json:"submitted_at"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

// Step returns the state of the named step, or nil.
func (s *RunState) Step(name StepName) *StepState {
	for _, st := range s.Steps {
		if st.Name == name {
			return st
		}
	}
	return nil
}
