package model

import "time"

// Step statuses.
const (
	StepPending = "pending"
	StepRunning = "running"
	StepSuccess = "success"
	StepFail    = "fail"
	StepSkipped = "skipped"
)

// Run statuses and outcomes.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"

	OutcomeResized    = "resized"
	OutcomeUnchanged  = "unchanged"
	OutcomeRejected   = "rejected"
	OutcomeRolledBack = "rolled_back"
	OutcomeIncomplete = "incomplete"
	OutcomeAborted    = "aborted"
	OutcomeRestored   = "restored"
)

// RunStep captures a single orchestration step.
type RunStep struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"` // pending/running/success/fail/skipped
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Run represents one resize of a gateway pair.
type Run struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Gateway    string    `gorm:"index;size:128" json:"gateway"`
	HAGateway  string    `gorm:"size:128" json:"haGateway"`
	FromSize   string    `gorm:"size:64" json:"fromSize,omitempty"`
	ToSize     string    `gorm:"size:64" json:"toSize"`
	Status     string    `gorm:"size:32" json:"status"`
	Outcome    string    `gorm:"size:32" json:"outcome,omitempty"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	Steps      []RunStep `gorm:"serializer:json" json:"steps"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// SetStep updates the named step in place, appending it when absent.
func (r *Run) SetStep(name, status, message string) RunStep {
	step := RunStep{Name: name, Status: status, Message: message, Timestamp: time.Now().UTC()}
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			r.Steps[i] = step
			return step
		}
	}
	r.Steps = append(r.Steps, step)
	return step
}

// Step returns the named step.
func (r *Run) Step(name string) (RunStep, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return RunStep{}, false
}
