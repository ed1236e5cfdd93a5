package job

import "encoding/json"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further status changes can follow.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type Kind string

const (
	KindOptimization Kind = "optimization"
	KindSimulation   Kind = "simulation"
)

func (k Kind) Valid() bool {
	return k == KindOptimization || k == KindSimulation
}

// StatusReport is what the job API returns for a status check.
type StatusReport struct {
	Status       Status `json:"status"`
	Progress     int    `json:"progress"`
	CurrentStep  string `json:"currentStep,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Result is the job-defined payload. It is passed through untouched.
type Result = json.RawMessage

type StartRequest struct {
	Type   Kind           `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

type StartResponse struct {
	JobID string `json:"jobId"`
}

type CancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
