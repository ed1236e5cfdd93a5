package ws

import (
	"time"

	"github.com/autotrade/tasktracker/internal/tracker"
)

type BaseMessage struct {
	Type string `json:"type"`
}

// Dashboard → Tracker

// CancelMessage asks the tracker to cancel the job it is tracking. JobID, if
// set, must match the active job.
type CancelMessage struct {
	Type  string `json:"type"`
	JobID string `json:"job_id,omitempty"`
}

type HeartbeatMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Tracker → Dashboard

type AckMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

type SnapshotMessage struct {
	Type     string           `json:"type"`
	Snapshot tracker.Snapshot `json:"snapshot"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
