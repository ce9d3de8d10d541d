package models

import (
	"fmt"
	"time"
)

// Status enumerates job lifecycle states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus validates a status string supplied by an external caller.
func ParseStatus(v string) (Status, error) {
	switch s := Status(v); s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return s, nil
	}
	return "", fmt.Errorf("unknown status %q", v)
}

// transitions lists the legal outgoing edges of the lifecycle state machine.
// Terminal states have none.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

// ValidTransition reports whether from -> to is a legal move.
func ValidTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job represents one unit of submitted work and its lifecycle state.
type Job struct {
	ID          string         `json:"id"`
	Operation   string         `json:"operation"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Status      Status         `json:"status"`
	Progress    float64        `json:"progress"`
	Message     string         `json:"message,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Result      *Result        `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	WorkerSlot  *int           `json:"worker_slot,omitempty"`

	// Seq is the process-lifetime creation sequence number, used to break
	// created_at ties when ordering listings.
	Seq uint64 `json:"-"`
}

// Result is the success payload recorded when a job completes.
type Result struct {
	OutputPath        string  `json:"output_path,omitempty"`
	StoredAt          string  `json:"stored_at,omitempty"`
	ProcessingSeconds float64 `json:"processing_seconds"`
}
