// Package washing runs the washing machine cycle as a durable step workflow:
// fill-water, washing, rinsing and spinning, ending in end or error.
package washing

import (
	"fmt"
	"time"
)

// Status is the externally visible phase of a cycle.
type Status string

const (
	StatusFilling   Status = "FILLING"
	StatusWashing   Status = "WASHING"
	StatusRinsing   Status = "RINSING"
	StatusSpinning  Status = "SPINNING"
	StatusCompleted Status = "COMPLETED"
	StatusError     Status = "ERROR"
)

// IsTerminal reports whether the cycle has finished.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Validate checks if the status is one of the known phases.
func (s Status) Validate() error {
	switch s {
	case StatusFilling, StatusWashing, StatusRinsing, StatusSpinning, StatusCompleted, StatusError:
		return nil
	default:
		return fmt.Errorf("invalid cycle status: %s", s)
	}
}

// CycleState is the persisted state of one washing cycle. Program and
// Temperature never change after the cycle starts.
type CycleState struct {
	CycleID     string    `json:"cycleId"`
	Program     string    `json:"program"`
	Temperature int       `json:"temperature"`
	Status      Status    `json:"status"`
	StartTime   time.Time `json:"startTime"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// StartCommand requests a new cycle.
type StartCommand struct {
	Program     string `json:"program"`
	Temperature int    `json:"temperature"`
}

// Ack acknowledges an accepted start.
type Ack struct {
	Message string `json:"message"`
}
