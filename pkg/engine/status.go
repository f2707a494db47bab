package engine

import "fmt"

// InstanceStatus is the lifecycle of a persisted workflow instance.
type InstanceStatus string

const (
	// InstanceStatusRunning indicates the instance has not reached a terminal step.
	InstanceStatusRunning InstanceStatus = "running"

	// InstanceStatusCompleted indicates the instance finished in a success terminal.
	InstanceStatusCompleted InstanceStatus = "completed"

	// InstanceStatusFailed indicates the instance finished in the failure step.
	InstanceStatusFailed InstanceStatus = "failed"
)

// IsTerminal returns true if the status represents a final state.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed
}

// Validate checks if the status is valid.
func (s InstanceStatus) Validate() error {
	switch s {
	case InstanceStatusRunning, InstanceStatusCompleted, InstanceStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid instance status: %s", s)
	}
}
