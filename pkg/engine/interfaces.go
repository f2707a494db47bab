package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openfroyo/durastep/pkg/outcome"
)

// EventRecord is one entry of an aggregate's append-only log.
type EventRecord struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Seq           int64           `json:"seq"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	RecordedAt    time.Time       `json:"recorded_at"`
}

// EventLog persists aggregate events.
type EventLog interface {
	// LoadEvents returns the events of one aggregate with Seq > afterSeq in
	// ascending order.
	LoadEvents(ctx context.Context, aggregateType, aggregateID string, afterSeq int64) ([]EventRecord, error)

	// AppendEvents writes records atomically. A record whose sequence
	// number is already taken fails the whole append with a conflict.
	AppendEvents(ctx context.Context, records []EventRecord) error
}

// Instance is the persisted snapshot of one workflow instance.
type Instance struct {
	Workflow   string          `json:"workflow"`
	InstanceID string          `json:"instance_id"`
	Step       string          `json:"step"`
	Status     InstanceStatus  `json:"status"`
	State      json.RawMessage `json:"state"`
	Version    int64           `json:"version"`
	StartedAt  time.Time       `json:"started_at"`
	Deadline   time.Time       `json:"deadline"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// HistoryEntry records one transition of a workflow instance.
type HistoryEntry struct {
	ID         string       `json:"id"`
	Workflow   string       `json:"workflow"`
	InstanceID string       `json:"instance_id"`
	Version    int64        `json:"version"`
	Step       string       `json:"step"`
	Outcome    outcome.Kind `json:"outcome,omitempty"`
	Message    string       `json:"message,omitempty"`
	NextStep   string       `json:"next_step,omitempty"`
	Code       string       `json:"code,omitempty"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// InstanceStore persists workflow snapshots and their transition history.
type InstanceStore interface {
	// CreateInstance stores a new instance at Version 1 together with its
	// first history entry. It fails with ALREADY_EXISTS if one is present.
	CreateInstance(ctx context.Context, inst *Instance, entry *HistoryEntry) error

	// GetInstance fails with NOT_FOUND when the instance does not exist.
	GetInstance(ctx context.Context, workflow, instanceID string) (*Instance, error)

	// UpdateInstance replaces the snapshot if its stored version equals
	// expectedVersion and appends entry in the same transaction. On
	// success inst.Version is expectedVersion+1. A version mismatch is a
	// CONFLICT.
	UpdateInstance(ctx context.Context, inst *Instance, expectedVersion int64, entry *HistoryEntry) error

	// ListActiveInstances returns instances that are not terminal.
	ListActiveInstances(ctx context.Context, workflow string) ([]*Instance, error)

	// ListHistory returns the transitions of an instance in order.
	ListHistory(ctx context.Context, workflow, instanceID string) ([]*HistoryEntry, error)
}

// AuditEntry records a command accepted or rejected by the runtime.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	TargetID  string    `json:"target_id"`
	Result    string    `json:"result"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Auditor receives audit entries. Failures are logged, never surfaced.
type Auditor interface {
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
}

// AggregateObserver is notified of command results.
type AggregateObserver interface {
	CommandHandled(aggregate, command, code string, rejected bool)
	EventAppended(aggregate, eventType string)
}

// WorkflowObserver is notified of workflow lifecycle changes.
type WorkflowObserver interface {
	WorkflowStarted(workflow, instanceID, firstStep string)
	DriverActive(workflow string, delta int)
	StepFinished(workflow, instanceID, step string, o outcome.Outcome, next string, timedOut bool, duration time.Duration)
	WorkflowTimedOut(workflow, instanceID, step string)
	WorkflowFinished(workflow, instanceID, finalStep string, failed bool)
}

type nopObserver struct{}

func (nopObserver) CommandHandled(string, string, string, bool) {}
func (nopObserver) EventAppended(string, string) {}
func (nopObserver) WorkflowStarted(string, string, string) {}
func (nopObserver) DriverActive(string, int) {}
func (nopObserver) WorkflowTimedOut(string, string, string) {}
func (nopObserver) WorkflowFinished(string, string, string, bool) {}
func (nopObserver) StepFinished(string, string, string, outcome.Outcome, string, bool, time.Duration) {}
