package stores

import (
	"context"
	"fmt"

	"github.com/openfroyo/durastep/pkg/engine"
)

// Store is the persistence layer used by the runtime: the aggregate event
// log, workflow snapshots with their history, and the audit trail.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	engine.EventLog
	engine.InstanceStore
	engine.Auditor

	ListAuditEntries(ctx context.Context, action string, limit, offset int) ([]*engine.AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

// Kind selects a Store implementation.
type Kind string

const (
	KindSQLite Kind = "sqlite"
	KindMemory Kind = "memory"
)

// Open builds, initializes and migrates a store of the given kind.
func Open(ctx context.Context, kind Kind, cfg Config) (Store, error) {
	var store Store
	switch kind {
	case KindMemory:
		store = NewMemoryStore()
	case KindSQLite, "":
		s, err := NewSQLiteStore(cfg)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("unknown storage kind: %s", kind)
	}

	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func errInstanceNotFound(workflow, instanceID string) error {
	return engine.NewPermanentError(fmt.Sprintf("workflow instance not found: %s/%s", workflow, instanceID), nil).
		WithCode(engine.ErrCodeNotFound).
		WithResource(instanceID)
}

func errInstanceExists(workflow, instanceID string) error {
	return engine.NewConflictError(fmt.Sprintf("workflow instance already exists: %s/%s", workflow, instanceID), nil).
		WithCode(engine.ErrCodeAlreadyExists).
		WithResource(instanceID)
}

func errVersionConflict(workflow, instanceID string, expected int64) error {
	return engine.NewConflictError(fmt.Sprintf("workflow instance %s/%s changed since version %d", workflow, instanceID, expected), nil).
		WithResource(instanceID).
		WithDetail("expected_version", expected)
}

func errSeqConflict(aggregateType, aggregateID string, seq int64) error {
	return engine.NewConflictError(fmt.Sprintf("event seq %d already written for %s/%s", seq, aggregateType, aggregateID), nil).
		WithResource(aggregateID).
		WithDetail("seq", seq)
}
