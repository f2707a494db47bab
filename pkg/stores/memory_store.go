package stores

import (
	"context"
	"sort"
	"sync"

	"github.com/openfroyo/durastep/pkg/engine"
)

// MemoryStore implements Store with mutex-guarded maps. Nothing survives the
// process; it backs tests and the memory storage mode.
type MemoryStore struct {
	mu        sync.RWMutex
	events    map[string][]engine.EventRecord
	instances map[string]*engine.Instance
	history   map[string][]*engine.HistoryEntry
	audit     []*engine.AuditEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:    make(map[string][]engine.EventRecord),
		instances: make(map[string]*engine.Instance),
		history:   make(map[string][]*engine.HistoryEntry),
	}
}

func memKey(a, b string) string {
	return a + "\x00" + b
}

// Init is a no-op.
func (m *MemoryStore) Init(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// Migrate is a no-op.
func (m *MemoryStore) Migrate(context.Context) error { return nil }

// HealthCheck always succeeds.
func (m *MemoryStore) HealthCheck(context.Context) error { return nil }

// LoadEvents returns the events of one aggregate after afterSeq.
func (m *MemoryStore) LoadEvents(_ context.Context, aggregateType, aggregateID string, afterSeq int64) ([]engine.EventRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.events[memKey(aggregateType, aggregateID)]
	records := []engine.EventRecord{}
	for _, rec := range log {
		if rec.Seq > afterSeq {
			rec.Payload = append([]byte(nil), rec.Payload...)
			records = append(records, rec)
		}
	}
	return records, nil
}

// AppendEvents writes records atomically.
func (m *MemoryStore) AppendEvents(_ context.Context, records []engine.EventRecord) error {
	if len(records) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := memKey(records[0].AggregateType, records[0].AggregateID)
	tail := int64(len(m.events[key]))
	for i, rec := range records {
		if rec.Seq != tail+int64(i)+1 {
			return errSeqConflict(rec.AggregateType, rec.AggregateID, rec.Seq)
		}
	}
	for _, rec := range records {
		rec.Payload = append([]byte(nil), rec.Payload...)
		m.events[key] = append(m.events[key], rec)
	}
	return nil
}

// CreateInstance stores a new workflow instance with its first history entry.
func (m *MemoryStore) CreateInstance(_ context.Context, inst *engine.Instance, entry *engine.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memKey(inst.Workflow, inst.InstanceID)
	if _, exists := m.instances[key]; exists {
		return errInstanceExists(inst.Workflow, inst.InstanceID)
	}
	m.instances[key] = cloneInstance(inst)
	if entry != nil {
		e := *entry
		m.history[key] = append(m.history[key], &e)
	}
	return nil
}

// GetInstance retrieves a workflow instance.
func (m *MemoryStore) GetInstance(_ context.Context, workflow, instanceID string) (*engine.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[memKey(workflow, instanceID)]
	if !ok {
		return nil, errInstanceNotFound(workflow, instanceID)
	}
	return cloneInstance(inst), nil
}

// UpdateInstance replaces a snapshot guarded by its version.
func (m *MemoryStore) UpdateInstance(_ context.Context, inst *engine.Instance, expectedVersion int64, entry *engine.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memKey(inst.Workflow, inst.InstanceID)
	current, ok := m.instances[key]
	if !ok {
		return errInstanceNotFound(inst.Workflow, inst.InstanceID)
	}
	if current.Version != expectedVersion {
		return errVersionConflict(inst.Workflow, inst.InstanceID, expectedVersion)
	}

	inst.Version = expectedVersion + 1
	m.instances[key] = cloneInstance(inst)
	if entry != nil {
		e := *entry
		m.history[key] = append(m.history[key], &e)
	}
	return nil
}

// ListActiveInstances returns running instances of a workflow.
func (m *MemoryStore) ListActiveInstances(_ context.Context, workflow string) ([]*engine.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	instances := []*engine.Instance{}
	for _, inst := range m.instances {
		if inst.Workflow == workflow && inst.Status == engine.InstanceStatusRunning {
			instances = append(instances, cloneInstance(inst))
		}
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].StartedAt.Before(instances[j].StartedAt)
	})
	return instances, nil
}

// ListHistory returns the transitions of an instance.
func (m *MemoryStore) ListHistory(_ context.Context, workflow, instanceID string) ([]*engine.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := []*engine.HistoryEntry{}
	for _, e := range m.history[memKey(workflow, instanceID)] {
		c := *e
		entries = append(entries, &c)
	}
	return entries, nil
}

// CreateAuditEntry appends an audit entry.
func (m *MemoryStore) CreateAuditEntry(_ context.Context, entry *engine.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.ID = int64(len(m.audit) + 1)
	e := *entry
	m.audit = append(m.audit, &e)
	return nil
}

// ListAuditEntries lists audit entries, newest first.
func (m *MemoryStore) ListAuditEntries(_ context.Context, action string, limit, offset int) ([]*engine.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := []*engine.AuditEntry{}
	for i := len(m.audit) - 1; i >= 0; i-- {
		if action != "" && m.audit[i].Action != action {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		if limit > 0 && len(entries) >= limit {
			break
		}
		e := *m.audit[i]
		entries = append(entries, &e)
	}
	return entries, nil
}

func cloneInstance(inst *engine.Instance) *engine.Instance {
	c := *inst
	c.State = append([]byte(nil), inst.State...)
	return &c
}
