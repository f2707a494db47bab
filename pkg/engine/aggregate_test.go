package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
)

type counterState struct {
	ID    string `json:"id"`
	Total int    `json:"total"`
	Count int    `json:"count"`
}

type counterEvent struct {
	By int `json:"by"`
}

type counterModel struct{}

func (counterModel) AggregateType() string             { return "counter" }
func (counterModel) EmptyState(id string) counterState { return counterState{ID: id} }
func (counterModel) EventType(counterEvent) string     { return "incremented" }

func (counterModel) Apply(s counterState, e counterEvent) counterState {
	s.Total += e.By
	s.Count++
	return s
}

func (counterModel) EncodeEvent(e counterEvent) ([]byte, error) {
	return json.Marshal(e)
}

func (counterModel) DecodeEvent(eventType string, payload []byte) (counterEvent, error) {
	var e counterEvent
	if eventType != "incremented" {
		return e, fmt.Errorf("unknown event type %s", eventType)
	}
	err := json.Unmarshal(payload, &e)
	return e, err
}

func increment(by ...int) Decide[counterState, counterEvent] {
	return func(counterState) ([]counterEvent, error) {
		events := make([]counterEvent, 0, len(by))
		for _, b := range by {
			events = append(events, counterEvent{By: b})
		}
		return events, nil
	}
}

// memLog is an EventLog with the same sequence rules as the real stores.
type memLog struct {
	mu        sync.Mutex
	records   map[string][]EventRecord
	appendErr error
}

func newMemLog() *memLog {
	return &memLog{records: make(map[string][]EventRecord)}
}

func (l *memLog) LoadEvents(_ context.Context, aggregateType, aggregateID string, afterSeq int64) ([]EventRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []EventRecord
	for _, r := range l.records[aggregateType+"/"+aggregateID] {
		if r.Seq > afterSeq {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *memLog) AppendEvents(_ context.Context, records []EventRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.appendErr != nil {
		return l.appendErr
	}
	for _, r := range records {
		key := r.AggregateType + "/" + r.AggregateID
		if int64(len(l.records[key]))+1 != r.Seq {
			return NewConflictError("sequence taken", nil)
		}
		l.records[key] = append(l.records[key], r)
	}
	return nil
}

type recordingObserver struct {
	mu       sync.Mutex
	accepted []string
	rejected []string
	appended int
}

func (o *recordingObserver) CommandHandled(_, command, code string, rejected bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if rejected {
		o.rejected = append(o.rejected, command+":"+code)
		return
	}
	o.accepted = append(o.accepted, command)
}

func (o *recordingObserver) EventAppended(string, string) {
	o.mu.Lock()
	o.appended++
	o.mu.Unlock()
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *recordingAuditor) CreateAuditEntry(_ context.Context, e *AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *e)
	return nil
}

func TestHandleAppendsAndApplies(t *testing.T) {
	ctx := context.Background()
	log := newMemLog()
	obs := &recordingObserver{}
	audit := &recordingAuditor{}
	agg := NewEventSourced[counterState, counterEvent](counterModel{}, log, AggregateOptions{Observer: obs, Auditor: audit})

	state, err := agg.Handle(ctx, "c1", "add", increment(2, 3))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if state.Total != 5 || state.Count != 2 {
		t.Errorf("unexpected state %+v", state)
	}

	state, err = agg.Handle(ctx, "c1", "add", increment(10))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if state.Total != 15 || state.Count != 3 {
		t.Errorf("unexpected state %+v", state)
	}

	records, _ := log.LoadEvents(ctx, "counter", "c1", 0)
	for i, r := range records {
		if r.Seq != int64(i+1) {
			t.Errorf("record %d has seq %d", i, r.Seq)
		}
		if r.ID == "" {
			t.Errorf("record %d has no id", i)
		}
	}
	if obs.appended != 3 || len(obs.accepted) != 2 {
		t.Errorf("unexpected observer state %+v", obs)
	}
	if len(audit.entries) != 2 || audit.entries[0].Action != "counter.add" || audit.entries[0].Result != "accepted" {
		t.Errorf("unexpected audit entries %+v", audit.entries)
	}
}

func TestHandleRejectionWritesNothing(t *testing.T) {
	ctx := context.Background()
	log := newMemLog()
	obs := &recordingObserver{}
	agg := NewEventSourced[counterState, counterEvent](counterModel{}, log, AggregateOptions{Observer: obs})

	rejection := NewValidationError("nope")
	_, err := agg.Handle(ctx, "c1", "add", func(counterState) ([]counterEvent, error) {
		return nil, rejection
	})
	if !errors.Is(err, rejection) {
		t.Fatalf("expected rejection, got %v", err)
	}

	records, _ := log.LoadEvents(ctx, "counter", "c1", 0)
	if len(records) != 0 {
		t.Errorf("expected no events, got %d", len(records))
	}
	if len(obs.rejected) != 1 || obs.rejected[0] != "add:"+ErrCodeValidation {
		t.Errorf("unexpected rejections %v", obs.rejected)
	}
}

func TestReplayMatchesLiveState(t *testing.T) {
	ctx := context.Background()
	log := newMemLog()
	agg := NewEventSourced[counterState, counterEvent](counterModel{}, log, AggregateOptions{})

	var live counterState
	for i := 1; i <= 5; i++ {
		var err error
		if live, err = agg.Handle(ctx, "c1", "add", increment(i)); err != nil {
			t.Fatal(err)
		}
	}

	fresh := NewEventSourced[counterState, counterEvent](counterModel{}, log, AggregateOptions{})
	replayed, err := fresh.Replay(ctx, "c1")
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if replayed != live {
		t.Errorf("replayed %+v, live %+v", replayed, live)
	}
}

func TestGetUnknownIdentityIsNotCached(t *testing.T) {
	ctx := context.Background()
	agg := NewEventSourced[counterState, counterEvent](counterModel{}, newMemLog(), AggregateOptions{})

	for i := 0; i < 100; i++ {
		state, err := agg.Get(ctx, fmt.Sprintf("ghost-%d", i))
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if state.Count != 0 {
			t.Fatalf("expected empty state, got %+v", state)
		}
	}
	if n := len(agg.replicas); n != 0 {
		t.Errorf("expected no cached replicas for unknown ids, got %d", n)
	}

	if _, err := agg.Handle(ctx, "c1", "add", increment(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := agg.Get(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if n := len(agg.replicas); n != 1 {
		t.Errorf("expected one cached replica, got %d", n)
	}
}

func TestHandleCatchesUpWithOtherWriters(t *testing.T) {
	ctx := context.Background()
	log := newMemLog()
	a := NewEventSourced[counterState, counterEvent](counterModel{}, log, AggregateOptions{})
	b := NewEventSourced[counterState, counterEvent](counterModel{}, log, AggregateOptions{})

	if _, err := a.Handle(ctx, "c1", "add", increment(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Handle(ctx, "c1", "add", increment(2)); err != nil {
		t.Fatal(err)
	}

	// a holds a stale replica at seq 1 and must fold event 2 before deciding.
	state, err := a.Handle(ctx, "c1", "add", increment(4))
	if err != nil {
		t.Fatalf("Handle on stale replica failed: %v", err)
	}
	if state.Total != 7 || state.Count != 3 {
		t.Errorf("unexpected state %+v", state)
	}
}

func TestHandleDuplicateSequenceIsConflict(t *testing.T) {
	ctx := context.Background()
	log := newMemLog()
	agg := NewEventSourced[counterState, counterEvent](counterModel{}, log, AggregateOptions{})

	if _, err := agg.Handle(ctx, "c1", "add", increment(1)); err != nil {
		t.Fatal(err)
	}

	log.appendErr = NewConflictError("sequence taken", nil)
	_, err := agg.Handle(ctx, "c1", "add", increment(1))
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	log.appendErr = nil
	state, err := agg.Get(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if state.Count != 1 {
		t.Errorf("failed append leaked into state: %+v", state)
	}
}

func TestReplayDetectsGap(t *testing.T) {
	ctx := context.Background()
	log := newMemLog()
	payload, _ := json.Marshal(counterEvent{By: 1})
	log.records["counter/c1"] = []EventRecord{
		{AggregateType: "counter", AggregateID: "c1", Seq: 1, Type: "incremented", Payload: payload},
		{AggregateType: "counter", AggregateID: "c1", Seq: 3, Type: "incremented", Payload: payload},
	}

	agg := NewEventSourced[counterState, counterEvent](counterModel{}, log, AggregateOptions{})
	if _, err := agg.Replay(ctx, "c1"); err == nil {
		t.Fatal("expected gap error")
	}
}

func TestHandleSerializesPerIdentity(t *testing.T) {
	ctx := context.Background()
	log := newMemLog()
	agg := NewEventSourced[counterState, counterEvent](counterModel{}, log, AggregateOptions{})

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := agg.Handle(ctx, "c1", "add", increment(1)); err != nil {
				t.Errorf("Handle failed: %v", err)
			}
		}()
	}
	wg.Wait()

	state, err := agg.Replay(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if state.Count != 25 {
		t.Errorf("expected 25 events, got %d", state.Count)
	}
}
