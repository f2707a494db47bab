package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/openfroyo/durastep/pkg/clock"
	"github.com/openfroyo/durastep/pkg/telemetry"
)

// Model describes an event-sourced aggregate. Apply must be pure: replaying
// the same events from EmptyState always yields the same state.
type Model[S any, E any] interface {
	AggregateType() string
	EmptyState(id string) S
	Apply(state S, event E) S

	EventType(event E) string
	EncodeEvent(event E) ([]byte, error)
	DecodeEvent(eventType string, payload []byte) (E, error)
}

// Decide turns a command into events against the current state. A non-nil
// error rejects the command and nothing is written.
type Decide[S any, E any] func(state S) ([]E, error)

// AggregateOptions configures an EventSourced runtime. Zero values fall back
// to a fresh lock table, the wall clock, and no-op observers.
type AggregateOptions struct {
	Locks    *KeyedMutex
	Clock    clock.Clock
	Observer AggregateObserver
	Auditor  Auditor
	Logger   *telemetry.Logger
}

type replica[S any] struct {
	state S
	seq   int64
}

// EventSourced runs commands against an aggregate whose state lives only in
// its event log. Commands for one identity are serialized; reads never block
// on writers and may observe the last applied replica.
type EventSourced[S any, E any] struct {
	model    Model[S, E]
	log      EventLog
	locks    *KeyedMutex
	clock    clock.Clock
	observer AggregateObserver
	auditor  Auditor
	logger   *telemetry.Logger

	mu       sync.RWMutex
	replicas map[string]replica[S]
}

// NewEventSourced creates a runtime for model backed by log.
func NewEventSourced[S any, E any](model Model[S, E], log EventLog, opts AggregateOptions) *EventSourced[S, E] {
	if opts.Locks == nil {
		opts.Locks = NewKeyedMutex()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.Nop()
	}
	return &EventSourced[S, E]{
		model:    model,
		log:      log,
		locks:    opts.Locks,
		clock:    opts.Clock,
		observer: opts.Observer,
		auditor:  opts.Auditor,
		logger:   opts.Logger.NewComponentLogger("aggregate").WithField("aggregate", model.AggregateType()),
		replicas: make(map[string]replica[S]),
	}
}

// Handle runs one command for id: it takes the identity lock, brings the
// state up to date from the log, calls decide, appends the resulting events
// and applies them. The returned state includes the new events.
func (a *EventSourced[S, E]) Handle(ctx context.Context, id, command string, decide Decide[S, E]) (S, error) {
	aggregate := a.model.AggregateType()
	ctx, span := telemetry.StartSpan(ctx, "aggregate.handle",
		telemetry.AttrAggregate.String(aggregate),
		telemetry.AttrIdentity.String(id),
		telemetry.AttrCommand.String(command),
	)
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	unlock := a.locks.Lock(IdentityKey(aggregate, id))
	defer unlock()

	var current replica[S]
	current, err = a.catchUp(ctx, id)
	if err != nil {
		var zero S
		return zero, err
	}

	var events []E
	events, err = decide(current.state)
	if err != nil {
		a.reject(ctx, id, command, err)
		var zero S
		return zero, err
	}

	if len(events) > 0 {
		records := make([]EventRecord, 0, len(events))
		now := a.clock.Now()
		for i, event := range events {
			payload, encErr := a.model.EncodeEvent(event)
			if encErr != nil {
				err = fmt.Errorf("failed to encode event: %w", encErr)
				var zero S
				return zero, err
			}
			records = append(records, EventRecord{
				ID:            uuid.New().String(),
				AggregateType: aggregate,
				AggregateID:   id,
				Seq:           current.seq + int64(i) + 1,
				Type:          a.model.EventType(event),
				Payload:       payload,
				RecordedAt:    now,
			})
		}

		if err = a.log.AppendEvents(ctx, records); err != nil {
			// The replica may be behind a write made by another process.
			a.forget(id)
			a.reject(ctx, id, command, err)
			var zero S
			return zero, fmt.Errorf("failed to append events: %w", err)
		}

		for _, event := range events {
			current.state = a.model.Apply(current.state, event)
			a.observer.EventAppended(aggregate, a.model.EventType(event))
		}
		current.seq += int64(len(events))
		a.remember(id, current)
	}

	a.observer.CommandHandled(aggregate, command, "", false)
	a.audit(ctx, id, command, "accepted", "")
	a.logger.WithField("aggregate_id", id).WithField("events", len(events)).Debugf("command %s accepted", command)
	return current.state, nil
}

// Get returns the replica state for id, replaying the log when no replica
// is held. The result may lag a concurrent command.
func (a *EventSourced[S, E]) Get(ctx context.Context, id string) (S, error) {
	a.mu.RLock()
	r, ok := a.replicas[id]
	a.mu.RUnlock()
	if ok {
		return r.state, nil
	}
	return a.Replay(ctx, id)
}

// Replay rebuilds the state of id from the full event log. Identities with
// no events are not cached, so reads of unknown ids hold no memory.
func (a *EventSourced[S, E]) Replay(ctx context.Context, id string) (S, error) {
	r, err := a.fold(ctx, id, replica[S]{state: a.model.EmptyState(id)})
	if err != nil {
		var zero S
		return zero, err
	}
	if r.seq > 0 {
		a.remember(id, r)
	}
	return r.state, nil
}

func (a *EventSourced[S, E]) catchUp(ctx context.Context, id string) (replica[S], error) {
	a.mu.RLock()
	r, ok := a.replicas[id]
	a.mu.RUnlock()
	if !ok {
		r = replica[S]{state: a.model.EmptyState(id)}
	}
	return a.fold(ctx, id, r)
}

// fold applies every logged event after from.seq, checking that sequence
// numbers are contiguous.
func (a *EventSourced[S, E]) fold(ctx context.Context, id string, from replica[S]) (replica[S], error) {
	records, err := a.log.LoadEvents(ctx, a.model.AggregateType(), id, from.seq)
	if err != nil {
		return from, fmt.Errorf("failed to load events: %w", err)
	}

	for _, rec := range records {
		if rec.Seq != from.seq+1 {
			return from, NewTransientError(
				fmt.Sprintf("event log gap for %s/%s: expected seq %d, got %d", a.model.AggregateType(), id, from.seq+1, rec.Seq),
				nil,
			).WithResource(id)
		}
		event, err := a.model.DecodeEvent(rec.Type, rec.Payload)
		if err != nil {
			return from, fmt.Errorf("failed to decode event %d: %w", rec.Seq, err)
		}
		from.state = a.model.Apply(from.state, event)
		from.seq = rec.Seq
	}
	return from, nil
}

func (a *EventSourced[S, E]) remember(id string, r replica[S]) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.replicas[id]; ok && existing.seq > r.seq {
		return
	}
	a.replicas[id] = r
}

func (a *EventSourced[S, E]) forget(id string) {
	a.mu.Lock()
	delete(a.replicas, id)
	a.mu.Unlock()
}

func (a *EventSourced[S, E]) reject(ctx context.Context, id, command string, err error) {
	code := CodeOf(err)
	a.observer.CommandHandled(a.model.AggregateType(), command, code, true)
	a.audit(ctx, id, command, "rejected", err.Error())

	logger := a.logger.WithField("aggregate_id", id).WithError(err)
	var ee *EngineError
	if errors.As(err, &ee) && ee.Class != ErrorClassTransient {
		logger.Debugf("command %s rejected", command)
		return
	}
	logger.Warnf("command %s failed", command)
}

func (a *EventSourced[S, E]) audit(ctx context.Context, id, command, result, details string) {
	if a.auditor == nil {
		return
	}
	entry := &AuditEntry{
		Action:    a.model.AggregateType() + "." + command,
		Actor:     "system",
		TargetID:  id,
		Result:    result,
		Details:   details,
		Timestamp: a.clock.Now(),
	}
	if err := a.auditor.CreateAuditEntry(ctx, entry); err != nil {
		a.logger.WithError(err).Warn("failed to write audit entry")
	}
}
