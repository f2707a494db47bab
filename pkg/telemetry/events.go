package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a lifecycle notification emitted by the workflow runner.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Type is one of the EventType constants.
	Type string `json:"type"`

	// Source identifies the component that emitted the event.
	Source string `json:"source"`

	Workflow   string `json:"workflow,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
	Step       string `json:"step,omitempty"`

	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeWorkflowStarted   = "workflow.started"
	EventTypeStepCompleted     = "step.completed"
	EventTypeStepFailed        = "step.failed"
	EventTypeStepTimeout       = "step.timeout"
	EventTypeWorkflowCompleted = "workflow.completed"
	EventTypeWorkflowFailed    = "workflow.failed"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to in-process subscribers.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.MinLevel != "" {
		ep.AddFilter(FilterByLevel(cfg.MinLevel))
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishWorkflowStarted publishes a workflow.started event.
func (ep *EventPublisher) PublishWorkflowStarted(workflow, instanceID, firstStep string) error {
	return ep.Publish(Event{
		Type:       EventTypeWorkflowStarted,
		Source:     "runner",
		Workflow:   workflow,
		InstanceID: instanceID,
		Step:       firstStep,
		Message:    fmt.Sprintf("Workflow %s started for %s", workflow, instanceID),
		Level:      EventLevelInfo,
	})
}

// PublishStepOutcome publishes step.completed, step.failed or step.timeout
// depending on the outcome.
func (ep *EventPublisher) PublishStepOutcome(workflow, instanceID, step, kind, message, next string, timedOut bool, duration time.Duration) error {
	event := Event{
		Source:     "runner",
		Workflow:   workflow,
		InstanceID: instanceID,
		Step:       step,
		Message:    message,
		Data: map[string]interface{}{
			"outcome":     kind,
			"next_step":   next,
			"duration_ms": duration.Milliseconds(),
		},
	}
	switch {
	case timedOut:
		event.Type = EventTypeStepTimeout
		event.Level = EventLevelWarning
	case kind == "success":
		event.Type = EventTypeStepCompleted
		event.Level = EventLevelInfo
	default:
		event.Type = EventTypeStepFailed
		event.Level = EventLevelWarning
	}
	return ep.Publish(event)
}

// PublishWorkflowFinished publishes workflow.completed, or workflow.failed
// when the instance ended in its failure step.
func (ep *EventPublisher) PublishWorkflowFinished(workflow, instanceID, finalStep string, failed bool) error {
	event := Event{
		Type:       EventTypeWorkflowCompleted,
		Source:     "runner",
		Workflow:   workflow,
		InstanceID: instanceID,
		Step:       finalStep,
		Message:    fmt.Sprintf("Workflow %s for %s finished at %s", workflow, instanceID, finalStep),
		Level:      EventLevelInfo,
	}
	if failed {
		event.Type = EventTypeWorkflowFailed
		event.Level = EventLevelError
	}
	return ep.Publish(event)
}

// Subscribe adds a new event subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, event := range batch {
			ep.deliverEvent(event)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			// Drain whatever is already queued, then deliver.
			for len(batch) < ep.config.MaxBatchSize {
				select {
				case next := <-ep.buffer:
					batch = append(batch, next)
					continue
				default:
				}
				break
			}
			flush()

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// deliverEvent hands the event to every matching subscriber. Subscribers are
// called in order on the delivering goroutine, so each one sees events in
// publish order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown drains the buffer and stops the delivery goroutine.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByInstance creates a filter that only allows events for one workflow instance.
func FilterByInstance(workflow, instanceID string) EventFilter {
	return func(event Event) bool {
		return event.Workflow == workflow && event.InstanceID == instanceID
	}
}
