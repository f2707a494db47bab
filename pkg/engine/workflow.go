package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/durastep/pkg/clock"
	"github.com/openfroyo/durastep/pkg/outcome"
	"github.com/openfroyo/durastep/pkg/telemetry"
)

// Step is one node of a workflow graph. Working steps have an Action and a
// Transition; a step without an Action is terminal and only runs Finalize.
type Step[S any] struct {
	Name string

	// Action performs the step's work. It must be idempotent: after a crash
	// the persisted step is invoked again. The context is cancelled when
	// the step times out, but the action is not required to stop.
	Action func(ctx context.Context, state S) outcome.Outcome

	// Transition maps the outcome to the next state and step name.
	Transition func(state S, o outcome.Outcome) (S, string)

	// Finalize stamps the state when a terminal step is reached.
	Finalize func(state S) S

	// Timeout overrides Definition.DefaultStepTimeout when positive.
	Timeout time.Duration
}

// Terminal reports whether the step ends the workflow.
func (s Step[S]) Terminal() bool {
	return s.Action == nil
}

// Definition is a named workflow graph. Steps[0] is the entry step.
type Definition[S any] struct {
	Name string

	// Timeout bounds the whole instance, measured from its start.
	Timeout time.Duration

	// DefaultStepTimeout applies to steps without their own Timeout.
	DefaultStepTimeout time.Duration

	// TimeoutStep receives instances whose deadline passed. It must be a
	// terminal step; reaching it marks the instance failed.
	TimeoutStep string

	Steps []Step[S]
}

// Validate checks that the graph is well formed.
func (d Definition[S]) Validate() error {
	if d.Name == "" {
		return NewValidationError("workflow name is required")
	}
	if len(d.Steps) == 0 {
		return NewValidationError(fmt.Sprintf("workflow %s has no steps", d.Name))
	}
	if d.Timeout <= 0 || d.DefaultStepTimeout <= 0 {
		return NewValidationError(fmt.Sprintf("workflow %s needs positive timeouts", d.Name))
	}

	seen := make(map[string]Step[S], len(d.Steps))
	for _, step := range d.Steps {
		if step.Name == "" {
			return NewValidationError(fmt.Sprintf("workflow %s has an unnamed step", d.Name))
		}
		if _, dup := seen[step.Name]; dup {
			return NewValidationError(fmt.Sprintf("workflow %s declares step %s twice", d.Name, step.Name))
		}
		if step.Action != nil && step.Transition == nil {
			return NewValidationError(fmt.Sprintf("step %s has an action but no transition", step.Name))
		}
		seen[step.Name] = step
	}

	timeoutStep, ok := seen[d.TimeoutStep]
	if !ok {
		return NewValidationError(fmt.Sprintf("timeout step %q is not declared", d.TimeoutStep))
	}
	if !timeoutStep.Terminal() {
		return NewValidationError(fmt.Sprintf("timeout step %s must be terminal", d.TimeoutStep))
	}
	return nil
}

// RunnerOptions configures a Runner. Zero values fall back to a fresh lock
// table, the wall clock, and no-op observers.
type RunnerOptions struct {
	Locks    *KeyedMutex
	Clock    clock.Clock
	Observer WorkflowObserver
	Logger   *telemetry.Logger
}

// Runner drives instances of one workflow definition. Each running instance
// has a single driver goroutine that waits for one outcome at a time and
// persists every transition before the next action starts.
type Runner[S any] struct {
	def      Definition[S]
	steps    map[string]Step[S]
	store    InstanceStore
	locks    *KeyedMutex
	clock    clock.Clock
	observer WorkflowObserver
	logger   *telemetry.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	drivers map[string]struct{}
}

// NewRunner validates def and creates a runner backed by store.
func NewRunner[S any](def Definition[S], store InstanceStore, opts RunnerOptions) (*Runner[S], error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
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

	steps := make(map[string]Step[S], len(def.Steps))
	for _, step := range def.Steps {
		steps[step.Name] = step
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner[S]{
		def:      def,
		steps:    steps,
		store:    store,
		locks:    opts.Locks,
		clock:    opts.Clock,
		observer: opts.Observer,
		logger:   opts.Logger.NewComponentLogger("runner").WithField("workflow", def.Name),
		ctx:      ctx,
		cancel:   cancel,
		drivers:  make(map[string]struct{}),
	}, nil
}

// Definition returns the workflow definition.
func (r *Runner[S]) Definition() Definition[S] {
	return r.def
}

// Start creates an instance under the identity lock. init receives the
// decoded state of an existing instance (nil when there is none) and returns
// the initial state or a rejection. The instance is positioned at the entry
// step and driven asynchronously; Start returns once it is persisted.
func (r *Runner[S]) Start(ctx context.Context, instanceID string, init func(existing *S) (S, error)) (*Instance, error) {
	ctx, span := telemetry.StartSpan(ctx, "workflow.start",
		telemetry.AttrWorkflow.String(r.def.Name),
		telemetry.AttrInstanceID.String(instanceID),
	)
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	unlock := r.locks.Lock(IdentityKey(r.def.Name, instanceID))
	defer unlock()

	var existing *S
	current, getErr := r.store.GetInstance(ctx, r.def.Name, instanceID)
	switch {
	case getErr == nil:
		var state S
		if err = json.Unmarshal(current.State, &state); err != nil {
			return nil, fmt.Errorf("failed to decode workflow state: %w", err)
		}
		existing = &state
	case IsNotFound(getErr):
	default:
		err = getErr
		return nil, fmt.Errorf("failed to load workflow instance: %w", err)
	}

	var initial S
	initial, err = init(existing)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		err = NewConflictError(fmt.Sprintf("workflow %s already exists for %s", r.def.Name, instanceID), nil).
			WithCode(ErrCodeAlreadyExists).
			WithResource(instanceID)
		return nil, err
	}

	payload, err := json.Marshal(initial)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow state: %w", err)
	}

	now := r.clock.Now()
	first := r.def.Steps[0].Name
	inst := &Instance{
		Workflow:   r.def.Name,
		InstanceID: instanceID,
		Step:       first,
		Status:     InstanceStatusRunning,
		State:      payload,
		Version:    1,
		StartedAt:  now,
		Deadline:   now.Add(r.def.Timeout),
		UpdatedAt:  now,
	}
	entry := r.historyEntry(inst, "", outcome.Outcome{}, first, "")
	entry.Message = "started"

	if err = r.store.CreateInstance(ctx, inst, entry); err != nil {
		return nil, fmt.Errorf("failed to create workflow instance: %w", err)
	}

	r.observer.WorkflowStarted(r.def.Name, instanceID, first)
	r.logger.WithField("instance_id", instanceID).Infof("workflow started at %s", first)

	r.spawn(*inst)
	return inst, nil
}

// Get returns the persisted instance and its decoded state.
func (r *Runner[S]) Get(ctx context.Context, instanceID string) (S, *Instance, error) {
	var state S
	inst, err := r.store.GetInstance(ctx, r.def.Name, instanceID)
	if err != nil {
		return state, nil, err
	}
	if err := json.Unmarshal(inst.State, &state); err != nil {
		return state, nil, fmt.Errorf("failed to decode workflow state: %w", err)
	}
	return state, inst, nil
}

// History returns the recorded transitions of an instance.
func (r *Runner[S]) History(ctx context.Context, instanceID string) ([]*HistoryEntry, error) {
	return r.store.ListHistory(ctx, r.def.Name, instanceID)
}

// Resume starts drivers for every persisted instance that is not terminal.
// Each one re-invokes its persisted current step.
func (r *Runner[S]) Resume(ctx context.Context) (int, error) {
	instances, err := r.store.ListActiveInstances(ctx, r.def.Name)
	if err != nil {
		return 0, fmt.Errorf("failed to list active instances: %w", err)
	}

	resumed := 0
	for _, inst := range instances {
		if r.spawn(*inst) {
			resumed++
			r.logger.WithField("instance_id", inst.InstanceID).Infof("resuming workflow at %s", inst.Step)
		}
	}
	return resumed, nil
}

// Wait blocks until every driver has returned.
func (r *Runner[S]) Wait() {
	r.wg.Wait()
}

// Close stops all drivers and waits for them. Instances stay persisted at
// their current step and continue on the next Resume.
func (r *Runner[S]) Close() {
	r.cancel()
	r.wg.Wait()
}

// spawn starts a driver unless one is already running for the instance.
// The driver owns its copy of inst; the caller's value is never written.
func (r *Runner[S]) spawn(inst Instance) bool {
	id := inst.InstanceID
	r.mu.Lock()
	if _, running := r.drivers[id]; running {
		r.mu.Unlock()
		return false
	}
	r.drivers[id] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	r.observer.DriverActive(r.def.Name, 1)
	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.drivers, id)
			r.mu.Unlock()
			r.observer.DriverActive(r.def.Name, -1)
			r.wg.Done()
		}()
		r.drive(&inst)
	}()
	return true
}

// drive advances one instance until it is terminal, the runner closes, or a
// transition cannot be persisted.
func (r *Runner[S]) drive(inst *Instance) {
	logger := r.logger.WithField("instance_id", inst.InstanceID)

	var state S
	if err := json.Unmarshal(inst.State, &state); err != nil {
		logger.WithError(err).Error("failed to decode workflow state")
		return
	}

	for {
		if inst.Status.IsTerminal() {
			return
		}

		step, ok := r.steps[inst.Step]
		if !ok {
			logger.Errorf("instance positioned at unknown step %q", inst.Step)
			return
		}

		if step.Terminal() {
			if step.Finalize != nil {
				state = step.Finalize(state)
			}
			status := InstanceStatusCompleted
			if step.Name == r.def.TimeoutStep {
				status = InstanceStatusFailed
			}
			entry := r.historyEntry(inst, step.Name, outcome.Outcome{}, "", "")
			entry.Message = "finalized"
			if err := r.commit(inst, state, step.Name, status, entry); err != nil {
				logger.WithError(err).Error("failed to finalize workflow")
				return
			}
			r.observer.WorkflowFinished(r.def.Name, inst.InstanceID, step.Name, status == InstanceStatusFailed)
			logger.Infof("workflow finished at %s", step.Name)
			return
		}

		remaining := inst.Deadline.Sub(r.clock.Now())
		if remaining <= 0 {
			if !r.expire(inst, state, step.Name, logger) {
				return
			}
			continue
		}

		o, timedOut, expired, started, stopped := r.invoke(step, state, remaining)
		if stopped {
			logger.Debug("runner closed, leaving instance for resume")
			return
		}
		if expired {
			if !r.expire(inst, state, step.Name, logger) {
				return
			}
			continue
		}

		next, nextName := step.Transition(state, o)
		if _, known := r.steps[nextName]; !known {
			logger.Errorf("step %s transitioned to unknown step %q, routing to %s", step.Name, nextName, r.def.TimeoutStep)
			nextName = r.def.TimeoutStep
		}

		code := ""
		if timedOut {
			code = ErrCodeTimeout
		}
		entry := r.historyEntry(inst, step.Name, o, nextName, code)
		if err := r.commit(inst, next, nextName, InstanceStatusRunning, entry); err != nil {
			logger.WithError(err).Error("failed to persist transition")
			return
		}
		state = next

		duration := r.clock.Now().Sub(started)
		r.observer.StepFinished(r.def.Name, inst.InstanceID, step.Name, o, nextName, timedOut, duration)
		logger.WithStep(step.Name).WithField("outcome", o.String()).Debugf("transition to %s", nextName)
	}
}

// invoke runs the step action and waits for its outcome, the step timeout,
// the workflow deadline, or runner shutdown, whichever comes first.
func (r *Runner[S]) invoke(step Step[S], state S, remaining time.Duration) (o outcome.Outcome, timedOut, expired bool, started time.Time, stopped bool) {
	stepTimeout := step.Timeout
	if stepTimeout <= 0 {
		stepTimeout = r.def.DefaultStepTimeout
	}
	wait := stepTimeout
	if remaining < wait {
		wait = remaining
	}

	ctx, span := telemetry.StartSpan(r.ctx, "workflow.step",
		telemetry.AttrWorkflow.String(r.def.Name),
		telemetry.AttrStep.String(step.Name),
	)
	defer span.End()

	actionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	started = r.clock.Now()
	results := make(chan outcome.Outcome, 1)
	go func() {
		results <- step.Action(actionCtx, state)
	}()

	select {
	case o = <-results:
	case <-r.clock.After(wait):
		if wait < stepTimeout {
			span.AddEvent("workflow deadline reached")
			return o, false, true, started, false
		}
		o = outcome.Timeout()
		timedOut = true
	case <-r.ctx.Done():
		return o, false, false, started, true
	}

	span.SetAttributes(telemetry.AttrOutcome.String(o.String()))
	return o, timedOut, false, started, false
}

// expire routes the instance to the timeout step without touching state.
func (r *Runner[S]) expire(inst *Instance, state S, from string, logger *telemetry.Logger) bool {
	entry := r.historyEntry(inst, from, outcome.Timeout(), r.def.TimeoutStep, ErrCodeTimeout)
	entry.Message = "workflow deadline exceeded"
	if err := r.commit(inst, state, r.def.TimeoutStep, InstanceStatusRunning, entry); err != nil {
		logger.WithError(err).Error("failed to persist workflow timeout")
		return false
	}
	r.observer.WorkflowTimedOut(r.def.Name, inst.InstanceID, from)
	logger.Warnf("workflow deadline exceeded at %s", from)
	return true
}

// commit persists a transition under the identity lock with an optimistic
// version check.
func (r *Runner[S]) commit(inst *Instance, state S, step string, status InstanceStatus, entry *HistoryEntry) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode workflow state: %w", err)
	}

	unlock := r.locks.Lock(IdentityKey(r.def.Name, inst.InstanceID))
	defer unlock()

	next := *inst
	next.Step = step
	next.Status = status
	next.State = payload
	next.UpdatedAt = r.clock.Now()

	entry.Version = inst.Version + 1
	if err := r.store.UpdateInstance(context.Background(), &next, inst.Version, entry); err != nil {
		return err
	}
	*inst = next
	return nil
}

func (r *Runner[S]) historyEntry(inst *Instance, step string, o outcome.Outcome, next, code string) *HistoryEntry {
	return &HistoryEntry{
		ID:         uuid.New().String(),
		Workflow:   r.def.Name,
		InstanceID: inst.InstanceID,
		Version:    inst.Version,
		Step:       step,
		Outcome:    o.Kind,
		Message:    o.Message,
		NextStep:   next,
		Code:       code,
		RecordedAt: r.clock.Now(),
	}
}
