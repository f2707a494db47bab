package washing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/durastep/pkg/clock"
	"github.com/openfroyo/durastep/pkg/engine"
	"github.com/openfroyo/durastep/pkg/outcome"
	"github.com/openfroyo/durastep/pkg/telemetry"
)

// WorkflowName identifies washing cycles in the instance store.
const WorkflowName = "washing-machine"

// Options configures a Service. Zero values use DefaultSettings, random
// faults at Settings.FailureRate, and the wall clock.
type Options struct {
	Settings Settings
	Faults   FaultInjector
	Clock    clock.Clock
	Locks    *engine.KeyedMutex
	Observer engine.WorkflowObserver
	Logger   *telemetry.Logger
}

// Service starts washing cycles and reports their status. One cycle exists
// per machine; a machine whose cycle finished stays finished.
type Service struct {
	runner *engine.Runner[CycleState]
	clock  clock.Clock
	faults FaultInjector
	logger *telemetry.Logger

	mu       sync.RWMutex
	settings Settings
}

var validate = validator.New()

// NewService creates a washing service backed by store.
func NewService(store engine.InstanceStore, opts Options) (*Service, error) {
	if opts.Settings == (Settings{}) {
		opts.Settings = DefaultSettings()
	}
	if err := opts.Settings.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.Nop()
	}

	s := &Service{
		clock:    opts.Clock,
		logger:   opts.Logger.NewComponentLogger("washing"),
		settings: opts.Settings,
	}
	s.faults = opts.Faults
	if s.faults == nil {
		s.faults = NewRandomFaults(time.Now().UnixNano(), func() float64 {
			return s.Settings().FailureRate
		})
	}

	runner, err := engine.NewRunner(s.definition(opts.Settings), store, engine.RunnerOptions{
		Locks:    opts.Locks,
		Clock:    opts.Clock,
		Observer: opts.Observer,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create washing runner: %w", err)
	}
	s.runner = runner
	return s, nil
}

func (s *Service) definition(settings Settings) engine.Definition[CycleState] {
	return engine.Definition[CycleState]{
		Name:               WorkflowName,
		Timeout:            settings.CycleTimeout,
		DefaultStepTimeout: settings.StepTimeout,
		TimeoutStep:        StepError,
		Steps: []engine.Step[CycleState]{
			s.workStep(StepFillWater, "Water filled", "Failed to fill water: "),
			s.workStep(StepWashing, "Washing completed", "Washing failed: "),
			s.workStep(StepRinsing, "Rinsing completed", "Rinsing failed: "),
			s.workStep(StepSpinning, "Spinning completed", "Spinning failed: "),
			{Name: StepEnd, Finalize: s.stamp(StatusCompleted)},
			{Name: StepError, Finalize: s.stamp(StatusError)},
		},
	}
}

func (s *Service) workStep(name, done, failPrefix string) engine.Step[CycleState] {
	return engine.Step[CycleState]{
		Name:       name,
		Action:     s.simulate(name, done, failPrefix),
		Transition: s.transition(name),
	}
}

// simulate waits out the configured delay for step and then consults the
// fault injector. It has no external effects and is safe to re-run.
func (s *Service) simulate(step, done, failPrefix string) func(context.Context, CycleState) outcome.Outcome {
	return func(ctx context.Context, state CycleState) outcome.Outcome {
		logger := s.logger.WithField("cycle_id", state.CycleID).WithStep(step)
		if step == StepWashing {
			logger.Infof("washing with program %s at %d°C", state.Program, state.Temperature)
		} else {
			logger.Info("step started")
		}

		select {
		case <-s.clock.After(s.Settings().delay(step)):
		case <-ctx.Done():
			return outcome.Failure(failPrefix + ctx.Err().Error())
		}

		if err := s.faults.Fault(step); err != nil {
			logger.WithError(err).Error("step failed")
			return outcome.Failure(failPrefix + err.Error())
		}
		return outcome.Success(done)
	}
}

func (s *Service) transition(step string) func(CycleState, outcome.Outcome) (CycleState, string) {
	return func(state CycleState, o outcome.Outcome) (CycleState, string) {
		next, status := Next(step, o.Kind)
		if status != "" {
			state.Status = status
			state.LastUpdated = s.clock.Now()
		}
		return state, next
	}
}

func (s *Service) stamp(status Status) func(CycleState) CycleState {
	return func(state CycleState) CycleState {
		if state.Status != status {
			state.Status = status
			state.LastUpdated = s.clock.Now()
		}
		return state
	}
}

// Start validates cmd and begins a cycle on machineID. The returned Ack is
// sent once the cycle is persisted; the steps run asynchronously.
func (s *Service) Start(ctx context.Context, machineID string, cmd StartCommand) (Ack, error) {
	if strings.TrimSpace(machineID) == "" {
		return Ack{}, engine.NewValidationError("machine id is required")
	}

	_, err := s.runner.Start(ctx, machineID, func(existing *CycleState) (CycleState, error) {
		if existing != nil {
			return CycleState{}, ErrAlreadyRunning.Clone().
				WithMessage(fmt.Sprintf("Washing machine is already running. Current status: %s", existing.Status)).
				WithResource(machineID).
				WithDetail("status", string(existing.Status))
		}
		if err := validate.Var(cmd.Temperature, "min=0,max=95"); err != nil {
			return CycleState{}, ErrInvalidTemperature.Clone().WithResource(machineID)
		}
		if strings.TrimSpace(cmd.Program) == "" {
			return CycleState{}, ErrMissingProgram.Clone().WithResource(machineID)
		}

		now := s.clock.Now()
		return CycleState{
			CycleID:     machineID,
			Program:     cmd.Program,
			Temperature: cmd.Temperature,
			Status:      StatusFilling,
			StartTime:   now,
			LastUpdated: now,
		}, nil
	})
	if err != nil {
		s.logger.WithField("cycle_id", machineID).WithError(err).Warn("start rejected")
		return Ack{}, err
	}

	s.logger.WithField("cycle_id", machineID).Infof("cycle started with program %s at %d°C", cmd.Program, cmd.Temperature)
	return Ack{Message: fmt.Sprintf("Washing cycle %s started", machineID)}, nil
}

// Status returns the current cycle state of machineID. It does not wait for
// a running step.
func (s *Service) Status(ctx context.Context, machineID string) (CycleState, error) {
	state, _, err := s.runner.Get(ctx, machineID)
	if engine.IsNotFound(err) {
		return CycleState{}, ErrNoActiveCycle.Clone().WithResource(machineID)
	}
	if err != nil {
		return CycleState{}, err
	}
	return state, nil
}

// History returns the recorded step transitions of machineID.
func (s *Service) History(ctx context.Context, machineID string) ([]*engine.HistoryEntry, error) {
	if _, err := s.Status(ctx, machineID); err != nil {
		return nil, err
	}
	return s.runner.History(ctx, machineID)
}

// Await polls Status every interval until the cycle is terminal or ctx ends.
func (s *Service) Await(ctx context.Context, machineID string, interval time.Duration) (CycleState, error) {
	for {
		state, err := s.Status(ctx, machineID)
		if err != nil {
			return CycleState{}, err
		}
		if state.Status.IsTerminal() {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-s.clock.After(interval):
		}
	}
}

// Resume restarts every cycle left running by a previous process.
func (s *Service) Resume(ctx context.Context) (int, error) {
	return s.runner.Resume(ctx)
}

// Settings returns the current simulation settings.
func (s *Service) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// UpdateSettings replaces the delays and failure rate used by steps that
// start after the call. Timeouts keep the values the Service was created with.
func (s *Service) UpdateSettings(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	settings.StepTimeout = s.settings.StepTimeout
	settings.CycleTimeout = s.settings.CycleTimeout
	s.settings = settings
	s.logger.Info("simulation settings updated")
	return nil
}

// Wait blocks until every running cycle has finished.
func (s *Service) Wait() {
	s.runner.Wait()
}

// Close stops the drivers. Unfinished cycles continue on the next Resume.
func (s *Service) Close() {
	s.runner.Close()
}
