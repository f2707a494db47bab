package washing

import "github.com/openfroyo/durastep/pkg/engine"

var (
	// ErrAlreadyRunning rejects a start for a machine that already has a cycle.
	ErrAlreadyRunning = engine.NewConflictError("Washing machine is already running", nil).WithCode(engine.ErrCodeAlreadyExists).WithReason("ALREADY_RUNNING")

	// ErrInvalidTemperature rejects temperatures outside 0 to 95°C.
	ErrInvalidTemperature = engine.NewValidationError("Invalid temperature. Must be between 0 and 95°C").WithReason("INVALID_TEMPERATURE").WithDetail("field", "temperature")

	// ErrMissingProgram rejects a blank program.
	ErrMissingProgram = engine.NewValidationError("Program must be specified").WithReason("MISSING_PROGRAM").WithDetail("field", "program")

	// ErrNoActiveCycle is returned by Status for a machine that never started.
	ErrNoActiveCycle = engine.NewPermanentError("No washing cycle in progress", nil).WithCode(engine.ErrCodeNotFound).WithReason("NO_ACTIVE_CYCLE")
)
