package washing

import "github.com/openfroyo/durastep/pkg/outcome"

// Step names of the washing workflow.
const (
	StepFillWater = "fill-water"
	StepWashing   = "washing"
	StepRinsing   = "rinsing"
	StepSpinning  = "spinning"
	StepEnd       = "end"
	StepError     = "error"
)

type transitionKey struct {
	step string
	kind outcome.Kind
}

// transition is where an outcome leads. An empty status leaves the cycle
// status unchanged.
type transition struct {
	next   string
	status Status
}

var transitions = map[transitionKey]transition{
	{StepFillWater, outcome.KindSuccess}: {StepWashing, StatusWashing},
	{StepWashing, outcome.KindSuccess}:   {StepRinsing, StatusRinsing},
	{StepRinsing, outcome.KindSuccess}:   {StepSpinning, StatusSpinning},
	{StepSpinning, outcome.KindSuccess}:  {StepEnd, StatusCompleted},

	{StepFillWater, outcome.KindFailure}: {StepError, ""},
	{StepWashing, outcome.KindFailure}:   {StepError, ""},
	{StepRinsing, outcome.KindFailure}:   {StepError, ""},
	{StepSpinning, outcome.KindFailure}:  {StepError, ""},
}

// Next looks up the step and status that follow an outcome of step.
// Unknown combinations route to the error step.
func Next(step string, kind outcome.Kind) (string, Status) {
	t, ok := transitions[transitionKey{step, kind}]
	if !ok {
		return StepError, ""
	}
	return t.next, t.status
}
