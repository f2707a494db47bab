package washing

import (
	"errors"
	"math/rand"
	"sync"
)

// ErrInjectedFault is the failure reported by RandomFaults.
var ErrInjectedFault = errors.New("simulated hardware fault")

// FaultInjector decides whether a simulated step fails. A nil error lets
// the step succeed.
type FaultInjector interface {
	Fault(step string) error
}

// NoFaults never fails.
type NoFaults struct{}

func (NoFaults) Fault(string) error { return nil }

// RandomFaults fails each step with the probability returned by rate.
type RandomFaults struct {
	mu   sync.Mutex
	rng  *rand.Rand
	rate func() float64
}

// NewRandomFaults creates a RandomFaults seeded with seed. rate is read on
// every call so the probability can change while cycles run.
func NewRandomFaults(seed int64, rate func() float64) *RandomFaults {
	return &RandomFaults{rng: rand.New(rand.NewSource(seed)), rate: rate}
}

func (f *RandomFaults) Fault(string) error {
	p := f.rate()
	if p <= 0 {
		return nil
	}
	f.mu.Lock()
	roll := f.rng.Float64()
	f.mu.Unlock()
	if roll < p {
		return ErrInjectedFault
	}
	return nil
}

// ScriptedFaults fails the named steps with fixed errors and records every
// step it was asked about.
type ScriptedFaults struct {
	mu     sync.Mutex
	faults map[string]error
	calls  []string
}

// NewScriptedFaults creates a ScriptedFaults failing each key of faults.
func NewScriptedFaults(faults map[string]error) *ScriptedFaults {
	return &ScriptedFaults{faults: faults}
}

func (f *ScriptedFaults) Fault(step string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, step)
	return f.faults[step]
}

// Calls returns the steps evaluated so far, in order.
func (f *ScriptedFaults) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
