package washing

import (
	"time"

	"github.com/openfroyo/durastep/pkg/engine"
)

// Settings controls the simulated cycle. Delays and FailureRate are read at
// every step; the timeouts are fixed when the Service is created.
type Settings struct {
	FillDelay  time.Duration
	WashDelay  time.Duration
	RinseDelay time.Duration
	SpinDelay  time.Duration

	// FailureRate is the probability in [0,1] that a step fails when the
	// default fault injector is used.
	FailureRate float64

	StepTimeout  time.Duration
	CycleTimeout time.Duration
}

// DefaultSettings returns the stock cycle: 1s fill, 2s wash, 1.5s rinse,
// 1s spin, 1 minute per step and 2 minutes overall.
func DefaultSettings() Settings {
	return Settings{
		FillDelay:    time.Second,
		WashDelay:    2 * time.Second,
		RinseDelay:   1500 * time.Millisecond,
		SpinDelay:    time.Second,
		StepTimeout:  time.Minute,
		CycleTimeout: 2 * time.Minute,
	}
}

// Validate checks the settings for negative or out of range values.
func (s Settings) Validate() error {
	for _, d := range []time.Duration{s.FillDelay, s.WashDelay, s.RinseDelay, s.SpinDelay} {
		if d < 0 {
			return engine.NewValidationError("step delays must not be negative")
		}
	}
	if s.FailureRate < 0 || s.FailureRate > 1 {
		return engine.NewValidationError("failure rate must be between 0 and 1")
	}
	if s.StepTimeout <= 0 || s.CycleTimeout <= 0 {
		return engine.NewValidationError("timeouts must be positive")
	}
	return nil
}

func (s Settings) delay(step string) time.Duration {
	switch step {
	case StepFillWater:
		return s.FillDelay
	case StepWashing:
		return s.WashDelay
	case StepRinsing:
		return s.RinseDelay
	case StepSpinning:
		return s.SpinDelay
	}
	return 0
}
