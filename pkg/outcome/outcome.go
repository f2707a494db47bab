// Package outcome defines the result a workflow step action reports to its
// transition callback.
//
// An Outcome is a two-variant tagged value: Success or Failure, each carrying
// an opaque message. The engine routes on the Kind only and never interprets
// the message.
package outcome

import (
	"encoding/json"
	"fmt"
)

// Kind is the discriminant of an Outcome.
type Kind string

const (
	// KindSuccess reports that the action finished its work.
	KindSuccess Kind = "success"

	// KindFailure reports that the action failed or did not finish in time.
	KindFailure Kind = "failure"
)

// TimeoutMessage is the message carried by outcomes synthesized when a step
// exceeds its allotted duration.
const TimeoutMessage = "timeout"

// Validate checks if the kind is one of the known variants.
func (k Kind) Validate() error {
	switch k {
	case KindSuccess, KindFailure:
		return nil
	default:
		return fmt.Errorf("invalid outcome kind: %q", k)
	}
}

// Outcome is the only information a step action hands to its transition.
type Outcome struct {
	Kind    Kind   `json:"type"`
	Message string `json:"message"`
}

// Success builds a successful outcome.
func Success(message string) Outcome {
	return Outcome{Kind: KindSuccess, Message: message}
}

// Failure builds a failed outcome.
func Failure(message string) Outcome {
	return Outcome{Kind: KindFailure, Message: message}
}

// Timeout builds the failure synthesized when a step times out.
func Timeout() Outcome {
	return Failure(TimeoutMessage)
}

// IsSuccess reports whether o is a Success.
func (o Outcome) IsSuccess() bool {
	return o.Kind == KindSuccess
}

// IsTimeout reports whether o is a synthesized timeout failure.
func (o Outcome) IsTimeout() bool {
	return o.Kind == KindFailure && o.Message == TimeoutMessage
}

// String implements fmt.Stringer.
func (o Outcome) String() string {
	return fmt.Sprintf("%s(%s)", o.Kind, o.Message)
}

// UnmarshalJSON decodes an outcome and rejects unknown discriminants.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	type wire Outcome
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if err := w.Kind.Validate(); err != nil {
		return err
	}
	*o = Outcome(w)
	return nil
}
