package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestEngineErrorIs(t *testing.T) {
	sentinel := NewValidationError("bad input")
	decorated := sentinel.Clone().WithMessage("field x is bad").WithResource("r1")
	wrapped := fmt.Errorf("handling command: %w", decorated)

	if !errors.Is(wrapped, sentinel) {
		t.Error("expected wrapped clone to match sentinel")
	}
	if sentinel.Message != "bad input" || sentinel.Resource != "" {
		t.Errorf("sentinel was mutated: %+v", sentinel)
	}
	if errors.Is(wrapped, NewConflictError("x", nil)) {
		t.Error("validation error must not match a conflict")
	}
}

func TestEngineErrorIsMatchesReason(t *testing.T) {
	errHot := NewValidationError("too hot").WithReason("INVALID_TEMPERATURE")
	errBlank := NewValidationError("blank").WithReason("MISSING_PROGRAM")
	generic := NewValidationError("bad input")

	err := fmt.Errorf("start: %w", errHot.Clone().WithResource("m1"))

	if !errors.Is(err, errHot) {
		t.Error("expected match on the same reason")
	}
	if errors.Is(err, errBlank) {
		t.Error("different reasons must not match")
	}
	if !errors.Is(err, generic) {
		t.Error("a target without a reason should match any reason of its code")
	}
	if errors.Is(generic, errHot) {
		t.Error("an error without a reason must not match a reasoned target")
	}
	if !IsValidation(err) || CodeOf(err) != ErrCodeValidation {
		t.Errorf("reason changed the classification: code %q", CodeOf(err))
	}
}

func TestEngineErrorMessage(t *testing.T) {
	cause := errors.New("disk full")
	err := NewTransientError("failed to append events", cause)

	if err.Error() != "failed to append events: disk full" {
		t.Errorf("unexpected Error(): %q", err.Error())
	}
	if MessageOf(fmt.Errorf("outer: %w", err)) != "failed to append events" {
		t.Errorf("unexpected MessageOf: %q", MessageOf(err))
	}
	if !errors.Is(err, cause) {
		t.Error("expected Unwrap to expose the cause")
	}
	if MessageOf(cause) != "disk full" {
		t.Error("MessageOf should fall back to Error() for plain errors")
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		conflict   bool
		permanent  bool
		validation bool
		notFound   bool
		code       string
	}{
		{"conflict", NewConflictError("stale", nil), true, false, false, false, ErrCodeConflict},
		{"validation", NewValidationError("bad"), false, true, true, false, ErrCodeValidation},
		{"not found", NewPermanentError("missing", nil).WithCode(ErrCodeNotFound), false, true, false, true, ErrCodeNotFound},
		{"transient", NewTransientError("io", nil), false, false, false, false, ErrCodeInternal},
		{"plain", errors.New("plain"), false, false, false, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if IsConflict(tt.err) != tt.conflict {
				t.Errorf("IsConflict = %v", !tt.conflict)
			}
			if IsPermanent(tt.err) != tt.permanent {
				t.Errorf("IsPermanent = %v", !tt.permanent)
			}
			if IsValidation(tt.err) != tt.validation {
				t.Errorf("IsValidation = %v", !tt.validation)
			}
			if IsNotFound(tt.err) != tt.notFound {
				t.Errorf("IsNotFound = %v", !tt.notFound)
			}
			if CodeOf(tt.err) != tt.code {
				t.Errorf("CodeOf = %q, want %q", CodeOf(tt.err), tt.code)
			}
		})
	}
}

func TestCloneCopiesDetails(t *testing.T) {
	base := NewValidationError("bad").WithDetail("field", "a")
	c := base.Clone().WithDetail("field", "b")

	if base.Details["field"] != "a" {
		t.Errorf("clone shares details with original: %v", base.Details)
	}
	if c.Details["field"] != "b" {
		t.Errorf("unexpected clone details: %v", c.Details)
	}
}
