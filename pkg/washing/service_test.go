package washing_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/durastep/pkg/cart"
	"github.com/openfroyo/durastep/pkg/engine"
	"github.com/openfroyo/durastep/pkg/outcome"
	"github.com/openfroyo/durastep/pkg/stores"
	"github.com/openfroyo/durastep/pkg/washing"
)

func fastSettings() washing.Settings {
	return washing.Settings{
		FillDelay:    5 * time.Millisecond,
		WashDelay:    5 * time.Millisecond,
		RinseDelay:   5 * time.Millisecond,
		SpinDelay:    5 * time.Millisecond,
		StepTimeout:  2 * time.Second,
		CycleTimeout: 5 * time.Second,
	}
}

func newService(t *testing.T, store engine.InstanceStore, settings washing.Settings, faults washing.FaultInjector) *washing.Service {
	t.Helper()
	if faults == nil {
		faults = washing.NoFaults{}
	}
	svc, err := washing.NewService(store, washing.Options{Settings: settings, Faults: faults})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func await(t *testing.T, svc *washing.Service, id string) washing.CycleState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	state, err := svc.Await(ctx, id, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("Await(%s) failed: %v", id, err)
	}
	return state
}

func TestCycleCompletes(t *testing.T) {
	ctx := context.Background()
	store := stores.NewMemoryStore()
	svc := newService(t, store, fastSettings(), nil)

	ack, err := svc.Start(ctx, "m1", washing.StartCommand{Program: "eco", Temperature: 40})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if ack.Message != "Washing cycle m1 started" {
		t.Errorf("unexpected ack: %q", ack.Message)
	}

	state := await(t, svc, "m1")
	if state.Status != washing.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", state.Status)
	}
	if state.Program != "eco" || state.Temperature != 40 || state.CycleID != "m1" {
		t.Errorf("cycle parameters changed: %+v", state)
	}
	if state.LastUpdated.Before(state.StartTime) {
		t.Errorf("lastUpdated %v before startTime %v", state.LastUpdated, state.StartTime)
	}

	history, err := svc.History(ctx, "m1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	wantSteps := []string{"", washing.StepFillWater, washing.StepWashing, washing.StepRinsing, washing.StepSpinning, washing.StepEnd}
	if len(history) != len(wantSteps) {
		t.Fatalf("expected %d history entries, got %d", len(wantSteps), len(history))
	}
	for i, entry := range history {
		if entry.Step != wantSteps[i] {
			t.Errorf("entry %d: expected step %q, got %q", i, wantSteps[i], entry.Step)
		}
		if entry.Version != int64(i+1) {
			t.Errorf("entry %d: expected version %d, got %d", i, i+1, entry.Version)
		}
	}
	if history[2].Message != "Washing completed" || history[2].Outcome != outcome.KindSuccess {
		t.Errorf("unexpected washing entry: %+v", history[2])
	}

	inst, err := store.GetInstance(ctx, washing.WorkflowName, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if inst.Status != engine.InstanceStatusCompleted {
		t.Errorf("expected instance completed, got %s", inst.Status)
	}
}

func TestStepFailureEndsInError(t *testing.T) {
	tests := []struct {
		step    string
		message string
	}{
		{washing.StepFillWater, "Failed to fill water: valve stuck"},
		{washing.StepWashing, "Washing failed: valve stuck"},
		{washing.StepRinsing, "Rinsing failed: valve stuck"},
		{washing.StepSpinning, "Spinning failed: valve stuck"},
	}
	order := []string{washing.StepFillWater, washing.StepWashing, washing.StepRinsing, washing.StepSpinning}

	for i, tt := range tests {
		t.Run(tt.step, func(t *testing.T) {
			ctx := context.Background()
			faults := washing.NewScriptedFaults(map[string]error{
				tt.step: errors.New("valve stuck"),
			})
			svc := newService(t, stores.NewMemoryStore(), fastSettings(), faults)

			if _, err := svc.Start(ctx, "m1", washing.StartCommand{Program: "eco", Temperature: 40}); err != nil {
				t.Fatalf("Start failed: %v", err)
			}

			state := await(t, svc, "m1")
			if state.Status != washing.StatusError {
				t.Fatalf("expected ERROR, got %s", state.Status)
			}

			calls := faults.Calls()
			want := order[:i+1]
			if strings.Join(calls, ",") != strings.Join(want, ",") {
				t.Errorf("expected steps %v to run, got %v", want, calls)
			}

			history, err := svc.History(ctx, "m1")
			if err != nil {
				t.Fatal(err)
			}
			var failed *engine.HistoryEntry
			for _, entry := range history {
				if entry.Step == tt.step {
					failed = entry
				}
				for _, later := range order[i+1:] {
					if entry.Step == later {
						t.Errorf("step %s should not have run", entry.Step)
					}
				}
			}
			if failed == nil {
				t.Fatalf("no history entry for %s", tt.step)
			}
			if failed.Outcome != outcome.KindFailure || failed.Message != tt.message || failed.NextStep != washing.StepError {
				t.Errorf("unexpected %s entry: %+v", tt.step, failed)
			}
			if last := history[len(history)-1]; last.Step != washing.StepError {
				t.Errorf("expected the error step last, got %+v", last)
			}
		})
	}
}

func TestStartValidation(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, stores.NewMemoryStore(), fastSettings(), nil)

	tests := []struct {
		name    string
		cmd     washing.StartCommand
		wantErr error
		wantMsg string
	}{
		{"too hot", washing.StartCommand{Program: "eco", Temperature: 96}, washing.ErrInvalidTemperature, "Invalid temperature. Must be between 0 and 95°C"},
		{"below zero", washing.StartCommand{Program: "eco", Temperature: -1}, washing.ErrInvalidTemperature, "Invalid temperature. Must be between 0 and 95°C"},
		{"blank program", washing.StartCommand{Program: "   ", Temperature: 30}, washing.ErrMissingProgram, "Program must be specified"},
		{"both invalid", washing.StartCommand{Program: "", Temperature: 200}, washing.ErrInvalidTemperature, "Invalid temperature. Must be between 0 and 95°C"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Start(ctx, "m-"+tt.name, tt.cmd)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			for _, other := range []error{washing.ErrInvalidTemperature, washing.ErrMissingProgram, cart.ErrInvalidItem} {
				if other != tt.wantErr && errors.Is(err, other) {
					t.Errorf("%v also matches %v", err, other)
				}
			}
			if !engine.IsValidation(err) {
				t.Errorf("expected a validation error, got code %q", engine.CodeOf(err))
			}
			if engine.MessageOf(err) != tt.wantMsg {
				t.Errorf("expected message %q, got %q", tt.wantMsg, engine.MessageOf(err))
			}
			if _, err := svc.Status(ctx, "m-"+tt.name); !errors.Is(err, washing.ErrNoActiveCycle) {
				t.Errorf("rejected start left a cycle behind: %v", err)
			}
		})
	}

	for _, temp := range []int{0, 95} {
		id := "edge-" + strconv.Itoa(temp)
		if _, err := svc.Start(ctx, id, washing.StartCommand{Program: "eco", Temperature: temp}); err != nil {
			t.Errorf("temperature %d rejected: %v", temp, err)
		}
	}
}

func TestStartWhileRunning(t *testing.T) {
	ctx := context.Background()
	settings := fastSettings()
	settings.FillDelay = time.Hour
	svc := newService(t, stores.NewMemoryStore(), settings, nil)

	if _, err := svc.Start(ctx, "m1", washing.StartCommand{Program: "eco", Temperature: 40}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	_, err := svc.Start(ctx, "m1", washing.StartCommand{Program: "cotton", Temperature: 90})
	if !errors.Is(err, washing.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if want := "Washing machine is already running. Current status: FILLING"; engine.MessageOf(err) != want {
		t.Errorf("expected %q, got %q", want, engine.MessageOf(err))
	}

	// The existing cycle check comes before input validation.
	_, err = svc.Start(ctx, "m1", washing.StartCommand{Program: "", Temperature: 500})
	if !errors.Is(err, washing.ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning for invalid input on a running machine, got %v", err)
	}

	state, err := svc.Status(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if state.Program != "eco" || state.Status != washing.StatusFilling {
		t.Errorf("running cycle was modified: %+v", state)
	}
}

func TestStartAfterCompletionRejected(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, stores.NewMemoryStore(), fastSettings(), nil)

	if _, err := svc.Start(ctx, "m1", washing.StartCommand{Program: "eco", Temperature: 40}); err != nil {
		t.Fatal(err)
	}
	await(t, svc, "m1")

	_, err := svc.Start(ctx, "m1", washing.StartCommand{Program: "eco", Temperature: 40})
	if !errors.Is(err, washing.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if !strings.HasSuffix(engine.MessageOf(err), "Current status: COMPLETED") {
		t.Errorf("unexpected message %q", engine.MessageOf(err))
	}
}

func TestStatusWithoutCycle(t *testing.T) {
	svc := newService(t, stores.NewMemoryStore(), fastSettings(), nil)

	_, err := svc.Status(context.Background(), "ghost")
	if !errors.Is(err, washing.ErrNoActiveCycle) {
		t.Fatalf("expected ErrNoActiveCycle, got %v", err)
	}
	if engine.MessageOf(err) != "No washing cycle in progress" {
		t.Errorf("unexpected message %q", engine.MessageOf(err))
	}
	if !engine.IsNotFound(err) {
		t.Error("expected NOT_FOUND code")
	}
}

func TestStepTimeoutRoutesToError(t *testing.T) {
	ctx := context.Background()
	settings := fastSettings()
	settings.WashDelay = time.Hour
	settings.StepTimeout = 50 * time.Millisecond
	svc := newService(t, stores.NewMemoryStore(), settings, nil)

	if _, err := svc.Start(ctx, "m1", washing.StartCommand{Program: "eco", Temperature: 40}); err != nil {
		t.Fatal(err)
	}
	state := await(t, svc, "m1")
	if state.Status != washing.StatusError {
		t.Fatalf("expected ERROR, got %s", state.Status)
	}

	history, err := svc.History(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, entry := range history {
		if entry.Step == washing.StepWashing {
			found = true
			if entry.Message != outcome.TimeoutMessage || entry.Outcome != outcome.KindFailure {
				t.Errorf("expected Failure(timeout), got %s(%s)", entry.Outcome, entry.Message)
			}
			if entry.Code != engine.ErrCodeTimeout {
				t.Errorf("expected code TIMEOUT, got %q", entry.Code)
			}
		}
	}
	if !found {
		t.Error("no history entry for the timed out step")
	}
}

func TestCycleTimeoutRoutesToError(t *testing.T) {
	ctx := context.Background()
	settings := fastSettings()
	settings.RinseDelay = time.Hour
	settings.CycleTimeout = 100 * time.Millisecond
	svc := newService(t, stores.NewMemoryStore(), settings, nil)

	if _, err := svc.Start(ctx, "m1", washing.StartCommand{Program: "eco", Temperature: 40}); err != nil {
		t.Fatal(err)
	}
	state := await(t, svc, "m1")
	if state.Status != washing.StatusError {
		t.Fatalf("expected ERROR, got %s", state.Status)
	}

	history, err := svc.History(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	var expired *engine.HistoryEntry
	for _, entry := range history {
		if entry.Code == engine.ErrCodeTimeout {
			expired = entry
		}
	}
	if expired == nil {
		t.Fatal("no TIMEOUT entry in history")
	}
	if expired.Step != washing.StepRinsing || expired.NextStep != washing.StepError {
		t.Errorf("expected rinsing to be routed to error, got %+v", expired)
	}
}

func TestResumeContinuesPersistedCycle(t *testing.T) {
	ctx := context.Background()
	store := stores.NewMemoryStore()

	slow := fastSettings()
	slow.WashDelay = time.Hour
	first, err := washing.NewService(store, washing.Options{Settings: slow, Faults: washing.NoFaults{}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := first.Start(ctx, "m1", washing.StartCommand{Program: "eco", Temperature: 40}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		state, err := first.Status(ctx, "m1")
		if err != nil {
			t.Fatal(err)
		}
		if state.Status == washing.StatusWashing {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cycle never reached WASHING, at %s", state.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
	first.Close()

	faults := washing.NewScriptedFaults(nil)
	second := newService(t, store, fastSettings(), faults)
	resumed, err := second.Resume(ctx)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed != 1 {
		t.Fatalf("expected 1 resumed cycle, got %d", resumed)
	}

	state := await(t, second, "m1")
	if state.Status != washing.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", state.Status)
	}
	calls := faults.Calls()
	if len(calls) == 0 || calls[0] != washing.StepWashing {
		t.Errorf("expected resume to re-invoke washing first, got %v", calls)
	}
}

func TestMachinesRunIndependently(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, stores.NewMemoryStore(), fastSettings(), nil)

	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		if _, err := svc.Start(ctx, id, washing.StartCommand{Program: "eco", Temperature: 30}); err != nil {
			t.Fatalf("Start(%s) failed: %v", id, err)
		}
	}
	for _, id := range ids {
		if state := await(t, svc, id); state.Status != washing.StatusCompleted {
			t.Errorf("%s: expected COMPLETED, got %s", id, state.Status)
		}
	}
}

func TestUpdateSettingsKeepsTimeouts(t *testing.T) {
	svc := newService(t, stores.NewMemoryStore(), fastSettings(), nil)

	next := washing.DefaultSettings()
	next.FillDelay = time.Millisecond
	next.StepTimeout = time.Hour
	if err := svc.UpdateSettings(next); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	got := svc.Settings()
	if got.FillDelay != time.Millisecond {
		t.Errorf("expected fill delay 1ms, got %v", got.FillDelay)
	}
	if got.StepTimeout != fastSettings().StepTimeout {
		t.Errorf("step timeout changed to %v", got.StepTimeout)
	}

	next.FailureRate = 3
	if err := svc.UpdateSettings(next); err == nil {
		t.Error("expected error for invalid failure rate")
	}
}

func TestStartRequiresMachineID(t *testing.T) {
	svc := newService(t, stores.NewMemoryStore(), fastSettings(), nil)
	_, err := svc.Start(context.Background(), " ", washing.StartCommand{Program: "eco", Temperature: 30})
	if !engine.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}
