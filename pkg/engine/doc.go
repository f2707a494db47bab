// Package engine is the durable execution runtime behind durastep.
//
// # Event-sourced aggregates
//
// EventSourced runs commands against an aggregate described by a Model. The
// state of an aggregate is never stored; it is rebuilt by folding the
// aggregate's event log through Model.Apply:
//
//	state := model.EmptyState(id)
//	for _, e := range log {
//	    state = model.Apply(state, e)
//	}
//
// Handle serializes commands per identity with a KeyedMutex, catches the
// replica up from the log, asks the Decide callback for events, appends them
// with gap-free sequence numbers, and applies them. A rejected command writes
// nothing. Get serves the in-memory replica and may lag a concurrent
// command; Replay always rebuilds from the log.
//
// # Step workflows
//
// A Definition is a small named graph of Steps. A working step pairs an
// asynchronous Action, which reports an outcome.Outcome, with a Transition
// that maps the outcome to a new state and the next step. A step without an
// Action is terminal and runs Finalize once.
//
// Runner persists an Instance (state, current step, version, deadline) and
// drives it from one goroutine:
//
//	fill-water --Success--> washing --Success--> ... --> completed
//	     |                     |
//	     +------Failure--------+-------------------------> error
//
// If an action does not report within its step timeout the runner delivers
// outcome.Failure("timeout") to the transition. When the instance deadline
// passes the runner moves it to Definition.TimeoutStep regardless of the
// active step. Every transition is committed with an optimistic version
// check before the next action starts, so at most one transition per step is
// durably applied. After a crash Runner.Resume re-invokes the persisted step
// of every non-terminal instance, which is why actions must be idempotent.
//
// # Errors
//
// Rejections are *EngineError values classified as conflict, permanent or
// transient and tagged with a code (VALIDATION_ERROR, NOT_FOUND,
// ALREADY_EXISTS, CONFLICT, TIMEOUT, INTERNAL_ERROR). Packages declare
// sentinels and match them with errors.Is, which compares class and code.
package engine
