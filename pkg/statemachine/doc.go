// Package statemachine implements finite-state machines over a shared,
// immutable transition table.
//
// A Table is built once with functional options and describes every
// permitted move: from-state, event, target state, optional Guards that must
// all pass, and Actions run before the state changes. Many Machines can be
// started from the same Table, each tracking its own current state. This fits
// records that are loaded, advanced by one event and saved again.
//
//	const (
//	    Open   = statemachine.StringState("open")
//	    Closed = statemachine.StringState("closed")
//	    Close  = statemachine.StringEvent("close")
//	)
//
//	table := statemachine.MustNewTable(
//	    statemachine.WithTransition(Open, Closed, Close),
//	)
//	m := table.New(Open)
//	err := m.Fire(ctx, Close, nil)
//
// When several transitions share a from-state and event, the first one whose
// guards pass wins, so guarded branches are registered before the fallback.
//
// Fire returns *ErrNoTransitionAvailable when nothing is registered for the
// state and event, and *ErrTransitionRejected when guards refused every
// candidate. IsRefused matches both.
package statemachine
