package statemachine

import (
	"context"
)

// State is a node of the machine.
type State interface {
	Name() string
}

// Event triggers transitions.
type Event interface {
	Name() string
}

// Action runs side effects of a transition. Returning an error aborts it and
// leaves the machine in its previous state.
type Action func(ctx context.Context, from, to State, event Event, data any) error

// Guard decides at fire time whether a transition applies.
type Guard func(ctx context.Context, from State, event Event, data any) bool

// Transition is a single entry of a Table.
type Transition struct {
	From    State
	To      State
	Event   Event
	Guards  []Guard  // all must pass
	Actions []Action // run in order before the state changes
}

// StateMachine tracks one current state against a Table.
type StateMachine interface {
	Current() State
	Fire(ctx context.Context, event Event, data any) error
	CanFire(ctx context.Context, event Event, data any) bool
}

// StringState is a State backed by a string.
type StringState string

func (s StringState) Name() string {
	return string(s)
}

// StringEvent is an Event backed by a string.
type StringEvent string

func (e StringEvent) Name() string {
	return string(e)
}
