package statemachine

import (
	"context"
	"fmt"
)

// Table holds the transitions of a machine. It is read-only once built and
// safe to share between goroutines.
type Table struct {
	// [from][event] -> candidates in registration order
	transitions map[string]map[string][]Transition
}

// Option configures a Table during construction.
type Option func(*Table) error

// TransitionOption attaches guards and actions to a single transition.
type TransitionOption func(*Transition)

// NewTable builds a Table from options.
func NewTable(opts ...Option) (*Table, error) {
	t := &Table{transitions: make(map[string]map[string][]Transition)}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// MustNewTable is NewTable that panics on error. Intended for package-level
// table definitions.
func MustNewTable(opts ...Option) *Table {
	t, err := NewTable(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to build transition table: %v", err))
	}
	return t
}

// WithTransition registers from --event--> to.
func WithTransition(from, to State, event Event, opts ...TransitionOption) Option {
	return func(t *Table) error {
		if from == nil || to == nil || event == nil {
			return ErrInvalidTransition
		}
		tr := Transition{From: from, To: to, Event: event}
		for _, opt := range opts {
			opt(&tr)
		}

		byEvent, ok := t.transitions[from.Name()]
		if !ok {
			byEvent = make(map[string][]Transition)
			t.transitions[from.Name()] = byEvent
		}
		byEvent[event.Name()] = append(byEvent[event.Name()], tr)
		return nil
	}
}

func WithGuard(guard Guard) TransitionOption {
	return func(tr *Transition) {
		if guard != nil {
			tr.Guards = append(tr.Guards, guard)
		}
	}
}

func WithGuards(guards ...Guard) TransitionOption {
	return func(tr *Transition) {
		for _, g := range guards {
			if g != nil {
				tr.Guards = append(tr.Guards, g)
			}
		}
	}
}

func WithAction(action Action) TransitionOption {
	return func(tr *Transition) {
		if action != nil {
			tr.Actions = append(tr.Actions, action)
		}
	}
}

// New starts a machine at initial.
func (t *Table) New(initial State) StateMachine {
	return &Machine{table: t, current: initial}
}

// Allows reports whether event would move a machine currently in from.
func (t *Table) Allows(ctx context.Context, from State, event Event, data any) bool {
	_, err := t.match(ctx, from, event, data)
	return err == nil
}

// match returns the first candidate whose guards all pass.
func (t *Table) match(ctx context.Context, from State, event Event, data any) (*Transition, error) {
	if from == nil {
		return nil, ErrInvalidState
	}
	if event == nil {
		return nil, ErrInvalidEvent
	}

	candidates := t.transitions[from.Name()][event.Name()]
	if len(candidates) == 0 {
		return nil, &ErrNoTransitionAvailable{StateName: from.Name(), EventName: event.Name()}
	}

	for i := range candidates {
		if guardsPass(ctx, &candidates[i], from, event, data) {
			return &candidates[i], nil
		}
	}
	return nil, &ErrTransitionRejected{StateName: from.Name(), EventName: event.Name()}
}

func guardsPass(ctx context.Context, tr *Transition, from State, event Event, data any) bool {
	for _, g := range tr.Guards {
		if !g(ctx, from, event, data) {
			return false
		}
	}
	return true
}
