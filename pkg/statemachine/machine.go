package statemachine

import (
	"context"
	"fmt"
	"sync"
)

// Machine is a StateMachine bound to a Table. Safe for concurrent use.
type Machine struct {
	table   *Table
	mu      sync.RWMutex
	current State
}

func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Fire applies the first matching transition for event. Actions run before
// the state changes; the first failing action aborts the transition.
func (m *Machine) Fire(ctx context.Context, event Event, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, err := m.table.match(ctx, m.current, event, data)
	if err != nil {
		return err
	}
	for _, action := range tr.Actions {
		if err := action(ctx, m.current, tr.To, event, data); err != nil {
			return fmt.Errorf("action failed: %w", err)
		}
	}
	m.current = tr.To
	return nil
}

func (m *Machine) CanFire(ctx context.Context, event Event, data any) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.table.Allows(ctx, m.current, event, data)
}
