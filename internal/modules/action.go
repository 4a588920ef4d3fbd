package modules

import (
	"context"
	"fmt"

	"github.com/ernie/hlstatsd/internal/domain"
)

// ActionModule counts game-defined actions (defusals, captures, headshot
// streaks, ...) by action code.
type ActionModule struct {
	store Store
}

// NewActionModule creates the action module.
func NewActionModule(store Store) *ActionModule {
	return &ActionModule{store: store}
}

// HandleActionEvent bumps the counter for the event's action code. Events
// without a code are ignored.
func (m *ActionModule) HandleActionEvent(ctx context.Context, ev *domain.GameEvent) error {
	if ev.Action == "" {
		return nil
	}
	if err := m.store.AddAction(ctx, ev.Game, ev.Action, 1); err != nil {
		return fmt.Errorf("recording action %s: %w", ev.Action, err)
	}
	return nil
}
