package modules

import (
	"context"
	"fmt"

	"github.com/ernie/hlstatsd/internal/domain"
)

// WeaponModule maintains per-weapon aggregates.
type WeaponModule struct {
	store Store
}

// NewWeaponModule creates the weapon module.
func NewWeaponModule(store Store) *WeaponModule {
	return &WeaponModule{store: store}
}

// HandleWeaponEvent processes fire and hit events.
func (m *WeaponModule) HandleWeaponEvent(ctx context.Context, ev *domain.GameEvent) error {
	if ev.Weapon == "" {
		return nil
	}
	switch ev.Type {
	case domain.EventWeaponFire:
		return m.store.AddWeaponFire(ctx, ev.Game, ev.Weapon, 1, 0)
	case domain.EventWeaponHit:
		hits := int64(ev.Hits)
		if hits == 0 {
			hits = 1
		}
		return m.store.AddWeaponFire(ctx, ev.Game, ev.Weapon, 0, hits)
	}
	return nil
}

// HandleKillEvent credits the weapon used for a kill.
func (m *WeaponModule) HandleKillEvent(ctx context.Context, ev *domain.GameEvent) error {
	if ev.Weapon == "" {
		return nil
	}
	if err := m.store.AddWeaponKill(ctx, ev.Game, ev.Weapon, ev.Headshot, 1); err != nil {
		return fmt.Errorf("applying weapon kill for %s: %w", ev.Weapon, err)
	}
	return nil
}

// CompensateKillEvent undoes HandleKillEvent's increment.
func (m *WeaponModule) CompensateKillEvent(ctx context.Context, ev *domain.GameEvent) error {
	if ev.Weapon == "" {
		return nil
	}
	return m.store.AddWeaponKill(ctx, ev.Game, ev.Weapon, ev.Headshot, -1)
}
