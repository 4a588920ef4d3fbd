package modules

import (
	"context"

	"github.com/ernie/hlstatsd/internal/domain"
	"github.com/ernie/hlstatsd/internal/saga"
)

// killState is the typed per-run state for the kill saga. Steps record what
// they changed so their compensations only undo work that actually happened.
type killState struct {
	playerApplied bool
	weaponApplied bool
	matchApplied  bool
	skillApplied  bool
}

// NewKillSaga builds the compensable kill workflow: player stats, weapon
// stats, match stats, then skill rating, in that order. If a later step fails
// the earlier increments are rolled back so aggregates stay consistent even
// without a cross-module transaction.
func NewKillSaga(player *PlayerModule, weapon *WeaponModule, match *MatchModule, ranking *RankingModule) *saga.Saga {
	return &saga.Saga{
		Name:      "kill",
		EventType: domain.EventPlayerKill,
		NewState:  func(*domain.GameEvent) any { return &killState{} },
		Steps: []saga.Step{
			&killStep{
				name: "player-stats",
				execute: func(ctx context.Context, ec *saga.Execution, st *killState) error {
					if err := player.HandleKillEvent(ctx, ec.Event); err != nil {
						return err
					}
					st.playerApplied = true
					return nil
				},
				compensate: func(ctx context.Context, ec *saga.Execution, st *killState) error {
					if !st.playerApplied {
						return nil
					}
					return player.CompensateKillEvent(ctx, ec.Event)
				},
			},
			&killStep{
				name: "weapon-stats",
				execute: func(ctx context.Context, ec *saga.Execution, st *killState) error {
					if err := weapon.HandleKillEvent(ctx, ec.Event); err != nil {
						return err
					}
					st.weaponApplied = true
					return nil
				},
				compensate: func(ctx context.Context, ec *saga.Execution, st *killState) error {
					if !st.weaponApplied {
						return nil
					}
					return weapon.CompensateKillEvent(ctx, ec.Event)
				},
			},
			&killStep{
				name: "match-stats",
				execute: func(ctx context.Context, ec *saga.Execution, st *killState) error {
					if err := match.HandleKillEvent(ctx, ec.Event); err != nil {
						return err
					}
					st.matchApplied = true
					return nil
				},
				compensate: func(ctx context.Context, ec *saga.Execution, st *killState) error {
					if !st.matchApplied {
						return nil
					}
					return match.CompensateKillEvent(ctx, ec.Event)
				},
			},
			&killStep{
				name: "skill-rating",
				execute: func(ctx context.Context, ec *saga.Execution, st *killState) error {
					if err := ranking.HandleKillEvent(ctx, ec.Event); err != nil {
						return err
					}
					st.skillApplied = true
					return nil
				},
				compensate: func(ctx context.Context, ec *saga.Execution, st *killState) error {
					if !st.skillApplied {
						return nil
					}
					return ranking.CompensateKillEvent(ctx, ec.Event)
				},
			},
		},
	}
}

// killStep adapts typed execute/compensate funcs to the saga.Step interface.
type killStep struct {
	name       string
	execute    func(ctx context.Context, ec *saga.Execution, st *killState) error
	compensate func(ctx context.Context, ec *saga.Execution, st *killState) error
}

func (s *killStep) Name() string { return s.name }

func (s *killStep) Execute(ctx context.Context, ec *saga.Execution) error {
	return s.execute(ctx, ec, ec.State.(*killState))
}

func (s *killStep) Compensate(ctx context.Context, ec *saga.Execution) error {
	return s.compensate(ctx, ec, ec.State.(*killState))
}
