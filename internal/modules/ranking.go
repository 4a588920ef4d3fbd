package modules

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/ernie/hlstatsd/internal/domain"
)

// RankingModule adjusts skill ratings on kills with an Elo-style transfer:
// beating a higher-rated player is worth more than beating a lower-rated one.
type RankingModule struct {
	store Store
	cache Invalidator
}

// NewRankingModule creates the ranking module.
func NewRankingModule(store Store, cache Invalidator) *RankingModule {
	return &RankingModule{store: store, cache: cache}
}

const ratingK = 16

// HandleKillEvent transfers rating from victim to killer. Kills involving an
// unresolved player or a suicide leave ratings untouched.
func (m *RankingModule) HandleKillEvent(ctx context.Context, ev *domain.GameEvent) error {
	if ev.KillerID == 0 || ev.VictimID == 0 || ev.KillerID == ev.VictimID {
		return nil
	}

	killerSkill, victimSkill, err := m.store.SkillForPlayers(ctx, ev.KillerID, ev.VictimID)
	if err != nil {
		return fmt.Errorf("loading skills for kill %s: %w", ev.ID, err)
	}

	delta := ratingDelta(killerSkill, victimSkill)
	if err := m.store.ApplySkillChange(ctx, ev.KillerID, ev.VictimID, delta, ev.ID); err != nil {
		return fmt.Errorf("applying skill change for kill %s: %w", ev.ID, err)
	}
	m.invalidateLeaderboards(ctx, ev.Game)
	return nil
}

// CompensateKillEvent reverts every rating adjustment recorded for the event.
func (m *RankingModule) CompensateKillEvent(ctx context.Context, ev *domain.GameEvent) error {
	n, err := m.store.RevertSkillChanges(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("reverting skill changes for kill %s: %w", ev.ID, err)
	}
	if n > 0 {
		log.Printf("Ranking module: reverted %d skill changes for event %s", n, ev.ID)
	}
	return nil
}

// ratingDelta computes the points transferred for a kill. Expected win
// probability follows the standard logistic curve over the rating gap.
func ratingDelta(killerSkill, victimSkill int) int {
	expected := 1.0 / (1.0 + math.Pow(10, float64(killerSkill-victimSkill)/400.0))
	delta := int(math.Round(ratingK * expected))
	if delta < 1 {
		delta = 1
	}
	return delta
}

func (m *RankingModule) invalidateLeaderboards(ctx context.Context, game string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.InvalidatePattern(ctx, "leaderboard:"+game+":*"); err != nil {
		log.Printf("Ranking module: leaderboard cache invalidation failed: %v", err)
	}
}
