package domain

import "time"

// DefaultSkill is the rating assigned to a newly created player.
const DefaultSkill = 1000

// Player is the durable record for one (game, external id) identity.
type Player struct {
	ID         int64     `json:"id"`
	Game       string    `json:"game"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	Skill      int       `json:"skill"`
	Kills      int64     `json:"kills"`
	Deaths     int64     `json:"deaths"`
	Suicides   int64     `json:"suicides"`
	Headshots  int64     `json:"headshots"`
	Connects   int64     `json:"connects"`
	IsBot      bool      `json:"is_bot"`
	LastSlot   int       `json:"last_slot,omitempty"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// UpsertPlayerParams describes an idempotent player upsert keyed by
// (game, external id).
type UpsertPlayerParams struct {
	Game         string
	ExternalID   string
	Name         string
	InitialSkill int
	IsBot        bool
}

// PlayerIdentityRecord is the last known on-server identity for a player,
// used to synthesize a session when no live one exists.
type PlayerIdentityRecord struct {
	PlayerID   int64
	ExternalID string
	Name       string
	Game       string
	IsBot      bool
	LastSlot   int
}

// SkillChange records one rating adjustment so it can be reverted if a later
// saga step fails.
type SkillChange struct {
	ID        int64     `json:"id"`
	PlayerID  int64     `json:"player_id"`
	Delta     int       `json:"delta"`
	EventID   string    `json:"event_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LeaderboardEntry is one row of a ranked player listing.
type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	Player Player `json:"player"`
}
