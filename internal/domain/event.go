package domain

import "time"

// EventType identifies what happened on a game server. The constants mirror
// the normalized event stream produced by the log parsers.
type EventType string

const (
	EventPlayerConnect    EventType = "PLAYER_CONNECT"
	EventPlayerDisconnect EventType = "PLAYER_DISCONNECT"
	EventPlayerEntry      EventType = "PLAYER_ENTRY"
	EventPlayerTeam       EventType = "PLAYER_TEAM"
	EventPlayerRole       EventType = "PLAYER_ROLE"
	EventPlayerName       EventType = "PLAYER_NAME_CHANGE"
	EventChat             EventType = "CHAT"

	EventPlayerKill    EventType = "PLAYER_KILL"
	EventPlayerSuicide EventType = "PLAYER_SUICIDE"

	EventRoundStart EventType = "ROUND_START"
	EventRoundEnd   EventType = "ROUND_END"
	EventMapChange  EventType = "MAP_CHANGE"
	EventTeamWin    EventType = "TEAM_WIN"

	EventBombPlant   EventType = "BOMB_PLANT"
	EventBombDefuse  EventType = "BOMB_DEFUSE"
	EventFlagCapture EventType = "FLAG_CAPTURE"
	EventPointCap    EventType = "CONTROL_POINT_CAPTURE"

	EventWeaponFire EventType = "WEAPON_FIRE"
	EventWeaponHit  EventType = "WEAPON_HIT"

	EventActionPlayer       EventType = "ACTION_PLAYER"
	EventActionPlayerPlayer EventType = "ACTION_PLAYER_PLAYER"
	EventActionTeam         EventType = "ACTION_TEAM"
	EventActionWorld        EventType = "ACTION_WORLD"

	EventStatsUpdate    EventType = "STATS_UPDATE"
	EventServerShutdown EventType = "SERVER_SHUTDOWN"
	EventAdminAction    EventType = "ADMIN_ACTION"
)

// Category groups event types by which module handles them.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryPlayerLifecycle
	CategoryKill
	CategoryMatch
	CategoryObjective
	CategoryWeapon
	CategoryAction
	CategorySystem
)

// Category returns the routing category for an event type. Unrecognized
// types map to CategoryUnknown, which the dispatcher logs and skips.
func (t EventType) Category() Category {
	switch t {
	case EventPlayerConnect, EventPlayerDisconnect, EventPlayerEntry,
		EventPlayerTeam, EventPlayerRole, EventPlayerName, EventChat:
		return CategoryPlayerLifecycle
	case EventPlayerKill, EventPlayerSuicide:
		return CategoryKill
	case EventRoundStart, EventRoundEnd, EventMapChange, EventTeamWin:
		return CategoryMatch
	case EventBombPlant, EventBombDefuse, EventFlagCapture, EventPointCap:
		return CategoryObjective
	case EventWeaponFire, EventWeaponHit:
		return CategoryWeapon
	case EventActionPlayer, EventActionPlayerPlayer, EventActionTeam, EventActionWorld:
		return CategoryAction
	case EventStatsUpdate, EventServerShutdown, EventAdminAction:
		return CategorySystem
	default:
		return CategoryUnknown
	}
}

// PlayerIdentity is the ephemeral identity attached to an event by the log
// parser: the platform id (Steam id or the literal "BOT"), the display name,
// and the per-connection slot number the game server uses.
type PlayerIdentity struct {
	ExternalID string `json:"external_id"`
	PlayerName string `json:"player_name"`
	GameUserID int    `json:"game_user_id,omitempty"`
	IsBot      bool   `json:"is_bot,omitempty"`
	Team       string `json:"team,omitempty"`
}

// EventMeta carries the unresolved identities embedded in an event. Kill
// events carry both killer and victim; most others carry a single player.
type EventMeta struct {
	Player *PlayerIdentity `json:"player,omitempty"`
	Killer *PlayerIdentity `json:"killer,omitempty"`
	Victim *PlayerIdentity `json:"victim,omitempty"`
}

// GameEvent is the normalized envelope for everything that happens on a
// monitored server. The resolved durable ids (PlayerID, KillerID, VictimID)
// are zero until the dispatcher runs identity resolution; downstream handlers
// treat a zero id as "unknown player" rather than failing.
type GameEvent struct {
	ID        string    `json:"id,omitempty"`
	Type      EventType `json:"type"`
	ServerID  int64     `json:"server_id"`
	Game      string    `json:"game,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Meta      EventMeta `json:"meta"`

	// Event payload fields; which ones are set depends on Type.
	Weapon   string `json:"weapon,omitempty"`
	Headshot bool   `json:"headshot,omitempty"`
	Map      string `json:"map,omitempty"`
	Team     string `json:"team,omitempty"`
	Role     string `json:"role,omitempty"`
	Message  string `json:"message,omitempty"`
	Action   string `json:"action,omitempty"`
	Hits     int    `json:"hits,omitempty"`
	Damage   int    `json:"damage,omitempty"`

	// Durable ids filled in by identity resolution.
	PlayerID int64 `json:"player_id,omitempty"`
	KillerID int64 `json:"killer_id,omitempty"`
	VictimID int64 `json:"victim_id,omitempty"`
}
