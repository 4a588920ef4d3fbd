package domain

import "time"

// RosterEntry is one connected slot in a polled server status snapshot.
type RosterEntry struct {
	Name       string `json:"name"`
	GameUserID int    `json:"userid"`
	ExternalID string `json:"uniqueid"`
	IsBot      bool   `json:"is_bot"`
	Ping       int    `json:"ping,omitempty"`
	Frags      int    `json:"frags,omitempty"`
}

// RosterSnapshot is a point-in-time view of who is connected to a server,
// produced by the status poller. It is authoritative: synchronization
// replaces all prior sessions for the server with exactly this set.
type RosterSnapshot struct {
	Map        string        `json:"map"`
	Players    int           `json:"players"`
	MaxPlayers int           `json:"max_players"`
	PlayerList []RosterEntry `json:"player_list"`
	PolledAt   time.Time     `json:"polled_at"`
}

// Server is a configured game server being monitored.
type Server struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Address      string    `json:"address"`
	Game         string    `json:"game"`
	CreatedAt    time.Time `json:"created_at"`
	ActiveMap    string    `json:"active_map,omitempty"`
	LastPolledAt time.Time `json:"last_polled_at,omitempty"`
}
