package domain

import "time"

// Match represents one map run on a server.
type Match struct {
	ID        int64      `json:"id"`
	UUID      string     `json:"uuid,omitempty"`
	ServerID  int64      `json:"server_id"`
	MapName   string     `json:"map_name"`
	Game      string     `json:"game"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Rounds    int        `json:"rounds"`
	Kills     int64      `json:"kills"`
}

// User is an operator account for the admin API.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}
