// Package models defines the data structures persisted to the database and
// returned by the API.
package models

import "time"

// GuildServer is the one SA-MP server registered for a guild, together with
// its RCON password (optional) and the last status the monitor observed.
type GuildServer struct {
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastChecked  time.Time `json:"last_checked,omitzero"`
	LastOnline   time.Time `json:"last_online,omitzero"`
	Host         string    `json:"host"`
	RCONPassword string    `json:"-"`
	Hostname     string    `json:"hostname,omitempty"`
	Gamemode     string    `json:"gamemode,omitempty"`
	Language     string    `json:"language,omitempty"`
	CountryCode  string    `json:"country_code,omitempty"`
	GuildID      uint64    `json:"guild_id"`
	Players      uint16    `json:"players"`
	MaxPlayers   uint16    `json:"max_players"`
	Port         uint16    `json:"port"`
	Online       bool      `json:"online"`
}

// Status is one monitor observation of a registered server. Empty string
// fields on an online status mean the corresponding query degraded and the
// previous value should be kept.
type Status struct {
	CheckedAt   time.Time
	Hostname    string
	Gamemode    string
	Language    string
	CountryCode string
	Players     uint16
	MaxPlayers  uint16
	Online      bool
}
