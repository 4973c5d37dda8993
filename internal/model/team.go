package model

import "time"

// Team is the organizing authority for a vault and its tasks. The address is
// a pure function of (authority, team_id), so the pair is unique by
// construction.
type Team struct {
	Address      string     `json:"team_address"`
	Authority    string     `json:"authority"`
	TeamID       uint64     `json:"team_id"`
	Bump         uint8      `json:"bump"`
	VaultAddress string     `json:"vault_address"`
	VaultBump    uint8      `json:"vault_bump"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
}
