package platform

import "time"

// House edge bounds in basis points.
const (
	MinHouseEdge int64 = 100
	MaxHouseEdge int64 = 1000
)

// Settings holds the platform-wide switches.
type Settings struct {
	HouseEdge int64 `json:"house_edge"`
	Paused    bool  `json:"paused"`
}

// Game is a registered game contract.
type Game struct {
	Name         string    `json:"name" db:"name"`
	Kind         string    `json:"kind" db:"kind"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`
}
