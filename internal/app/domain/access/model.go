package access

// Role is a capability granted to an identity.
type Role string

const (
	// RoleAdmin may change settings, register games and pause the platform.
	RoleAdmin Role = "admin"
	// RoleGame may move funds through the treasury ledger.
	RoleGame Role = "game"
)

// Grant records that Subject holds Role.
type Grant struct {
	Subject string `json:"subject" db:"subject"`
	Role    Role   `json:"role" db:"role"`
}
