package models

import "time"

// Role represents a user's role in the system.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	}
	return false
}

// User holds authentication data and role for an account.
// Password is only populated for legacy plaintext entries read from disk;
// new accounts always carry a bcrypt PasswordHash.
type User struct {
	Username     string    `json:"username" yaml:"username"`
	Password     string    `json:"password,omitempty" yaml:"password,omitempty"`
	PasswordHash string    `json:"password_hash,omitempty" yaml:"password_hash,omitempty"`
	Role         Role      `json:"role" yaml:"role"`
	CreatedAt    time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// UserSummary is the redacted view of a user published in snapshots.
type UserSummary struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Summary strips credentials from the user.
func (u User) Summary() UserSummary {
	return UserSummary{Username: u.Username, Role: u.Role}
}
