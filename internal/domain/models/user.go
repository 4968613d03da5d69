package models

import "time"

type Role string

const (
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleUser:
		return true
	}
	return false
}

type User struct {
	ID                string     `json:"id" db:"id"`
	Username          string     `json:"username" db:"username"`
	Email             string     `json:"email" db:"email"`
	PasswordHash      string     `json:"-" db:"password_hash"`
	Role              Role       `json:"role" db:"role"`
	ParentID          *string    `json:"parent_id" db:"parent_id"`
	Level             int        `json:"level" db:"level"`
	Balance           int64      `json:"balance" db:"balance"`
	DownlineCount     int        `json:"downline_count" db:"downline_count"`
	IsActive          bool       `json:"is_active" db:"is_active"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	LastLogin         *time.Time `json:"last_login,omitempty" db:"last_login"`
	PasswordChangedAt *time.Time `json:"-" db:"password_changed_at"`
}

// IsChildOf reports whether u is a direct child of the node with the given id.
func (u User) IsChildOf(parentID string) bool {
	return u.ParentID != nil && *u.ParentID == parentID
}

// DownlineNode is a user annotated with its level relative to the traversal root.
type DownlineNode struct {
	User
	RelativeLevel int             `json:"relative_level"`
	Children      []*DownlineNode `json:"children"`
}

type LevelStat struct {
	Level        int     `json:"level" db:"level"`
	UserCount    int     `json:"user_count" db:"user_count"`
	TotalBalance int64   `json:"total_balance" db:"total_balance"`
	AvgBalance   float64 `json:"avg_balance" db:"avg_balance"`
}

type RoleStat struct {
	Role         Role    `json:"role" db:"role"`
	UserCount    int     `json:"user_count" db:"user_count"`
	TotalBalance int64   `json:"total_balance" db:"total_balance"`
	AvgBalance   float64 `json:"avg_balance" db:"avg_balance"`
}

type BalanceStats struct {
	TotalUsers   int     `json:"total_users" db:"total_users"`
	TotalBalance int64   `json:"total_balance" db:"total_balance"`
	AvgBalance   float64 `json:"avg_balance" db:"avg_balance"`
	MaxBalance   int64   `json:"max_balance" db:"max_balance"`
	MinBalance   int64   `json:"min_balance" db:"min_balance"`
}
