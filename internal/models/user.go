package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account role constants
const (
	RolePrimary = "primary"
	RoleSub     = "sub"
)

// User represents an account holding fund positions
type User struct {
	ID        int             `json:"id"`
	Username  string          `json:"username"`
	Role      string          `json:"role"`
	Principal decimal.Decimal `json:"principal"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// IsPrimary reports whether the user is the primary account.
func (u *User) IsPrimary() bool { return u.Role == RolePrimary }

// Agreement holds the profit-sharing terms of a sub-account
type Agreement struct {
	ID                     int             `json:"id"`
	UserID                 int             `json:"user_id"`
	ProfitShareRatio       decimal.Decimal `json:"profit_share_ratio"`
	IsCapitalProtected     bool            `json:"is_capital_protected"`
	CapitalProtectionRatio decimal.Decimal `json:"capital_protection_ratio"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}
