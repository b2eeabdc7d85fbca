package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
)

// Operator scopes. A key carries the scopes it was minted with; mode gating is
// the mode context's job, not the key's.
const (
	ScopeRead          = "read"
	ScopePaymentsWrite = "payments:write"
	ScopeRefundsWrite  = "refunds:write"
	ScopeSyncRun       = "sync:run"
	ScopeModeSwitch    = "mode:switch"
	ScopeKeysManage    = "keys:manage"
)

// AllScopes returns every recognized scope, in display order.
func AllScopes() []string {
	return []string{ScopeRead, ScopePaymentsWrite, ScopeRefundsWrite, ScopeSyncRun, ScopeModeSwitch, ScopeKeysManage}
}

// ValidScope reports whether the scope belongs to the recognized set.
func ValidScope(scope string) bool {
	switch scope {
	case ScopeRead, ScopePaymentsWrite, ScopeRefundsWrite, ScopeSyncRun, ScopeModeSwitch, ScopeKeysManage:
		return true
	default:
		return false
	}
}

// OperatorKey stores a hashed operator credential. The secret itself is never
// persisted; only the argon2id digest and a short display prefix are kept.
type OperatorKey struct {
	ID               snowflake.ID   `gorm:"primaryKey"`
	KeyID            string         `gorm:"column:key_id;type:text;not null;uniqueIndex:ux_operator_keys_key_id"`
	Name             string         `gorm:"type:text;not null"`
	Prefix           string         `gorm:"type:text;not null"`
	Digest           string         `gorm:"type:text;not null"`
	Scopes           pq.StringArray `gorm:"type:text[];not null"`
	IsActive         bool           `gorm:"column:is_active;not null;default:true"`
	CreatedAt        time.Time      `gorm:"not null"`
	UpdatedAt        time.Time      `gorm:"not null"`
	LastUsedAt       *time.Time     `gorm:"column:last_used_at"`
	ExpiresAt        *time.Time     `gorm:"column:expires_at"`
	RotatedFromKeyID *string        `gorm:"column:rotated_from_key_id;type:text"`
}

// TableName sets the database table name.
func (OperatorKey) TableName() string { return "operator_keys" }
