package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInvalidOwnerKind = errors.New("invalid_owner_kind")
	ErrOwnerNotFound    = errors.New("owner_not_found")
)

// OwnerKind discriminates between individual users and virtual organizations.
type OwnerKind string

const (
	OwnerKindUser OwnerKind = "user"
	OwnerKindVo   OwnerKind = "vo"
)

// Valid reports whether the kind is one of the known discriminants.
func (k OwnerKind) Valid() bool {
	return k == OwnerKindUser || k == OwnerKindVo
}

// Owner identifies a billable party. The kind tag replaces per-subtype
// dispatch: every record that belongs to an owner carries this pair.
type Owner struct {
	Kind OwnerKind
	ID   snowflake.ID
}

// User is an individual account holder.
type User struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Username  string       `gorm:"type:text;not null;uniqueIndex"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// VoGroup is a virtual organization that holds a shared balance.
type VoGroup struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Name      string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (VoGroup) TableName() string { return "vo_groups" }

// BalanceAccount is the owner ledger. Balance may go negative when the
// overdraft policy allows it; mutations happen only inside the payment
// transaction that records them.
type BalanceAccount struct {
	ID        snowflake.ID    `gorm:"primaryKey"`
	OwnerID   snowflake.ID    `gorm:"not null;uniqueIndex:ux_balance_accounts_owner,priority:1"`
	OwnerKind OwnerKind       `gorm:"type:text;not null;uniqueIndex:ux_balance_accounts_owner,priority:2"`
	Balance   decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	CreatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BalanceAccount) TableName() string { return "balance_accounts" }

// Directory resolves owners and manages their balance accounts.
type Directory interface {
	Resolve(ctx context.Context, o Owner) error
	EnsureAccount(ctx context.Context, o Owner) (*BalanceAccount, error)
	GetAccount(ctx context.Context, o Owner) (*BalanceAccount, error)
	LockAccountTx(ctx context.Context, tx *gorm.DB, o Owner) (*BalanceAccount, error)
}
