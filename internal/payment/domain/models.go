package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ownerdomain "github.com/meterwise/meterwise/internal/owner/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidRequest     = errors.New("invalid_payment_request")
	ErrPaymentNotFound    = errors.New("payment_not_found")
	ErrStatementPaid      = errors.New("statement_already_paid")
	ErrStatementCancelled = errors.New("statement_cancelled")
	ErrBalanceNotEnough   = errors.New("balance_not_enough")
)

// PaymentMethod names the funding sources a payment drew from.
type PaymentMethod string

const (
	PaymentMethodBalance          PaymentMethod = "balance"
	PaymentMethodCoupon           PaymentMethod = "coupon"
	PaymentMethodBalanceAndCoupon PaymentMethod = "balance_and_coupon"
)

// PaymentRecordStatus is the terminal outcome of a payment attempt.
type PaymentRecordStatus string

const (
	PaymentRecordStatusSuccess PaymentRecordStatus = "success"
	PaymentRecordStatusFailed  PaymentRecordStatus = "failed"
)

// PaymentRecord captures one successful statement settlement. Amount fields
// drawn from funding sources are signed negative; on success
// BalanceAmount + CouponAmount == -PayableAmount. Rows are immutable.
type PaymentRecord struct {
	ID            snowflake.ID          `gorm:"primaryKey"`
	Ref           string                `gorm:"type:text;not null;uniqueIndex"`
	PayerID       snowflake.ID          `gorm:"not null;index:ix_payment_records_payer,priority:1"`
	PayerKind     ownerdomain.OwnerKind `gorm:"type:text;not null;index:ix_payment_records_payer,priority:2"`
	AppID         string                `gorm:"type:text;not null"`
	Subject       string                `gorm:"type:text;not null"`
	Executor      string                `gorm:"type:text;not null"`
	Remark        string                `gorm:"type:text;not null;default:''"`
	PayableAmount decimal.Decimal       `gorm:"type:numeric(14,2);not null"`
	BalanceAmount decimal.Decimal       `gorm:"type:numeric(14,2);not null"`
	CouponAmount  decimal.Decimal       `gorm:"type:numeric(14,2);not null"`
	PaymentMethod PaymentMethod         `gorm:"type:text;not null"`
	Status        PaymentRecordStatus   `gorm:"type:text;not null"`
	StatementID   snowflake.ID          `gorm:"not null"`
	CreatedAt     time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP"`

	CouponUsages []CouponUsage `gorm:"-"`
}

// TableName sets the database table name.
func (PaymentRecord) TableName() string { return "payment_records" }

// CouponUsage is one coupon draw inside a payment, with the coupon balance
// before and after for audit.
type CouponUsage struct {
	ID              snowflake.ID    `gorm:"primaryKey"`
	PaymentRecordID snowflake.ID    `gorm:"not null;index"`
	CouponID        snowflake.ID    `gorm:"not null"`
	Amount          decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	BalanceBefore   decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	BalanceAfter    decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CouponUsage) TableName() string { return "payment_coupon_usages" }

// PayRequest settles one daily statement.
type PayRequest struct {
	StatementID          snowflake.ID
	AppID                string
	Subject              string
	Executor             string
	Remark               string
	RequireEnoughBalance bool
}

// Service is the payment engine. PayDailyStatement settles a statement
// against the owner's coupons then balance, exactly once; a nil record with
// a nil error means the statement settled trivially at zero payable.
type Service interface {
	PayDailyStatement(ctx context.Context, req PayRequest) (*PaymentRecord, error)
	Get(ctx context.Context, id snowflake.ID) (*PaymentRecord, error)
}
