package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ownerdomain "github.com/meterwise/meterwise/internal/owner/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CouponStatus tracks coupon lifecycle. Only available coupons are drawable.
type CouponStatus string

const (
	CouponStatusAvailable CouponStatus = "available"
	CouponStatusCancelled CouponStatus = "cancelled"
	CouponStatusExpired   CouponStatus = "expired"
)

// Coupon is a prepaid credit scoped to one provider. Balance never exceeds
// FaceValue and is only ever decremented by the settlement pipeline.
type Coupon struct {
	ID             snowflake.ID          `gorm:"primaryKey"`
	OwnerID        snowflake.ID          `gorm:"not null;index:ix_coupons_owner,priority:1"`
	OwnerKind      ownerdomain.OwnerKind `gorm:"type:text;not null;index:ix_coupons_owner,priority:2"`
	ProviderID     snowflake.ID          `gorm:"not null;index:ix_coupons_owner,priority:3"`
	FaceValue      decimal.Decimal       `gorm:"type:numeric(14,2);not null"`
	Balance        decimal.Decimal       `gorm:"type:numeric(14,2);not null"`
	EffectiveTime  time.Time             `gorm:"not null"`
	ExpirationTime time.Time             `gorm:"not null"`
	Status         CouponStatus          `gorm:"type:text;not null;default:available"`
	CreatedAt      time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Coupon) TableName() string { return "coupons" }

// Usable reports whether the coupon can be drawn at the given instant.
func (c *Coupon) Usable(now time.Time) bool {
	if c.Status != CouponStatusAvailable {
		return false
	}
	if c.Balance.LessThanOrEqual(decimal.Zero) {
		return false
	}
	return !now.Before(c.EffectiveTime) && now.Before(c.ExpirationTime)
}

// Store reads and locks coupons for settlement and API display.
type Store interface {
	List(ctx context.Context, o ownerdomain.Owner) ([]*Coupon, error)
	// ListUsableTx loads the owner's drawable coupons scoped to a provider
	// inside the caller's transaction, locked, soonest expiration first.
	ListUsableTx(ctx context.Context, tx *gorm.DB, o ownerdomain.Owner, providerID snowflake.ID, now time.Time) ([]*Coupon, error)
}
