package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	registrydomain "github.com/meterwise/meterwise/internal/registry/domain"
	"github.com/shopspring/decimal"
)

var ErrPriceNotFound = errors.New("price_not_found")

// Price holds hourly unit prices for one resource kind. DiscountPercent is
// an integer percentage applied to the original amount to produce the
// billable trade amount.
type Price struct {
	ID              snowflake.ID                `gorm:"primaryKey"`
	Kind            registrydomain.ResourceKind `gorm:"type:text;not null;uniqueIndex"`
	CPUHour         decimal.Decimal             `gorm:"type:numeric(14,6);not null;default:0"`
	RAMGiBHour      decimal.Decimal             `gorm:"column:ram_gib_hour;type:numeric(14,6);not null;default:0"`
	DiskGiBHour     decimal.Decimal             `gorm:"column:disk_gib_hour;type:numeric(14,6);not null;default:0"`
	DiscountPercent int64                       `gorm:"not null;default:0"`
	CreatedAt       time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Price) TableName() string { return "prices" }

// Quote is the priced outcome of one metering interval.
type Quote struct {
	OriginalAmount decimal.Decimal
	TradeAmount    decimal.Decimal
}

// Pricer computes amounts for a resource snapshot over elapsed hours.
type Pricer interface {
	PriceFor(ctx context.Context, snapshot registrydomain.Snapshot, hours float64) (Quote, error)
}
