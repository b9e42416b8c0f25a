package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ownerdomain "github.com/meterwise/meterwise/internal/owner/domain"
	"github.com/meterwise/meterwise/pkg/db/option"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidDate       = errors.New("invalid_statement_date")
	ErrStatementNotFound = errors.New("statement_not_found")
)

// PaymentStatus tracks statement settlement state.
type PaymentStatus string

const (
	PaymentStatusUnpaid    PaymentStatus = "unpaid"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// DailyStatement is the aggregated bill for one owner, provider, and day.
// At most one row exists per (owner_id, owner_kind, provider_id, date).
// TradeAmount stays zero and PaymentRecordID stays 0 until payment.
type DailyStatement struct {
	ID              snowflake.ID          `gorm:"primaryKey"`
	OwnerID         snowflake.ID          `gorm:"not null;uniqueIndex:ux_daily_statements_owner_provider_date,priority:1"`
	OwnerKind       ownerdomain.OwnerKind `gorm:"type:text;not null;uniqueIndex:ux_daily_statements_owner_provider_date,priority:2"`
	ProviderID      snowflake.ID          `gorm:"not null;uniqueIndex:ux_daily_statements_owner_provider_date,priority:3"`
	Date            time.Time             `gorm:"not null;uniqueIndex:ux_daily_statements_owner_provider_date,priority:4"`
	OriginalAmount  decimal.Decimal       `gorm:"type:numeric(14,2);not null;default:0"`
	PayableAmount   decimal.Decimal       `gorm:"type:numeric(14,2);not null;default:0"`
	TradeAmount     decimal.Decimal       `gorm:"type:numeric(14,2);not null;default:0"`
	PaymentStatus   PaymentStatus         `gorm:"type:text;not null;default:unpaid"`
	PaymentRecordID snowflake.ID          `gorm:"not null;default:0"`
	CreatedAt       time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (DailyStatement) TableName() string { return "daily_statements" }

// Owner returns the billed party.
func (s *DailyStatement) Owner() ownerdomain.Owner {
	return ownerdomain.Owner{Kind: s.OwnerKind, ID: s.OwnerID}
}

// RunRequest drives one aggregation pass over a single day.
type RunRequest struct {
	Date     time.Time
	FailFast bool
}

// RunSummary reports one aggregation pass. Count is the number of
// statements created or folded into; Records is the usage records stamped.
type RunSummary struct {
	Count   int
	Records int
	Failed  int
}

// ListFilter narrows statement reads.
type ListFilter struct {
	Owner  *ownerdomain.Owner
	Date   *time.Time
	Status PaymentStatus
}

// Generator folds a day's postpaid usage records into daily statements.
type Generator interface {
	Run(ctx context.Context, req RunRequest) (RunSummary, error)
	Get(ctx context.Context, id snowflake.ID) (*DailyStatement, error)
	List(ctx context.Context, filter ListFilter, opts ...option.QueryOption) ([]*DailyStatement, error)
}
