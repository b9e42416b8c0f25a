package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ownerdomain "github.com/meterwise/meterwise/internal/owner/domain"
	registrydomain "github.com/meterwise/meterwise/internal/registry/domain"
	"github.com/meterwise/meterwise/pkg/db/option"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

var ErrInvalidDate = errors.New("invalid_metering_date")

// UsageRecord is one resource's metered usage for one closed UTC day.
// At most one record exists per (resource_id, date); rows are immutable
// except for the statement backlink, which is stamped once by aggregation.
// DailyStatementID 0 means the record has not been folded yet.
type UsageRecord struct {
	ID               snowflake.ID                `gorm:"primaryKey"`
	ResourceID       snowflake.ID                `gorm:"not null;uniqueIndex:ux_usage_records_resource_date,priority:1"`
	ResourceKind     registrydomain.ResourceKind `gorm:"type:text;not null"`
	OwnerID          snowflake.ID                `gorm:"not null"`
	OwnerKind        ownerdomain.OwnerKind       `gorm:"type:text;not null"`
	ProviderID       snowflake.ID                `gorm:"not null"`
	Date             time.Time                   `gorm:"not null;uniqueIndex:ux_usage_records_resource_date,priority:2"`
	CPUHours         float64                     `gorm:"not null;default:0"`
	RAMGibHours      float64                     `gorm:"not null;default:0"`
	DiskGibHours     float64                     `gorm:"not null;default:0"`
	OriginalAmount   decimal.Decimal             `gorm:"type:numeric(14,2);not null;default:0"`
	TradeAmount      decimal.Decimal             `gorm:"type:numeric(14,2);not null;default:0"`
	PayType          registrydomain.PayType      `gorm:"type:text;not null"`
	DailyStatementID snowflake.ID                `gorm:"not null;default:0"`
	Metadata         datatypes.JSONMap           `gorm:"type:jsonb"`
	CreatedAt        time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// RunRequest drives one Measurer pass. Day overrides the default window
// (the previous full UTC day); FailFast re-raises the first per-resource
// error instead of logging and continuing.
type RunRequest struct {
	Day      *time.Time
	FailFast bool
}

// RunSummary reports one Measurer pass.
type RunSummary struct {
	Count   int
	Skipped int
	Failed  int
}

// ListFilter narrows usage record reads.
type ListFilter struct {
	Owner      *ownerdomain.Owner
	ResourceID snowflake.ID
	Date       *time.Time
}

// Service is the Measurer.
type Service interface {
	Run(ctx context.Context, req RunRequest) (RunSummary, error)
	List(ctx context.Context, filter ListFilter, opts ...option.QueryOption) ([]*UsageRecord, error)
}

// DayOf truncates an instant to its UTC day.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
