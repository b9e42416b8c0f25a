package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/meterwise/meterwise/internal/clock"
	meteringdomain "github.com/meterwise/meterwise/internal/metering/domain"
	pricingdomain "github.com/meterwise/meterwise/internal/pricing/domain"
	registrydomain "github.com/meterwise/meterwise/internal/registry/domain"
	"github.com/meterwise/meterwise/pkg/db/option"
	"github.com/meterwise/meterwise/pkg/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Registry registrydomain.Registry
	Pricer   pricingdomain.Pricer
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	registry registrydomain.Registry
	pricer   pricingdomain.Pricer
	records  repository.Repository[meteringdomain.UsageRecord]
}

func NewService(p Params) meteringdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("metering.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		registry: p.Registry,
		pricer:   p.Pricer,
		records:  repository.ProvideStore[meteringdomain.UsageRecord](p.DB),
	}
}

// Run meters every active resource over one closed UTC day and persists a
// usage record per resource. The default window is the previous full day;
// an explicit Day must also be a closed day. Re-running for the same day
// skips already-recorded resources instead of double counting.
func (s *Service) Run(ctx context.Context, req meteringdomain.RunRequest) (meteringdomain.RunSummary, error) {
	var summary meteringdomain.RunSummary

	today := meteringdomain.DayOf(s.clock.Now())
	date := today.Add(-24 * time.Hour)
	if req.Day != nil {
		date = meteringdomain.DayOf(*req.Day)
	}
	if !date.Before(today) {
		return summary, meteringdomain.ErrInvalidDate
	}
	windowStart := date
	windowEnd := date.Add(24 * time.Hour)

	resources, err := s.registry.ListActive(ctx)
	if err != nil {
		return summary, fmt.Errorf("list active resources: %w", err)
	}

	for _, resource := range resources {
		inserted, err := s.measureResource(ctx, resource, date, windowStart, windowEnd)
		if err != nil {
			summary.Failed++
			if req.FailFast {
				return summary, fmt.Errorf("measure resource %s: %w", resource.ID, err)
			}
			s.log.Error("failed to measure resource",
				zap.String("resource_id", resource.ID.String()),
				zap.Time("date", date),
				zap.Error(err))
			continue
		}
		if inserted {
			summary.Count++
		} else {
			summary.Skipped++
		}
	}

	s.log.Info("metering run finished",
		zap.Time("date", date),
		zap.Int("count", summary.Count),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))

	return summary, nil
}

// measureResource prices one resource's window and inserts its usage record.
// Returns false when the record already existed or the resource had no
// billable time inside the window.
func (s *Service) measureResource(ctx context.Context, resource *registrydomain.Resource, date, windowStart, windowEnd time.Time) (bool, error) {
	if created := resource.CreatedAt.UTC(); created.After(windowStart) {
		if !created.Before(windowEnd) {
			return false, nil
		}
		windowStart = created
	}

	intervals, err := s.splitWindow(ctx, resource, windowStart, windowEnd)
	if err != nil {
		return false, err
	}

	var (
		cpuHours, ramHours, diskHours float64
		original, trade               decimal.Decimal
	)
	for _, iv := range intervals {
		hours := iv.end.Sub(iv.start).Hours()
		if hours <= 0 {
			continue
		}
		cpuHours += float64(iv.snapshot.CPUCores) * hours
		ramHours += float64(iv.snapshot.RAMGiB) * hours
		diskHours += float64(iv.snapshot.DiskGiB) * hours

		quote, err := s.pricer.PriceFor(ctx, iv.snapshot, hours)
		if err != nil {
			return false, err
		}
		original = original.Add(quote.OriginalAmount)
		trade = trade.Add(quote.TradeAmount)
	}

	record := &meteringdomain.UsageRecord{
		ID:             s.genID.Generate(),
		ResourceID:     resource.ID,
		ResourceKind:   resource.Kind,
		OwnerID:        resource.OwnerID,
		OwnerKind:      resource.OwnerKind,
		ProviderID:     resource.ProviderID,
		Date:           date,
		CPUHours:       cpuHours,
		RAMGibHours:    ramHours,
		DiskGibHours:   diskHours,
		OriginalAmount: original,
		TradeAmount:    trade,
		PayType:        resource.PayType,
		Metadata: datatypes.JSONMap{
			"window_start": windowStart.Format(time.RFC3339),
			"window_end":   windowEnd.Format(time.RFC3339),
			"intervals":    len(intervals),
		},
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "resource_id"}, {Name: "date"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// interval is a slice of the metering window priced under one configuration.
type interval struct {
	snapshot registrydomain.Snapshot
	start    time.Time
	end      time.Time
}

// splitWindow cuts [start, end) at archive-event boundaries. Archived
// configurations cover their [StartTime, EndTime); gaps between them, and
// the tail after the last event, bill under the resource's current shape.
func (s *Service) splitWindow(ctx context.Context, resource *registrydomain.Resource, start, end time.Time) ([]interval, error) {
	archives, err := s.registry.ListArchives(ctx, resource.ID, start, end)
	if err != nil {
		return nil, err
	}

	current := resource.Snapshot()
	intervals := make([]interval, 0, len(archives)*2+1)
	cursor := start
	for _, archive := range archives {
		segStart := archive.StartTime.UTC()
		if segStart.Before(cursor) {
			segStart = cursor
		}
		segEnd := archive.EndTime.UTC()
		if segEnd.After(end) {
			segEnd = end
		}
		if !segStart.Before(segEnd) {
			continue
		}
		if cursor.Before(segStart) {
			intervals = append(intervals, interval{snapshot: current, start: cursor, end: segStart})
		}
		intervals = append(intervals, interval{snapshot: archive.Snapshot(resource.Kind), start: segStart, end: segEnd})
		cursor = segEnd
	}
	if cursor.Before(end) {
		intervals = append(intervals, interval{snapshot: current, start: cursor, end: end})
	}
	return intervals, nil
}

func (s *Service) List(ctx context.Context, filter meteringdomain.ListFilter, opts ...option.QueryOption) ([]*meteringdomain.UsageRecord, error) {
	query := &meteringdomain.UsageRecord{ResourceID: filter.ResourceID}
	if filter.Owner != nil {
		query.OwnerID = filter.Owner.ID
		query.OwnerKind = filter.Owner.Kind
	}
	if filter.Date != nil {
		query.Date = meteringdomain.DayOf(*filter.Date)
	}
	return s.records.Find(ctx, query, opts...)
}
