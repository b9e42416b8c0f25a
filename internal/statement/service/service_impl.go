package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	meteringdomain "github.com/meterwise/meterwise/internal/metering/domain"
	ownerdomain "github.com/meterwise/meterwise/internal/owner/domain"
	registrydomain "github.com/meterwise/meterwise/internal/registry/domain"
	statementdomain "github.com/meterwise/meterwise/internal/statement/domain"
	"github.com/meterwise/meterwise/pkg/db"
	"github.com/meterwise/meterwise/pkg/db/option"
	"github.com/meterwise/meterwise/pkg/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	statements repository.Repository[statementdomain.DailyStatement]
}

func NewService(p Params) statementdomain.Generator {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("statement.service"),
		genID:      p.GenID,
		statements: repository.ProvideStore[statementdomain.DailyStatement](p.DB),
	}
}

// groupKey identifies one statement bucket within a day.
type groupKey struct {
	OwnerID    snowflake.ID
	OwnerKind  ownerdomain.OwnerKind
	ProviderID snowflake.ID
}

// Run folds the day's unaggregated postpaid usage records into per-owner,
// per-provider statements. Each group commits in its own transaction, so a
// crash mid-run leaves other groups untouched and the next run picks up the
// remainder. Records folded once are never folded again: stamping the
// statement backlink removes them from the selection.
func (s *Service) Run(ctx context.Context, req statementdomain.RunRequest) (statementdomain.RunSummary, error) {
	var summary statementdomain.RunSummary

	if req.Date.IsZero() {
		return summary, statementdomain.ErrInvalidDate
	}
	date := meteringdomain.DayOf(req.Date)

	var records []*meteringdomain.UsageRecord
	err := s.db.WithContext(ctx).
		Where("date = ? AND pay_type = ? AND daily_statement_id = 0", date, registrydomain.PayTypePostpaid).
		Find(&records).Error
	if err != nil {
		return summary, fmt.Errorf("select unaggregated usage records: %w", err)
	}

	groups := make(map[groupKey][]snowflake.ID)
	for _, record := range records {
		key := groupKey{OwnerID: record.OwnerID, OwnerKind: record.OwnerKind, ProviderID: record.ProviderID}
		groups[key] = append(groups[key], record.ID)
	}

	for key, ids := range groups {
		folded, err := s.foldGroup(ctx, key, date, ids)
		if err != nil {
			summary.Failed++
			if req.FailFast {
				return summary, fmt.Errorf("fold statement group owner=%s provider=%s: %w", key.OwnerID, key.ProviderID, err)
			}
			s.log.Error("failed to fold statement group",
				zap.String("owner_id", key.OwnerID.String()),
				zap.String("owner_kind", string(key.OwnerKind)),
				zap.String("provider_id", key.ProviderID.String()),
				zap.Time("date", date),
				zap.Error(err))
			continue
		}
		if folded > 0 {
			summary.Count++
			summary.Records += folded
		}
	}

	s.log.Info("statement generation finished",
		zap.Time("date", date),
		zap.Int("statements", summary.Count),
		zap.Int("records", summary.Records),
		zap.Int("failed", summary.Failed))

	return summary, nil
}

// foldGroup locks one group's records, adds their sums onto the group's
// statement, and stamps the backlink, all in one transaction. Reads the
// records again inside the transaction so a concurrent run that already
// stamped them contributes nothing twice.
func (s *Service) foldGroup(ctx context.Context, key groupKey, date time.Time, ids []snowflake.ID) (int, error) {
	folded := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var records []*meteringdomain.UsageRecord
		if err := db.LockForUpdate(tx).
			Where("id IN ? AND daily_statement_id = 0", ids).
			Find(&records).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		var original, payable decimal.Decimal
		recordIDs := make([]snowflake.ID, 0, len(records))
		for _, record := range records {
			original = original.Add(record.OriginalAmount)
			payable = payable.Add(record.TradeAmount)
			recordIDs = append(recordIDs, record.ID)
		}

		statement, err := s.lockOrCreateStatement(ctx, tx, key, date)
		if err != nil {
			return err
		}

		if err := tx.Model(&statementdomain.DailyStatement{}).
			Where("id = ?", statement.ID).
			Updates(map[string]any{
				"original_amount": statement.OriginalAmount.Add(original),
				"payable_amount":  statement.PayableAmount.Add(payable),
			}).Error; err != nil {
			return err
		}

		if err := tx.Model(&meteringdomain.UsageRecord{}).
			Where("id IN ?", recordIDs).
			Update("daily_statement_id", statement.ID).Error; err != nil {
			return err
		}

		folded = len(recordIDs)
		return nil
	})
	return folded, err
}

// lockOrCreateStatement returns the group's statement row locked for the
// remainder of the transaction, creating it when this is the first fold.
// Creation races between concurrent runs resolve via the unique index.
func (s *Service) lockOrCreateStatement(ctx context.Context, tx *gorm.DB, key groupKey, date time.Time) (*statementdomain.DailyStatement, error) {
	lockStatement := func() (*statementdomain.DailyStatement, error) {
		var statement statementdomain.DailyStatement
		err := db.LockForUpdate(tx).
			Where("owner_id = ? AND owner_kind = ? AND provider_id = ? AND date = ?",
				key.OwnerID, key.OwnerKind, key.ProviderID, date).
			First(&statement).Error
		if err != nil {
			return nil, err
		}
		return &statement, nil
	}

	statement, err := lockStatement()
	if err == nil {
		return statement, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	created := &statementdomain.DailyStatement{
		ID:            s.genID.Generate(),
		OwnerID:       key.OwnerID,
		OwnerKind:     key.OwnerKind,
		ProviderID:    key.ProviderID,
		Date:          date,
		PaymentStatus: statementdomain.PaymentStatusUnpaid,
	}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(created).Error; err != nil && !db.IsDuplicateKeyErr(err) {
		return nil, err
	}

	return lockStatement()
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*statementdomain.DailyStatement, error) {
	statement, err := s.statements.FindOne(ctx, &statementdomain.DailyStatement{ID: id})
	if err != nil {
		return nil, err
	}
	if statement == nil {
		return nil, statementdomain.ErrStatementNotFound
	}
	return statement, nil
}

func (s *Service) List(ctx context.Context, filter statementdomain.ListFilter, opts ...option.QueryOption) ([]*statementdomain.DailyStatement, error) {
	query := &statementdomain.DailyStatement{PaymentStatus: filter.Status}
	if filter.Owner != nil {
		query.OwnerID = filter.Owner.ID
		query.OwnerKind = filter.Owner.Kind
	}
	if filter.Date != nil {
		query.Date = meteringdomain.DayOf(*filter.Date)
	}
	return s.statements.Find(ctx, query, opts...)
}
