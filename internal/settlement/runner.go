package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	meteringdomain "github.com/meterwise/meterwise/internal/metering/domain"
	obsmetrics "github.com/meterwise/meterwise/internal/observability/metrics"
	paymentdomain "github.com/meterwise/meterwise/internal/payment/domain"
	statementdomain "github.com/meterwise/meterwise/internal/statement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RunRequest drives one batch payment pass. Date narrows the pass to one
// statement day; RequireEnoughBalance overrides the configured policy.
type RunRequest struct {
	Date                 *time.Time
	RequireEnoughBalance bool
}

// RunSummary tallies one batch payment pass.
type RunSummary struct {
	Count        int
	SuccessCount int
	FailedCount  int
}

type RunnerParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	PaymentSvc paymentdomain.Service
	Config     Config `optional:"true"`
}

// Runner settles every unpaid daily statement, tolerating per-item failure.
type Runner struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	paymentSvc paymentdomain.Service
}

func NewRunner(p RunnerParams) (*Runner, error) {
	if p.DB == nil || p.Log == nil || p.PaymentSvc == nil {
		return nil, errors.New("invalid_runner_config")
	}
	return &Runner{
		db:         p.DB,
		log:        p.Log.Named("settlement.runner"),
		cfg:        p.Config.withDefaults(),
		paymentSvc: p.PaymentSvc,
	}, nil
}

// Run pays every unpaid statement, optionally filtered to one day. A failed
// item is logged and tallied; it never stops the batch. Statements that
// another run settled concurrently count as failed conflicts, not successes.
func (r *Runner) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	var summary RunSummary
	metrics := obsmetrics.Settlement()

	var lastID snowflake.ID
	for {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		statements, err := r.fetchUnpaid(ctx, req.Date, lastID)
		if err != nil {
			return summary, fmt.Errorf("fetch unpaid statements: %w", err)
		}
		if len(statements) == 0 {
			break
		}

		for _, statement := range statements {
			lastID = statement.ID
			summary.Count++

			_, err := r.paymentSvc.PayDailyStatement(ctx, paymentdomain.PayRequest{
				StatementID:          statement.ID,
				AppID:                r.cfg.PayerAppID,
				Subject:              fmt.Sprintf("daily statement %s", statement.Date.Format("2006-01-02")),
				Executor:             "settlement",
				RequireEnoughBalance: req.RequireEnoughBalance,
			})
			if err != nil {
				summary.FailedCount++
				metrics.IncPayment(paymentOutcome(err))
				r.log.Warn("statement payment failed",
					zap.String("statement_id", statement.ID.String()),
					zap.Time("date", statement.Date),
					zap.Error(err))
				continue
			}
			summary.SuccessCount++
			metrics.IncPayment("success")
		}
	}

	r.log.Info("batch payment run finished",
		zap.Int("count", summary.Count),
		zap.Int("success_count", summary.SuccessCount),
		zap.Int("failed_count", summary.FailedCount))

	return summary, nil
}

// fetchUnpaid pages unpaid statements by ascending id so a pass visits each
// statement once even as earlier rows flip to paid underneath it.
func (r *Runner) fetchUnpaid(ctx context.Context, date *time.Time, afterID snowflake.ID) ([]*statementdomain.DailyStatement, error) {
	query := r.db.WithContext(ctx).
		Where("payment_status = ?", statementdomain.PaymentStatusUnpaid).
		Where("id > ?", afterID)
	if date != nil {
		query = query.Where("date = ?", meteringdomain.DayOf(*date))
	}

	var statements []*statementdomain.DailyStatement
	err := query.Order("id ASC").Limit(r.cfg.BatchSize).Find(&statements).Error
	if err != nil {
		return nil, err
	}
	return statements, nil
}

func paymentOutcome(err error) string {
	switch {
	case errors.Is(err, paymentdomain.ErrBalanceNotEnough):
		return "balance_not_enough"
	case errors.Is(err, paymentdomain.ErrStatementPaid), errors.Is(err, paymentdomain.ErrStatementCancelled):
		return "conflict"
	default:
		return "error"
	}
}
