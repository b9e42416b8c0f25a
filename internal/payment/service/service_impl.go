package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/meterwise/meterwise/internal/clock"
	coupondomain "github.com/meterwise/meterwise/internal/coupon/domain"
	ownerdomain "github.com/meterwise/meterwise/internal/owner/domain"
	paymentdomain "github.com/meterwise/meterwise/internal/payment/domain"
	statementdomain "github.com/meterwise/meterwise/internal/statement/domain"
	"github.com/meterwise/meterwise/pkg/db"
	"github.com/meterwise/meterwise/pkg/repository"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Owners  ownerdomain.Directory
	Coupons coupondomain.Store
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	owners  ownerdomain.Directory
	coupons coupondomain.Store
	records repository.Repository[paymentdomain.PaymentRecord]
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("payment.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		owners:  p.Owners,
		coupons: p.Coupons,
		records: repository.ProvideStore[paymentdomain.PaymentRecord](p.DB),
	}
}

// PayDailyStatement settles one statement using the owner's coupons first,
// soonest expiration ahead, then the balance account. Every read and write,
// from the status re-check to the ledger update, happens in one transaction:
// a failure anywhere rolls back coupon draws and balance changes together.
// Paying an already-paid or cancelled statement returns a conflict without
// mutating anything.
func (s *Service) PayDailyStatement(ctx context.Context, req paymentdomain.PayRequest) (*paymentdomain.PaymentRecord, error) {
	if req.StatementID == 0 || req.AppID == "" {
		return nil, paymentdomain.ErrInvalidRequest
	}

	statement, err := s.loadStatement(ctx, s.db, req.StatementID, false)
	if err != nil {
		return nil, err
	}
	if err := s.checkPayable(statement); err != nil {
		return nil, err
	}

	payer := statement.Owner()
	if err := s.owners.Resolve(ctx, payer); err != nil {
		return nil, fmt.Errorf("resolve statement owner: %w", err)
	}

	var record *paymentdomain.PaymentRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.loadStatement(ctx, tx, req.StatementID, true)
		if err != nil {
			return err
		}
		if err := s.checkPayable(locked); err != nil {
			return err
		}

		// A late fold-in can raise the payable between the first read and
		// the lock, so the zero decision uses the locked row.
		if locked.PayableAmount.LessThanOrEqual(decimal.Zero) {
			return s.settleZero(tx, locked.ID)
		}

		record, err = s.settle(ctx, tx, locked, payer, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if record == nil {
		s.log.Info("statement settled without charge",
			zap.String("statement_id", req.StatementID.String()))
		return nil, nil
	}

	s.log.Info("statement paid",
		zap.String("statement_id", req.StatementID.String()),
		zap.String("payment_ref", record.Ref),
		zap.String("payment_method", string(record.PaymentMethod)),
		zap.String("payable_amount", record.PayableAmount.String()))

	return record, nil
}

// settle runs the coupon-then-balance waterfall inside the caller's
// transaction against a locked unpaid statement.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, statement *statementdomain.DailyStatement, payer ownerdomain.Owner, req paymentdomain.PayRequest) (*paymentdomain.PaymentRecord, error) {
	now := s.clock.Now()
	payable := statement.PayableAmount
	remaining := payable

	coupons, err := s.coupons.ListUsableTx(ctx, tx, payer, statement.ProviderID, now)
	if err != nil {
		return nil, fmt.Errorf("list usable coupons: %w", err)
	}

	usages := make([]paymentdomain.CouponUsage, 0, len(coupons))
	couponDrawn := decimal.Zero
	for _, c := range coupons {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		draw := c.Balance
		if draw.GreaterThan(remaining) {
			draw = remaining
		}
		after := c.Balance.Sub(draw)
		if err := tx.Model(&coupondomain.Coupon{}).
			Where("id = ?", c.ID).
			Update("balance", after).Error; err != nil {
			return nil, err
		}
		usages = append(usages, paymentdomain.CouponUsage{
			ID:            s.genID.Generate(),
			CouponID:      c.ID,
			Amount:        draw,
			BalanceBefore: c.Balance,
			BalanceAfter:  after,
		})
		couponDrawn = couponDrawn.Add(draw)
		remaining = remaining.Sub(draw)
	}

	balanceDrawn := decimal.Zero
	if remaining.GreaterThan(decimal.Zero) {
		account, err := s.owners.LockAccountTx(ctx, tx, payer)
		if err != nil {
			return nil, fmt.Errorf("lock balance account: %w", err)
		}
		newBalance := account.Balance.Sub(remaining)
		if req.RequireEnoughBalance && newBalance.IsNegative() {
			return nil, paymentdomain.ErrBalanceNotEnough
		}
		if err := tx.Model(&ownerdomain.BalanceAccount{}).
			Where("id = ?", account.ID).
			Update("balance", newBalance).Error; err != nil {
			return nil, err
		}
		balanceDrawn = remaining
	}

	record := &paymentdomain.PaymentRecord{
		ID:            s.genID.Generate(),
		Ref:           ulid.Make().String(),
		PayerID:       payer.ID,
		PayerKind:     payer.Kind,
		AppID:         req.AppID,
		Subject:       req.Subject,
		Executor:      req.Executor,
		Remark:        req.Remark,
		PayableAmount: payable,
		BalanceAmount: balanceDrawn.Neg(),
		CouponAmount:  couponDrawn.Neg(),
		PaymentMethod: methodFor(couponDrawn, balanceDrawn),
		Status:        paymentdomain.PaymentRecordStatusSuccess,
		StatementID:   statement.ID,
	}
	if err := tx.Create(record).Error; err != nil {
		return nil, err
	}

	for i := range usages {
		usages[i].PaymentRecordID = record.ID
	}
	if len(usages) > 0 {
		if err := tx.Create(&usages).Error; err != nil {
			return nil, err
		}
	}
	record.CouponUsages = usages

	if err := tx.Model(&statementdomain.DailyStatement{}).
		Where("id = ?", statement.ID).
		Updates(map[string]any{
			"payment_status":    statementdomain.PaymentStatusPaid,
			"trade_amount":      payable,
			"payment_record_id": record.ID,
		}).Error; err != nil {
		return nil, err
	}

	return record, nil
}

// settleZero marks a locked zero-payable statement paid. No payment record,
// no coupon or balance mutation.
func (s *Service) settleZero(tx *gorm.DB, statementID snowflake.ID) error {
	return tx.Model(&statementdomain.DailyStatement{}).
		Where("id = ?", statementID).
		Updates(map[string]any{
			"payment_status": statementdomain.PaymentStatusPaid,
			"trade_amount":   decimal.Zero,
		}).Error
}

func (s *Service) loadStatement(ctx context.Context, tx *gorm.DB, id snowflake.ID, lock bool) (*statementdomain.DailyStatement, error) {
	query := tx.WithContext(ctx)
	if lock {
		query = db.LockForUpdate(query)
	}
	var statement statementdomain.DailyStatement
	if err := query.Where("id = ?", id).First(&statement).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, statementdomain.ErrStatementNotFound
		}
		return nil, err
	}
	return &statement, nil
}

func (s *Service) checkPayable(statement *statementdomain.DailyStatement) error {
	switch statement.PaymentStatus {
	case statementdomain.PaymentStatusPaid:
		return paymentdomain.ErrStatementPaid
	case statementdomain.PaymentStatusCancelled:
		return paymentdomain.ErrStatementCancelled
	}
	return nil
}

func methodFor(couponDrawn, balanceDrawn decimal.Decimal) paymentdomain.PaymentMethod {
	switch {
	case couponDrawn.IsPositive() && balanceDrawn.IsPositive():
		return paymentdomain.PaymentMethodBalanceAndCoupon
	case couponDrawn.IsPositive():
		return paymentdomain.PaymentMethodCoupon
	default:
		return paymentdomain.PaymentMethodBalance
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*paymentdomain.PaymentRecord, error) {
	record, err := s.records.FindOne(ctx, &paymentdomain.PaymentRecord{ID: id})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}

	var usages []paymentdomain.CouponUsage
	if err := s.db.WithContext(ctx).
		Where("payment_record_id = ?", id).
		Find(&usages).Error; err != nil {
		return nil, err
	}
	record.CouponUsages = usages
	return record, nil
}
