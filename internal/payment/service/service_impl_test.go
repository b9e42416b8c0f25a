package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/meterwise/meterwise/internal/clock"
	coupondomain "github.com/meterwise/meterwise/internal/coupon/domain"
	couponservice "github.com/meterwise/meterwise/internal/coupon/service"
	ownerdomain "github.com/meterwise/meterwise/internal/owner/domain"
	ownerservice "github.com/meterwise/meterwise/internal/owner/service"
	paymentdomain "github.com/meterwise/meterwise/internal/payment/domain"
	paymentservice "github.com/meterwise/meterwise/internal/payment/service"
	statementdomain "github.com/meterwise/meterwise/internal/statement/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE users (
			id BIGINT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE vo_groups (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE balance_accounts (
			id BIGINT PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			owner_kind TEXT NOT NULL,
			balance NUMERIC NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX ux_balance_accounts_owner ON balance_accounts(owner_id, owner_kind)`,
		`CREATE TABLE coupons (
			id BIGINT PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			owner_kind TEXT NOT NULL,
			provider_id BIGINT NOT NULL,
			face_value NUMERIC NOT NULL,
			balance NUMERIC NOT NULL,
			effective_time DATETIME NOT NULL,
			expiration_time DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'available',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE daily_statements (
			id BIGINT PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			owner_kind TEXT NOT NULL,
			provider_id BIGINT NOT NULL,
			date DATETIME NOT NULL,
			original_amount NUMERIC NOT NULL DEFAULT 0,
			payable_amount NUMERIC NOT NULL DEFAULT 0,
			trade_amount NUMERIC NOT NULL DEFAULT 0,
			payment_status TEXT NOT NULL DEFAULT 'unpaid',
			payment_record_id BIGINT NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE payment_records (
			id BIGINT PRIMARY KEY,
			ref TEXT NOT NULL UNIQUE,
			payer_id BIGINT NOT NULL,
			payer_kind TEXT NOT NULL,
			app_id TEXT NOT NULL,
			subject TEXT NOT NULL,
			executor TEXT NOT NULL,
			remark TEXT NOT NULL DEFAULT '',
			payable_amount NUMERIC NOT NULL,
			balance_amount NUMERIC NOT NULL,
			coupon_amount NUMERIC NOT NULL,
			payment_method TEXT NOT NULL,
			status TEXT NOT NULL,
			statement_id BIGINT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE payment_coupon_usages (
			id BIGINT PRIMARY KEY,
			payment_record_id BIGINT NOT NULL,
			coupon_id BIGINT NOT NULL,
			amount NUMERIC NOT NULL,
			balance_before NUMERIC NOT NULL,
			balance_after NUMERIC NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	return db
}

type fixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	svc        paymentdomain.Service
	now        time.Time
	owner      ownerdomain.Owner
	providerID snowflake.ID
}

func newFixture(t *testing.T, nodeID int64) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	now := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	fc := clock.NewFakeClock(now)

	ownerSvc := ownerservice.NewService(ownerservice.Params{DB: db, Log: zap.NewNop(), GenID: node})
	couponSvc := couponservice.NewService(couponservice.Params{DB: db, Log: zap.NewNop()})
	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fc,
		Owners:  ownerSvc,
		Coupons: couponSvc,
	})

	userID := node.Generate()
	if err := db.Create(&ownerdomain.User{ID: userID, Username: "alice"}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	return &fixture{
		db:         db,
		node:       node,
		svc:        paymentSvc,
		now:        now,
		owner:      ownerdomain.Owner{Kind: ownerdomain.OwnerKindUser, ID: userID},
		providerID: node.Generate(),
	}
}

func (f *fixture) seedBalance(t *testing.T, amount string) {
	t.Helper()
	account := ownerdomain.BalanceAccount{
		ID:        f.node.Generate(),
		OwnerID:   f.owner.ID,
		OwnerKind: f.owner.Kind,
		Balance:   decimal.RequireFromString(amount),
	}
	if err := f.db.Create(&account).Error; err != nil {
		t.Fatalf("seed balance: %v", err)
	}
}

func (f *fixture) seedCoupon(t *testing.T, amount string, expiration time.Time) snowflake.ID {
	t.Helper()
	coupon := coupondomain.Coupon{
		ID:             f.node.Generate(),
		OwnerID:        f.owner.ID,
		OwnerKind:      f.owner.Kind,
		ProviderID:     f.providerID,
		FaceValue:      decimal.RequireFromString(amount),
		Balance:        decimal.RequireFromString(amount),
		EffectiveTime:  f.now.AddDate(0, -1, 0),
		ExpirationTime: expiration,
		Status:         coupondomain.CouponStatusAvailable,
	}
	if err := f.db.Create(&coupon).Error; err != nil {
		t.Fatalf("seed coupon: %v", err)
	}
	return coupon.ID
}

func (f *fixture) seedStatement(t *testing.T, payable string, status statementdomain.PaymentStatus) snowflake.ID {
	t.Helper()
	statement := statementdomain.DailyStatement{
		ID:             f.node.Generate(),
		OwnerID:        f.owner.ID,
		OwnerKind:      f.owner.Kind,
		ProviderID:     f.providerID,
		Date:           time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		OriginalAmount: decimal.RequireFromString(payable),
		PayableAmount:  decimal.RequireFromString(payable),
		PaymentStatus:  status,
	}
	if err := f.db.Create(&statement).Error; err != nil {
		t.Fatalf("seed statement: %v", err)
	}
	return statement.ID
}

func (f *fixture) balance(t *testing.T) string {
	t.Helper()
	var account ownerdomain.BalanceAccount
	if err := f.db.Where("owner_id = ? AND owner_kind = ?", f.owner.ID, f.owner.Kind).First(&account).Error; err != nil {
		t.Fatalf("load balance: %v", err)
	}
	return account.Balance.StringFixed(2)
}

func (f *fixture) statement(t *testing.T, id snowflake.ID) *statementdomain.DailyStatement {
	t.Helper()
	var statement statementdomain.DailyStatement
	if err := f.db.Where("id = ?", id).First(&statement).Error; err != nil {
		t.Fatalf("load statement: %v", err)
	}
	return &statement
}

func TestPayDailyStatementFromBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 13)

	f.seedBalance(t, "20.00")
	statementID := f.seedStatement(t, "15.00", statementdomain.PaymentStatusUnpaid)

	record, err := f.svc.PayDailyStatement(ctx, paymentdomain.PayRequest{
		StatementID: statementID,
		AppID:       "meterwise",
		Executor:    "test",
	})
	require.NoError(t, err)
	require.NotNil(t, record)
	require.NotEmpty(t, record.Ref)
	require.Equal(t, paymentdomain.PaymentMethodBalance, record.PaymentMethod)
	require.Equal(t, "15.00", record.PayableAmount.StringFixed(2))
	require.Equal(t, "-15.00", record.BalanceAmount.StringFixed(2))
	require.Equal(t, "0.00", record.CouponAmount.StringFixed(2))
	require.Empty(t, record.CouponUsages)

	require.Equal(t, "5.00", f.balance(t))

	statement := f.statement(t, statementID)
	require.Equal(t, statementdomain.PaymentStatusPaid, statement.PaymentStatus)
	require.Equal(t, "15.00", statement.TradeAmount.StringFixed(2))
	require.Equal(t, record.ID, statement.PaymentRecordID)
}

func TestPayDailyStatementDrawsCouponsFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 14)

	f.seedBalance(t, "20.00")
	couponID := f.seedCoupon(t, "10.00", f.now.AddDate(0, 1, 0))
	statementID := f.seedStatement(t, "15.00", statementdomain.PaymentStatusUnpaid)

	record, err := f.svc.PayDailyStatement(ctx, paymentdomain.PayRequest{
		StatementID: statementID,
		AppID:       "meterwise",
	})
	require.NoError(t, err)
	require.Equal(t, paymentdomain.PaymentMethodBalanceAndCoupon, record.PaymentMethod)
	require.Equal(t, "-10.00", record.CouponAmount.StringFixed(2))
	require.Equal(t, "-5.00", record.BalanceAmount.StringFixed(2))

	require.Len(t, record.CouponUsages, 1)
	require.Equal(t, couponID, record.CouponUsages[0].CouponID)
	require.Equal(t, "10.00", record.CouponUsages[0].Amount.StringFixed(2))
	require.Equal(t, "10.00", record.CouponUsages[0].BalanceBefore.StringFixed(2))
	require.Equal(t, "0.00", record.CouponUsages[0].BalanceAfter.StringFixed(2))

	var coupon coupondomain.Coupon
	require.NoError(t, f.db.Where("id = ?", couponID).First(&coupon).Error)
	require.Equal(t, "0.00", coupon.Balance.StringFixed(2))

	require.Equal(t, "15.00", f.balance(t))
}

func TestPayDailyStatementSpendsSoonestExpiringCouponFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 15)

	f.seedBalance(t, "20.00")
	lateID := f.seedCoupon(t, "50.00", f.now.AddDate(0, 6, 0))
	soonID := f.seedCoupon(t, "10.00", f.now.AddDate(0, 0, 3))
	statementID := f.seedStatement(t, "15.00", statementdomain.PaymentStatusUnpaid)

	record, err := f.svc.PayDailyStatement(ctx, paymentdomain.PayRequest{
		StatementID: statementID,
		AppID:       "meterwise",
	})
	require.NoError(t, err)
	require.Equal(t, paymentdomain.PaymentMethodCoupon, record.PaymentMethod)
	require.Equal(t, "-15.00", record.CouponAmount.StringFixed(2))
	require.Equal(t, "0.00", record.BalanceAmount.StringFixed(2))

	require.Len(t, record.CouponUsages, 2)
	require.Equal(t, soonID, record.CouponUsages[0].CouponID)
	require.Equal(t, "10.00", record.CouponUsages[0].Amount.StringFixed(2))
	require.Equal(t, lateID, record.CouponUsages[1].CouponID)
	require.Equal(t, "5.00", record.CouponUsages[1].Amount.StringFixed(2))

	require.Equal(t, "20.00", f.balance(t))
}

func TestPayDailyStatementSkipsUnusableCoupons(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 16)

	f.seedBalance(t, "20.00")
	expiredID := f.seedCoupon(t, "10.00", f.now.AddDate(0, 0, -1))
	statementID := f.seedStatement(t, "15.00", statementdomain.PaymentStatusUnpaid)

	record, err := f.svc.PayDailyStatement(ctx, paymentdomain.PayRequest{
		StatementID: statementID,
		AppID:       "meterwise",
	})
	require.NoError(t, err)
	require.Equal(t, paymentdomain.PaymentMethodBalance, record.PaymentMethod)
	require.Equal(t, "-15.00", record.BalanceAmount.StringFixed(2))

	var coupon coupondomain.Coupon
	require.NoError(t, f.db.Where("id = ?", expiredID).First(&coupon).Error)
	require.Equal(t, "10.00", coupon.Balance.StringFixed(2))
}

func TestPayDailyStatementConflictsOnSecondAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 17)

	f.seedBalance(t, "20.00")
	statementID := f.seedStatement(t, "15.00", statementdomain.PaymentStatusUnpaid)

	_, err := f.svc.PayDailyStatement(ctx, paymentdomain.PayRequest{StatementID: statementID, AppID: "meterwise"})
	require.NoError(t, err)

	_, err = f.svc.PayDailyStatement(ctx, paymentdomain.PayRequest{StatementID: statementID, AppID: "meterwise"})
	require.ErrorIs(t, err, paymentdomain.ErrStatementPaid)

	var count int64
	require.NoError(t, f.db.Model(&paymentdomain.PaymentRecord{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
	require.Equal(t, "5.00", f.balance(t))
}

func TestPayDailyStatementSettlesZeroPayableWithoutRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 18)

	statementID := f.seedStatement(t, "0.00", statementdomain.PaymentStatusUnpaid)

	record, err := f.svc.PayDailyStatement(ctx, paymentdomain.PayRequest{StatementID: statementID, AppID: "meterwise"})
	require.NoError(t, err)
	require.Nil(t, record)

	statement := f.statement(t, statementID)
	require.Equal(t, statementdomain.PaymentStatusPaid, statement.PaymentStatus)
	require.Equal(t, "0.00", statement.TradeAmount.StringFixed(2))
	require.Zero(t, statement.PaymentRecordID)

	var count int64
	require.NoError(t, f.db.Model(&paymentdomain.PaymentRecord{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestPayDailyStatementChargesPayableRaisedBeforeLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 26)

	f.seedBalance(t, "20.00")
	statementID := f.seedStatement(t, "0.00", statementdomain.PaymentStatusUnpaid)

	// A late fold-in lands right after the first read: the statement looks
	// zero-payable until the row is locked. The charge must come from the
	// locked row, not the stale one.
	raised := false
	err := f.db.Callback().Query().After("gorm:query").Register("late_fold_in", func(d *gorm.DB) {
		if raised || d.Statement.Table != "daily_statements" {
			return
		}
		raised = true
		if err := d.Session(&gorm.Session{NewDB: true}).Exec(
			"UPDATE daily_statements SET payable_amount = ?, original_amount = ? WHERE id = ?",
			"15.00", "15.00", statementID).Error; err != nil {
			t.Errorf("raise payable: %v", err)
		}
	})
	require.NoError(t, err)

	record, err := f.svc.PayDailyStatement(ctx, paymentdomain.PayRequest{StatementID: statementID, AppID: "meterwise"})
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, "15.00", record.PayableAmount.StringFixed(2))
	require.Equal(t, "-15.00", record.BalanceAmount.StringFixed(2))
	require.Equal(t, "5.00", f.balance(t))

	statement := f.statement(t, statementID)
	require.Equal(t, statementdomain.PaymentStatusPaid, statement.PaymentStatus)
	require.Equal(t, "15.00", statement.TradeAmount.StringFixed(2))
	require.Equal(t, record.ID, statement.PaymentRecordID)
}

func TestPayDailyStatementRollsBackCouponDrawsOnInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 19)

	f.seedBalance(t, "2.00")
	couponID := f.seedCoupon(t, "10.00", f.now.AddDate(0, 1, 0))
	statementID := f.seedStatement(t, "15.00", statementdomain.PaymentStatusUnpaid)

	_, err := f.svc.PayDailyStatement(ctx, paymentdomain.PayRequest{
		StatementID:          statementID,
		AppID:                "meterwise",
		RequireEnoughBalance: true,
	})
	require.ErrorIs(t, err, paymentdomain.ErrBalanceNotEnough)

	// The failed attempt left nothing behind.
	var coupon coupondomain.Coupon
	require.NoError(t, f.db.Where("id = ?", couponID).First(&coupon).Error)
	require.Equal(t, "10.00", coupon.Balance.StringFixed(2))
	require.Equal(t, "2.00", f.balance(t))

	statement := f.statement(t, statementID)
	require.Equal(t, statementdomain.PaymentStatusUnpaid, statement.PaymentStatus)

	var count int64
	require.NoError(t, f.db.Model(&paymentdomain.PaymentRecord{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestPayDailyStatementAllowsOverdraftByDefault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 20)

	f.seedBalance(t, "2.00")
	statementID := f.seedStatement(t, "15.00", statementdomain.PaymentStatusUnpaid)

	record, err := f.svc.PayDailyStatement(ctx, paymentdomain.PayRequest{StatementID: statementID, AppID: "meterwise"})
	require.NoError(t, err)
	require.Equal(t, "-15.00", record.BalanceAmount.StringFixed(2))
	require.Equal(t, "-13.00", f.balance(t))
}

func TestPayDailyStatementCreatesAccountOnFirstPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 21)

	statementID := f.seedStatement(t, "15.00", statementdomain.PaymentStatusUnpaid)

	record, err := f.svc.PayDailyStatement(ctx, paymentdomain.PayRequest{StatementID: statementID, AppID: "meterwise"})
	require.NoError(t, err)
	require.Equal(t, "-15.00", record.BalanceAmount.StringFixed(2))
	require.Equal(t, "-15.00", f.balance(t))
}

func TestPayDailyStatementRejectsCancelledStatement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 22)

	statementID := f.seedStatement(t, "15.00", statementdomain.PaymentStatusCancelled)

	_, err := f.svc.PayDailyStatement(ctx, paymentdomain.PayRequest{StatementID: statementID, AppID: "meterwise"})
	require.ErrorIs(t, err, paymentdomain.ErrStatementCancelled)
}

func TestPayDailyStatementRejectsUnknownOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 23)

	statement := statementdomain.DailyStatement{
		ID:            f.node.Generate(),
		OwnerID:       f.node.Generate(),
		OwnerKind:     ownerdomain.OwnerKindUser,
		ProviderID:    f.providerID,
		Date:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PayableAmount: decimal.RequireFromString("15.00"),
		PaymentStatus: statementdomain.PaymentStatusUnpaid,
	}
	require.NoError(t, f.db.Create(&statement).Error)

	_, err := f.svc.PayDailyStatement(ctx, paymentdomain.PayRequest{StatementID: statement.ID, AppID: "meterwise"})
	require.ErrorIs(t, err, ownerdomain.ErrOwnerNotFound)
}

func TestPayDailyStatementValidatesRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 24)

	_, err := f.svc.PayDailyStatement(ctx, paymentdomain.PayRequest{AppID: "meterwise"})
	require.ErrorIs(t, err, paymentdomain.ErrInvalidRequest)

	_, err = f.svc.PayDailyStatement(ctx, paymentdomain.PayRequest{StatementID: f.node.Generate()})
	require.ErrorIs(t, err, paymentdomain.ErrInvalidRequest)
}

func TestGetReturnsRecordWithUsages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 25)

	f.seedBalance(t, "20.00")
	f.seedCoupon(t, "10.00", f.now.AddDate(0, 1, 0))
	statementID := f.seedStatement(t, "15.00", statementdomain.PaymentStatusUnpaid)

	paid, err := f.svc.PayDailyStatement(ctx, paymentdomain.PayRequest{StatementID: statementID, AppID: "meterwise"})
	require.NoError(t, err)

	record, err := f.svc.Get(ctx, paid.ID)
	require.NoError(t, err)
	require.Equal(t, paid.Ref, record.Ref)
	require.Len(t, record.CouponUsages, 1)

	_, err = f.svc.Get(ctx, f.node.Generate())
	require.ErrorIs(t, err, paymentdomain.ErrPaymentNotFound)
}
