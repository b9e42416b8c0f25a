package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	coupondomain "github.com/meterwise/meterwise/internal/coupon/domain"
	ownerdomain "github.com/meterwise/meterwise/internal/owner/domain"
	pricingdomain "github.com/meterwise/meterwise/internal/pricing/domain"
	registrydomain "github.com/meterwise/meterwise/internal/registry/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	demoUsername = "demo"
	demoVoName   = "demo-vo"
)

// EnsureDemoData seeds a local-dev dataset: a user, a VO, price tables for
// every resource kind, a few postpaid resources, a funded balance, and a
// coupon. Safe to call on every boot; existing rows are left alone.
func EnsureDemoData(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := ensureDemoUserTx(ctx, tx, node)
		if err != nil {
			return err
		}
		if err := ensureDemoVoTx(ctx, tx, node); err != nil {
			return err
		}
		if err := ensurePricesTx(ctx, tx, node); err != nil {
			return err
		}
		providerID, err := ensureDemoResourcesTx(ctx, tx, node, user)
		if err != nil {
			return err
		}
		if err := ensureDemoBalanceTx(ctx, tx, node, user); err != nil {
			return err
		}
		return ensureDemoCouponTx(ctx, tx, node, user, providerID)
	})
}

func ensureDemoUserTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (*ownerdomain.User, error) {
	var user ownerdomain.User
	err := tx.WithContext(ctx).Where("username = ?", demoUsername).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = ownerdomain.User{
		ID:       node.Generate(),
		Username: demoUsername,
	}
	if err := tx.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func ensureDemoVoTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	var vo ownerdomain.VoGroup
	err := tx.WithContext(ctx).Where("name = ?", demoVoName).First(&vo).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	vo = ownerdomain.VoGroup{
		ID:   node.Generate(),
		Name: demoVoName,
	}
	return tx.WithContext(ctx).Create(&vo).Error
}

func ensurePricesTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	prices := []pricingdomain.Price{
		{
			Kind:        registrydomain.ResourceKindServer,
			CPUHour:     decimal.RequireFromString("0.04"),
			RAMGiBHour:  decimal.RequireFromString("0.01"),
			DiskGiBHour: decimal.RequireFromString("0.0005"),
		},
		{
			Kind:        registrydomain.ResourceKindDisk,
			DiskGiBHour: decimal.RequireFromString("0.0005"),
		},
		{
			Kind:        registrydomain.ResourceKindBucket,
			DiskGiBHour: decimal.RequireFromString("0.0003"),
		},
		{
			Kind:       registrydomain.ResourceKindWebsite,
			CPUHour:    decimal.RequireFromString("0.01"),
			RAMGiBHour: decimal.RequireFromString("0.005"),
		},
	}

	for _, price := range prices {
		var existing pricingdomain.Price
		err := tx.WithContext(ctx).Where("kind = ?", price.Kind).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		price.ID = node.Generate()
		if err := tx.WithContext(ctx).Create(&price).Error; err != nil {
			return err
		}
	}
	return nil
}

func ensureDemoResourcesTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, user *ownerdomain.User) (snowflake.ID, error) {
	var existing registrydomain.Resource
	err := tx.WithContext(ctx).Where("owner_id = ?", user.ID).First(&existing).Error
	if err == nil {
		return existing.ProviderID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	providerID := node.Generate()
	resources := []registrydomain.Resource{
		{
			ID:         node.Generate(),
			Kind:       registrydomain.ResourceKindServer,
			OwnerID:    user.ID,
			OwnerKind:  ownerdomain.OwnerKindUser,
			ProviderID: providerID,
			PayType:    registrydomain.PayTypePostpaid,
			CPUCores:   2,
			RAMGiB:     4,
			DiskGiB:    50,
			Active:     true,
		},
		{
			ID:         node.Generate(),
			Kind:       registrydomain.ResourceKindDisk,
			OwnerID:    user.ID,
			OwnerKind:  ownerdomain.OwnerKindUser,
			ProviderID: providerID,
			PayType:    registrydomain.PayTypePostpaid,
			DiskGiB:    200,
			Active:     true,
		},
	}
	for i := range resources {
		if err := tx.WithContext(ctx).Create(&resources[i]).Error; err != nil {
			return 0, err
		}
	}
	return providerID, nil
}

func ensureDemoBalanceTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, user *ownerdomain.User) error {
	var account ownerdomain.BalanceAccount
	err := tx.WithContext(ctx).
		Where("owner_id = ? AND owner_kind = ?", user.ID, ownerdomain.OwnerKindUser).
		First(&account).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	account = ownerdomain.BalanceAccount{
		ID:        node.Generate(),
		OwnerID:   user.ID,
		OwnerKind: ownerdomain.OwnerKindUser,
		Balance:   decimal.RequireFromString("100.00"),
	}
	return tx.WithContext(ctx).Create(&account).Error
}

func ensureDemoCouponTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, user *ownerdomain.User, providerID snowflake.ID) error {
	var coupon coupondomain.Coupon
	err := tx.WithContext(ctx).
		Where("owner_id = ? AND owner_kind = ?", user.ID, ownerdomain.OwnerKindUser).
		First(&coupon).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	faceValue := decimal.RequireFromString("10.00")
	coupon = coupondomain.Coupon{
		ID:             node.Generate(),
		OwnerID:        user.ID,
		OwnerKind:      ownerdomain.OwnerKindUser,
		ProviderID:     providerID,
		FaceValue:      faceValue,
		Balance:        faceValue,
		EffectiveTime:  now,
		ExpirationTime: now.AddDate(0, 1, 0),
		Status:         coupondomain.CouponStatusAvailable,
	}
	return tx.WithContext(ctx).Create(&coupon).Error
}
