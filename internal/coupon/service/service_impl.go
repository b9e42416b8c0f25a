package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	coupondomain "github.com/meterwise/meterwise/internal/coupon/domain"
	ownerdomain "github.com/meterwise/meterwise/internal/owner/domain"
	"github.com/meterwise/meterwise/pkg/db"
	"github.com/meterwise/meterwise/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	coupons repository.Repository[coupondomain.Coupon]
}

func NewService(p Params) coupondomain.Store {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("coupon.service"),
		coupons: repository.ProvideStore[coupondomain.Coupon](p.DB),
	}
}

func (s *Service) List(ctx context.Context, o ownerdomain.Owner) ([]*coupondomain.Coupon, error) {
	if !o.Kind.Valid() || o.ID == 0 {
		return nil, ownerdomain.ErrInvalidOwnerKind
	}
	return s.coupons.Find(ctx, &coupondomain.Coupon{OwnerID: o.ID, OwnerKind: o.Kind})
}

// ListUsableTx returns the owner's drawable coupons for one provider, locked
// inside the caller's transaction. Soonest-expiring coupons come first so the
// waterfall spends credit before it lapses.
func (s *Service) ListUsableTx(ctx context.Context, tx *gorm.DB, o ownerdomain.Owner, providerID snowflake.ID, now time.Time) ([]*coupondomain.Coupon, error) {
	var coupons []*coupondomain.Coupon
	err := db.LockForUpdate(tx.WithContext(ctx)).
		Where("owner_id = ? AND owner_kind = ? AND provider_id = ?", o.ID, o.Kind, providerID).
		Where("status = ?", coupondomain.CouponStatusAvailable).
		Where("effective_time <= ? AND expiration_time > ?", now, now).
		Where("balance > 0").
		Order("expiration_time ASC").
		Find(&coupons).Error
	if err != nil {
		return nil, err
	}
	return coupons, nil
}
