package service

import (
	"context"

	pricingdomain "github.com/meterwise/meterwise/internal/pricing/domain"
	registrydomain "github.com/meterwise/meterwise/internal/registry/domain"
	"github.com/meterwise/meterwise/pkg/repository"
	"github.com/shopspring/decimal"
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
	db     *gorm.DB
	log    *zap.Logger
	prices repository.Repository[pricingdomain.Price]
}

func NewService(p Params) pricingdomain.Pricer {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("pricing.service"),
		prices: repository.ProvideStore[pricingdomain.Price](p.DB),
	}
}

var hundred = decimal.NewFromInt(100)

// PriceFor computes the original and billable amounts for one snapshot over
// elapsed hours. Amounts round half-up to two decimal places.
func (s *Service) PriceFor(ctx context.Context, snapshot registrydomain.Snapshot, hours float64) (pricingdomain.Quote, error) {
	price, err := s.prices.FindOne(ctx, &pricingdomain.Price{Kind: snapshot.Kind})
	if err != nil {
		return pricingdomain.Quote{}, err
	}
	if price == nil {
		return pricingdomain.Quote{}, pricingdomain.ErrPriceNotFound
	}

	elapsed := decimal.NewFromFloat(hours)
	original := decimal.Sum(
		price.CPUHour.Mul(decimal.NewFromInt(int64(snapshot.CPUCores))),
		price.RAMGiBHour.Mul(decimal.NewFromInt(int64(snapshot.RAMGiB))),
		price.DiskGiBHour.Mul(decimal.NewFromInt(int64(snapshot.DiskGiB))),
	).Mul(elapsed)

	trade := original
	if price.DiscountPercent > 0 {
		trade = original.Mul(hundred.Sub(decimal.NewFromInt(price.DiscountPercent))).Div(hundred)
	}

	return pricingdomain.Quote{
		OriginalAmount: original.Round(2),
		TradeAmount:    trade.Round(2),
	}, nil
}
