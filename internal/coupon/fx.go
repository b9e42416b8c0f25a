package coupon

import (
	"github.com/meterwise/meterwise/internal/coupon/service"
	"go.uber.org/fx"
)

var Module = fx.Module("coupon.service",
	fx.Provide(service.NewService),
)
