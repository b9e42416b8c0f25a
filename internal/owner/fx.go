package owner

import (
	"github.com/meterwise/meterwise/internal/owner/service"
	"go.uber.org/fx"
)

var Module = fx.Module("owner.service",
	fx.Provide(service.NewService),
)
