package statement

import (
	"github.com/meterwise/meterwise/internal/statement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("statement.service",
	fx.Provide(service.NewService),
)
