package registry

import (
	"github.com/meterwise/meterwise/internal/registry/service"
	"go.uber.org/fx"
)

var Module = fx.Module("registry.service",
	fx.Provide(service.NewService),
)
