package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/meterwise/meterwise/internal/clock"
	"github.com/meterwise/meterwise/internal/config"
	"github.com/meterwise/meterwise/internal/coupon"
	"github.com/meterwise/meterwise/internal/metering"
	"github.com/meterwise/meterwise/internal/migration"
	"github.com/meterwise/meterwise/internal/observability"
	"github.com/meterwise/meterwise/internal/owner"
	"github.com/meterwise/meterwise/internal/payment"
	"github.com/meterwise/meterwise/internal/pricing"
	"github.com/meterwise/meterwise/internal/registry"
	"github.com/meterwise/meterwise/internal/server"
	"github.com/meterwise/meterwise/internal/settlement"
	"github.com/meterwise/meterwise/internal/statement"
	"github.com/meterwise/meterwise/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		owner.Module,
		registry.Module,
		pricing.Module,
		coupon.Module,
		metering.Module,
		statement.Module,
		payment.Module,
		settlement.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
