package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/meterwise/meterwise/internal/clock"
	meteringdomain "github.com/meterwise/meterwise/internal/metering/domain"
	meteringservice "github.com/meterwise/meterwise/internal/metering/service"
	ownerdomain "github.com/meterwise/meterwise/internal/owner/domain"
	pricingdomain "github.com/meterwise/meterwise/internal/pricing/domain"
	pricingservice "github.com/meterwise/meterwise/internal/pricing/service"
	registrydomain "github.com/meterwise/meterwise/internal/registry/domain"
	registryservice "github.com/meterwise/meterwise/internal/registry/service"
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
		`CREATE TABLE resources (
			id BIGINT PRIMARY KEY,
			kind TEXT NOT NULL,
			owner_id BIGINT NOT NULL,
			owner_kind TEXT NOT NULL,
			provider_id BIGINT NOT NULL,
			pay_type TEXT NOT NULL,
			cpu_cores INT NOT NULL DEFAULT 0,
			ram_gib INT NOT NULL DEFAULT 0,
			disk_gib INT NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE resource_archives (
			id BIGINT PRIMARY KEY,
			resource_id BIGINT NOT NULL,
			pay_type TEXT NOT NULL,
			cpu_cores INT NOT NULL DEFAULT 0,
			ram_gib INT NOT NULL DEFAULT 0,
			disk_gib INT NOT NULL DEFAULT 0,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE prices (
			id BIGINT PRIMARY KEY,
			kind TEXT NOT NULL UNIQUE,
			cpu_hour NUMERIC NOT NULL DEFAULT 0,
			ram_gib_hour NUMERIC NOT NULL DEFAULT 0,
			disk_gib_hour NUMERIC NOT NULL DEFAULT 0,
			discount_percent BIGINT NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE usage_records (
			id BIGINT PRIMARY KEY,
			resource_id BIGINT NOT NULL,
			resource_kind TEXT NOT NULL,
			owner_id BIGINT NOT NULL,
			owner_kind TEXT NOT NULL,
			provider_id BIGINT NOT NULL,
			date DATETIME NOT NULL,
			cpu_hours REAL NOT NULL DEFAULT 0,
			ram_gib_hours REAL NOT NULL DEFAULT 0,
			disk_gib_hours REAL NOT NULL DEFAULT 0,
			original_amount NUMERIC NOT NULL DEFAULT 0,
			trade_amount NUMERIC NOT NULL DEFAULT 0,
			pay_type TEXT NOT NULL,
			daily_statement_id BIGINT NOT NULL DEFAULT 0,
			metadata TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX ux_usage_records_resource_date ON usage_records(resource_id, date)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	return db
}

func newMeasurer(t *testing.T, db *gorm.DB, fc clock.Clock) meteringdomain.Service {
	t.Helper()

	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	registrySvc := registryservice.NewService(registryservice.Params{DB: db, Log: zap.NewNop()})
	pricingSvc := pricingservice.NewService(pricingservice.Params{DB: db, Log: zap.NewNop()})

	return meteringservice.NewService(meteringservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fc,
		Registry: registrySvc,
		Pricer:   pricingSvc,
	})
}

func seedPrice(t *testing.T, db *gorm.DB, node *snowflake.Node, kind registrydomain.ResourceKind, cpu, ram, disk string) {
	t.Helper()
	price := pricingdomain.Price{
		ID:          node.Generate(),
		Kind:        kind,
		CPUHour:     decimal.RequireFromString(cpu),
		RAMGiBHour:  decimal.RequireFromString(ram),
		DiskGiBHour: decimal.RequireFromString(disk),
	}
	if err := db.Create(&price).Error; err != nil {
		t.Fatalf("seed price: %v", err)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	now := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
	fc := clock.NewFakeClock(now)
	svc := newMeasurer(t, db, fc)

	seedPrice(t, db, node, registrydomain.ResourceKindServer, "0.04", "0.01", "0.0005")

	resource := registrydomain.Resource{
		ID:         node.Generate(),
		Kind:       registrydomain.ResourceKindServer,
		OwnerID:    node.Generate(),
		OwnerKind:  ownerdomain.OwnerKindUser,
		ProviderID: node.Generate(),
		PayType:    registrydomain.PayTypePostpaid,
		CPUCores:   2,
		RAMGiB:     4,
		DiskGiB:    50,
		Active:     true,
		CreatedAt:  now.AddDate(0, 0, -10),
	}
	require.NoError(t, db.Create(&resource).Error)

	first, err := svc.Run(ctx, meteringdomain.RunRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, first.Count)
	require.Equal(t, 0, first.Skipped)

	second, err := svc.Run(ctx, meteringdomain.RunRequest{})
	require.NoError(t, err)
	require.Equal(t, 0, second.Count)
	require.Equal(t, 1, second.Skipped)

	var records []meteringdomain.UsageRecord
	require.NoError(t, db.Find(&records).Error)
	require.Len(t, records, 1)

	// 2 cores * 0.04 + 4 GiB * 0.01 + 50 GiB * 0.0005 = 0.145/h over 24h.
	require.Equal(t, "3.48", records[0].OriginalAmount.StringFixed(2))
	require.Equal(t, "3.48", records[0].TradeAmount.StringFixed(2))
	require.InDelta(t, 48.0, records[0].CPUHours, 1e-9)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), records[0].Date.UTC())
}

func TestRunClipsWindowToResourceCreation(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	node, err := snowflake.NewNode(4)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	now := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
	fc := clock.NewFakeClock(now)
	svc := newMeasurer(t, db, fc)

	seedPrice(t, db, node, registrydomain.ResourceKindServer, "0.04", "0.01", "0.0005")

	resource := registrydomain.Resource{
		ID:         node.Generate(),
		Kind:       registrydomain.ResourceKindServer,
		OwnerID:    node.Generate(),
		OwnerKind:  ownerdomain.OwnerKindUser,
		ProviderID: node.Generate(),
		PayType:    registrydomain.PayTypePostpaid,
		CPUCores:   2,
		RAMGiB:     4,
		DiskGiB:    50,
		Active:     true,
		// Created halfway through the metering window.
		CreatedAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(&resource).Error)

	summary, err := svc.Run(ctx, meteringdomain.RunRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Count)

	var record meteringdomain.UsageRecord
	require.NoError(t, db.First(&record).Error)
	require.Equal(t, "1.74", record.OriginalAmount.StringFixed(2))
	require.InDelta(t, 24.0, record.CPUHours, 1e-9)
}

func TestRunSkipsResourcesCreatedAfterWindow(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	node, err := snowflake.NewNode(5)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	now := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
	fc := clock.NewFakeClock(now)
	svc := newMeasurer(t, db, fc)

	seedPrice(t, db, node, registrydomain.ResourceKindServer, "0.04", "0.01", "0.0005")

	resource := registrydomain.Resource{
		ID:         node.Generate(),
		Kind:       registrydomain.ResourceKindServer,
		OwnerID:    node.Generate(),
		OwnerKind:  ownerdomain.OwnerKindUser,
		ProviderID: node.Generate(),
		PayType:    registrydomain.PayTypePostpaid,
		CPUCores:   2,
		Active:     true,
		CreatedAt:  now,
	}
	require.NoError(t, db.Create(&resource).Error)

	summary, err := svc.Run(ctx, meteringdomain.RunRequest{})
	require.NoError(t, err)
	require.Equal(t, 0, summary.Count)
	require.Equal(t, 1, summary.Skipped)

	var count int64
	require.NoError(t, db.Model(&meteringdomain.UsageRecord{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestRunSplitsWindowOnArchiveEvents(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	node, err := snowflake.NewNode(6)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	now := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
	fc := clock.NewFakeClock(now)
	svc := newMeasurer(t, db, fc)

	seedPrice(t, db, node, registrydomain.ResourceKindServer, "1.00", "0", "0")

	resource := registrydomain.Resource{
		ID:         node.Generate(),
		Kind:       registrydomain.ResourceKindServer,
		OwnerID:    node.Generate(),
		OwnerKind:  ownerdomain.OwnerKindUser,
		ProviderID: node.Generate(),
		PayType:    registrydomain.PayTypePostpaid,
		CPUCores:   2,
		Active:     true,
		CreatedAt:  now.AddDate(0, 0, -10),
	}
	require.NoError(t, db.Create(&resource).Error)

	// The resource ran with one core during the first half of the window.
	archive := registrydomain.ResourceArchive{
		ID:         node.Generate(),
		ResourceID: resource.ID,
		PayType:    registrydomain.PayTypePostpaid,
		CPUCores:   1,
		StartTime:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(&archive).Error)

	summary, err := svc.Run(ctx, meteringdomain.RunRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Count)

	var record meteringdomain.UsageRecord
	require.NoError(t, db.First(&record).Error)
	// 12h at 1 core + 12h at 2 cores.
	require.InDelta(t, 36.0, record.CPUHours, 1e-9)
	require.Equal(t, "36.00", record.OriginalAmount.StringFixed(2))
}

func TestRunRejectsOpenDay(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	now := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
	fc := clock.NewFakeClock(now)
	svc := newMeasurer(t, db, fc)

	today := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	_, err := svc.Run(ctx, meteringdomain.RunRequest{Day: &today})
	require.ErrorIs(t, err, meteringdomain.ErrInvalidDate)
}

func TestRunIsolatesPerResourceFailures(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	now := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
	fc := clock.NewFakeClock(now)
	svc := newMeasurer(t, db, fc)

	// No price row for disks, so the disk resource fails to price.
	seedPrice(t, db, node, registrydomain.ResourceKindServer, "0.04", "0.01", "0.0005")

	ownerID := node.Generate()
	providerID := node.Generate()
	resources := []registrydomain.Resource{
		{
			ID:         node.Generate(),
			Kind:       registrydomain.ResourceKindDisk,
			OwnerID:    ownerID,
			OwnerKind:  ownerdomain.OwnerKindUser,
			ProviderID: providerID,
			PayType:    registrydomain.PayTypePostpaid,
			DiskGiB:    100,
			Active:     true,
			CreatedAt:  now.AddDate(0, 0, -10),
		},
		{
			ID:         node.Generate(),
			Kind:       registrydomain.ResourceKindServer,
			OwnerID:    ownerID,
			OwnerKind:  ownerdomain.OwnerKindUser,
			ProviderID: providerID,
			PayType:    registrydomain.PayTypePostpaid,
			CPUCores:   2,
			Active:     true,
			CreatedAt:  now.AddDate(0, 0, -10),
		},
	}
	for i := range resources {
		require.NoError(t, db.Create(&resources[i]).Error)
	}

	summary, err := svc.Run(ctx, meteringdomain.RunRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Count)
	require.Equal(t, 1, summary.Failed)

	_, err = svc.Run(ctx, meteringdomain.RunRequest{FailFast: true})
	require.ErrorIs(t, err, pricingdomain.ErrPriceNotFound)
}
