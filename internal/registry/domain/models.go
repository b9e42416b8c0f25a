package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ownerdomain "github.com/meterwise/meterwise/internal/owner/domain"
)

var ErrResourceNotFound = errors.New("resource_not_found")

// PayType is the billing mode of a resource. Postpaid resources are metered
// and settled through daily statements; prepaid resources are paid upfront
// via orders and only metered for display.
type PayType string

const (
	PayTypePrepaid  PayType = "prepaid"
	PayTypePostpaid PayType = "postpaid"
)

// Valid reports whether the pay type is a known billing mode.
func (t PayType) Valid() bool {
	return t == PayTypePrepaid || t == PayTypePostpaid
}

// ResourceKind discriminates metered resource families sharing one table.
type ResourceKind string

const (
	ResourceKindServer  ResourceKind = "server"
	ResourceKindDisk    ResourceKind = "disk"
	ResourceKindBucket  ResourceKind = "bucket"
	ResourceKindWebsite ResourceKind = "website"
)

// Resource is a billable unit tracked by the registry.
type Resource struct {
	ID         snowflake.ID          `gorm:"primaryKey"`
	Kind       ResourceKind          `gorm:"type:text;not null"`
	OwnerID    snowflake.ID          `gorm:"not null"`
	OwnerKind  ownerdomain.OwnerKind `gorm:"type:text;not null"`
	ProviderID snowflake.ID          `gorm:"not null"`
	PayType    PayType               `gorm:"type:text;not null"`
	CPUCores   int                   `gorm:"not null;default:0"`
	RAMGiB     int                   `gorm:"column:ram_gib;not null;default:0"`
	DiskGiB    int                   `gorm:"column:disk_gib;not null;default:0"`
	Active     bool                  `gorm:"not null;default:true;index"`
	CreatedAt  time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Resource) TableName() string { return "resources" }

// Owner returns the owning party of the resource.
func (r *Resource) Owner() ownerdomain.Owner {
	return ownerdomain.Owner{Kind: r.OwnerKind, ID: r.OwnerID}
}

// Snapshot captures the configuration in force during a metering interval.
func (r *Resource) Snapshot() Snapshot {
	return Snapshot{
		Kind:     r.Kind,
		PayType:  r.PayType,
		CPUCores: r.CPUCores,
		RAMGiB:   r.RAMGiB,
		DiskGiB:  r.DiskGiB,
	}
}

// ResourceArchive is a provider-recorded change event. The stored
// configuration was in force during [StartTime, EndTime).
type ResourceArchive struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	ResourceID snowflake.ID `gorm:"not null;index:ix_resource_archives_resource,priority:1"`
	PayType    PayType      `gorm:"type:text;not null"`
	CPUCores   int          `gorm:"not null;default:0"`
	RAMGiB     int          `gorm:"column:ram_gib;not null;default:0"`
	DiskGiB    int          `gorm:"column:disk_gib;not null;default:0"`
	StartTime  time.Time    `gorm:"not null;index:ix_resource_archives_resource,priority:2"`
	EndTime    time.Time    `gorm:"not null"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ResourceArchive) TableName() string { return "resource_archives" }

// Snapshot captures the archived configuration.
func (a *ResourceArchive) Snapshot(kind ResourceKind) Snapshot {
	return Snapshot{
		Kind:     kind,
		PayType:  a.PayType,
		CPUCores: a.CPUCores,
		RAMGiB:   a.RAMGiB,
		DiskGiB:  a.DiskGiB,
	}
}

// Snapshot is the pricing-relevant view of a resource at a point in time.
type Snapshot struct {
	Kind     ResourceKind
	PayType  PayType
	CPUCores int
	RAMGiB   int
	DiskGiB  int
}

// Registry lists the active resource set and its archive history.
type Registry interface {
	Get(ctx context.Context, id snowflake.ID) (*Resource, error)
	ListActive(ctx context.Context) ([]*Resource, error)
	ListArchives(ctx context.Context, resourceID snowflake.ID, start, end time.Time) ([]*ResourceArchive, error)
}
