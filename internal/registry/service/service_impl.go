package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	registrydomain "github.com/meterwise/meterwise/internal/registry/domain"
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
	db        *gorm.DB
	log       *zap.Logger
	resources repository.Repository[registrydomain.Resource]
}

func NewService(p Params) registrydomain.Registry {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("registry.service"),
		resources: repository.ProvideStore[registrydomain.Resource](p.DB),
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*registrydomain.Resource, error) {
	resource, err := s.resources.FindOne(ctx, &registrydomain.Resource{ID: id})
	if err != nil {
		return nil, err
	}
	if resource == nil {
		return nil, registrydomain.ErrResourceNotFound
	}
	return resource, nil
}

func (s *Service) ListActive(ctx context.Context) ([]*registrydomain.Resource, error) {
	return s.resources.Find(ctx, &registrydomain.Resource{Active: true})
}

// ListArchives returns the change events overlapping [start, end),
// ordered by start time so callers can walk the window chronologically.
func (s *Service) ListArchives(ctx context.Context, resourceID snowflake.ID, start, end time.Time) ([]*registrydomain.ResourceArchive, error) {
	var archives []*registrydomain.ResourceArchive
	err := s.db.WithContext(ctx).
		Where("resource_id = ? AND end_time > ? AND start_time < ?", resourceID, start, end).
		Order("start_time ASC").
		Find(&archives).Error
	if err != nil {
		return nil, err
	}
	return archives, nil
}
