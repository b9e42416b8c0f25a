package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	ownerdomain "github.com/meterwise/meterwise/internal/owner/domain"
	"github.com/meterwise/meterwise/pkg/db"
	"github.com/meterwise/meterwise/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	users    repository.Repository[ownerdomain.User]
	vos      repository.Repository[ownerdomain.VoGroup]
	accounts repository.Repository[ownerdomain.BalanceAccount]
}

func NewService(p Params) ownerdomain.Directory {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("owner.service"),
		genID:    p.GenID,
		users:    repository.ProvideStore[ownerdomain.User](p.DB),
		vos:      repository.ProvideStore[ownerdomain.VoGroup](p.DB),
		accounts: repository.ProvideStore[ownerdomain.BalanceAccount](p.DB),
	}
}

// Resolve verifies the owner exists in the directory.
func (s *Service) Resolve(ctx context.Context, o ownerdomain.Owner) error {
	if !o.Kind.Valid() || o.ID == 0 {
		return ownerdomain.ErrInvalidOwnerKind
	}

	switch o.Kind {
	case ownerdomain.OwnerKindUser:
		user, err := s.users.FindOne(ctx, &ownerdomain.User{ID: o.ID})
		if err != nil {
			return err
		}
		if user == nil {
			return ownerdomain.ErrOwnerNotFound
		}
	case ownerdomain.OwnerKindVo:
		vo, err := s.vos.FindOne(ctx, &ownerdomain.VoGroup{ID: o.ID})
		if err != nil {
			return err
		}
		if vo == nil {
			return ownerdomain.ErrOwnerNotFound
		}
	}
	return nil
}

// EnsureAccount returns the owner's balance account, creating a zero-balance
// row on first reference. Creation races resolve via the unique index.
func (s *Service) EnsureAccount(ctx context.Context, o ownerdomain.Owner) (*ownerdomain.BalanceAccount, error) {
	if !o.Kind.Valid() || o.ID == 0 {
		return nil, ownerdomain.ErrInvalidOwnerKind
	}

	account, err := s.accounts.FindOne(ctx, &ownerdomain.BalanceAccount{OwnerID: o.ID, OwnerKind: o.Kind})
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}

	created := &ownerdomain.BalanceAccount{
		ID:        s.genID.Generate(),
		OwnerID:   o.ID,
		OwnerKind: o.Kind,
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(created).Error; err != nil && !db.IsDuplicateKeyErr(err) {
		return nil, err
	}

	return s.accounts.FindOne(ctx, &ownerdomain.BalanceAccount{OwnerID: o.ID, OwnerKind: o.Kind})
}

// GetAccount returns the owner's balance account or nil when none exists yet.
func (s *Service) GetAccount(ctx context.Context, o ownerdomain.Owner) (*ownerdomain.BalanceAccount, error) {
	if !o.Kind.Valid() || o.ID == 0 {
		return nil, ownerdomain.ErrInvalidOwnerKind
	}
	return s.accounts.FindOne(ctx, &ownerdomain.BalanceAccount{OwnerID: o.ID, OwnerKind: o.Kind})
}

// LockAccountTx loads the owner's balance account inside the caller's
// transaction with a row lock, creating a zero-balance row first when
// absent. Callers mutate the returned row and save it before committing.
func (s *Service) LockAccountTx(ctx context.Context, tx *gorm.DB, o ownerdomain.Owner) (*ownerdomain.BalanceAccount, error) {
	if !o.Kind.Valid() || o.ID == 0 {
		return nil, ownerdomain.ErrInvalidOwnerKind
	}

	lockAccount := func() (*ownerdomain.BalanceAccount, error) {
		var account ownerdomain.BalanceAccount
		err := db.LockForUpdate(tx.WithContext(ctx)).
			Where("owner_id = ? AND owner_kind = ?", o.ID, o.Kind).
			First(&account).Error
		if err != nil {
			return nil, err
		}
		return &account, nil
	}

	account, err := lockAccount()
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	created := &ownerdomain.BalanceAccount{
		ID:        s.genID.Generate(),
		OwnerID:   o.ID,
		OwnerKind: o.Kind,
	}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(created).Error; err != nil && !db.IsDuplicateKeyErr(err) {
		return nil, err
	}

	return lockAccount()
}
