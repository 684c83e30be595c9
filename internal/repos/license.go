package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/types"
)

type LicenseRepo interface {
	ListAll(ctx context.Context, tx *gorm.DB) ([]*types.License, error)
	GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.License, error)
}

type licenseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLicenseRepo(db *gorm.DB, baseLog *logger.Logger) LicenseRepo {
	return &licenseRepo{db: db, log: baseLog.With("repo", "LicenseRepo")}
}

func (r *licenseRepo) ListAll(ctx context.Context, tx *gorm.DB) ([]*types.License, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.License
	if err := transaction.WithContext(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *licenseRepo) GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.License, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var lic types.License
	err := transaction.WithContext(ctx).
		Where("license_name = ?", name).
		Limit(1).
		Find(&lic).Error
	if err != nil {
		return nil, err
	}
	if lic.ID == 0 {
		return nil, nil
	}
	return &lic, nil
}
