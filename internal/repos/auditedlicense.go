package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/types"
)

type AuditedLicenseRepo interface {
	GetByDescriptions(ctx context.Context, tx *gorm.DB, descriptions []string) ([]*types.AuditedSpecialPermissionsLicense, error)
	Create(ctx context.Context, tx *gorm.DB, audits []*types.AuditedSpecialPermissionsLicense) ([]*types.AuditedSpecialPermissionsLicense, error)
}

type auditedLicenseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAuditedLicenseRepo(db *gorm.DB, baseLog *logger.Logger) AuditedLicenseRepo {
	return &auditedLicenseRepo{db: db, log: baseLog.With("repo", "AuditedLicenseRepo")}
}

func (r *auditedLicenseRepo) GetByDescriptions(ctx context.Context, tx *gorm.DB, descriptions []string) ([]*types.AuditedSpecialPermissionsLicense, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.AuditedSpecialPermissionsLicense
	if len(descriptions) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("description IN ?", descriptions).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *auditedLicenseRepo) Create(ctx context.Context, tx *gorm.DB, audits []*types.AuditedSpecialPermissionsLicense) ([]*types.AuditedSpecialPermissionsLicense, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(audits) == 0 {
		return []*types.AuditedSpecialPermissionsLicense{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&audits).Error; err != nil {
		return nil, err
	}
	return audits, nil
}
