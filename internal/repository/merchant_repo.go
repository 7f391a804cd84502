package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"delivery_erp_v1_202608/internal/model"
)

// ==================== 过滤条件 ====================

// MerchantFilter 商户过滤条件
type MerchantFilter struct {
	PrincipalID string
	Keyword     string
	Available   *bool
	Page        int
	PageSize    int
}

// ==================== 接口定义 ====================

// MerchantRepository 商户仓储接口
type MerchantRepository interface {
	Create(ctx context.Context, merchant *model.Merchant) error
	GetByID(ctx context.Context, id int64) (*model.Merchant, error)
	GetByPlatformID(ctx context.Context, principalID, platformMerchantID string) (*model.Merchant, error)
	List(ctx context.Context, filter MerchantFilter) ([]model.Merchant, int64, error)
	ListByPrincipal(ctx context.Context, principalID string) ([]model.Merchant, error)
	UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error
	UpdateAvailability(ctx context.Context, id int64, available bool, syncAt time.Time) error
}

// ==================== 仓储实现 ====================

type merchantRepo struct {
	db *gorm.DB
}

// NewMerchantRepository 创建商户仓储
func NewMerchantRepository(db *gorm.DB) MerchantRepository {
	return &merchantRepo{db: db}
}

func (r *merchantRepo) Create(ctx context.Context, merchant *model.Merchant) error {
	return r.db.WithContext(ctx).Create(merchant).Error
}

func (r *merchantRepo) GetByID(ctx context.Context, id int64) (*model.Merchant, error) {
	var merchant model.Merchant
	if err := r.db.WithContext(ctx).First(&merchant, id).Error; err != nil {
		return nil, err
	}
	return &merchant, nil
}

func (r *merchantRepo) GetByPlatformID(ctx context.Context, principalID, platformMerchantID string) (*model.Merchant, error) {
	var merchant model.Merchant
	err := r.db.WithContext(ctx).
		Where("principal_id = ? AND platform_merchant_id = ?", principalID, platformMerchantID).
		First(&merchant).Error
	if err != nil {
		return nil, err
	}
	return &merchant, nil
}

func (r *merchantRepo) List(ctx context.Context, filter MerchantFilter) ([]model.Merchant, int64, error) {
	var merchants []model.Merchant
	var total int64

	db := r.db.WithContext(ctx).Model(&model.Merchant{})

	if filter.PrincipalID != "" {
		db = db.Where("principal_id = ?", filter.PrincipalID)
	}
	if filter.Keyword != "" {
		db = db.Where("name LIKE ? OR corporate_name LIKE ?",
			"%"+filter.Keyword+"%", "%"+filter.Keyword+"%")
	}
	if filter.Available != nil {
		db = db.Where("available = ?", *filter.Available)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Page > 0 && filter.PageSize > 0 {
		db = db.Offset((filter.Page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	err := db.Order("id asc").Find(&merchants).Error
	return merchants, total, err
}

func (r *merchantRepo) ListByPrincipal(ctx context.Context, principalID string) ([]model.Merchant, error) {
	var merchants []model.Merchant
	err := r.db.WithContext(ctx).
		Where("principal_id = ?", principalID).
		Order("id asc").
		Find(&merchants).Error
	return merchants, err
}

func (r *merchantRepo) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&model.Merchant{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *merchantRepo) UpdateAvailability(ctx context.Context, id int64, available bool, syncAt time.Time) error {
	return r.UpdateFields(ctx, id, map[string]interface{}{
		"available":    available,
		"last_sync_at": syncAt,
	})
}
