package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"delivery_erp_v1_202608/internal/model"
)

// ==================== 接口定义 ====================

// CredentialRepository 平台凭证仓储接口
type CredentialRepository interface {
	Create(ctx context.Context, cred *model.PlatformCredential) error
	GetByID(ctx context.Context, id int64) (*model.PlatformCredential, error)
	GetByPrincipalID(ctx context.Context, principalID string) (*model.PlatformCredential, error)
	List(ctx context.Context) ([]model.PlatformCredential, error)
	Update(ctx context.Context, cred *model.PlatformCredential) error

	// Token 相关
	UpdateToken(ctx context.Context, id int64, accessToken, expiresAtRaw string, updatedAt time.Time) error
	UpdateTokenStatus(ctx context.Context, id int64, status string) error
	// FindExpiring 查找 within 窗口内将要过期的凭证（按原始过期值无法判断的也返回，
	// 由服务层的编码分类逻辑二次过滤）
	FindExpiring(ctx context.Context, within time.Duration) ([]model.PlatformCredential, error)
}

// ==================== 仓储实现 ====================

type credentialRepo struct {
	db *gorm.DB
}

// NewCredentialRepository 创建凭证仓储
func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &credentialRepo{db: db}
}

func (r *credentialRepo) Create(ctx context.Context, cred *model.PlatformCredential) error {
	return r.db.WithContext(ctx).Create(cred).Error
}

func (r *credentialRepo) GetByID(ctx context.Context, id int64) (*model.PlatformCredential, error) {
	var cred model.PlatformCredential
	if err := r.db.WithContext(ctx).First(&cred, id).Error; err != nil {
		return nil, err
	}
	return &cred, nil
}

func (r *credentialRepo) GetByPrincipalID(ctx context.Context, principalID string) (*model.PlatformCredential, error) {
	var cred model.PlatformCredential
	err := r.db.WithContext(ctx).Where("principal_id = ?", principalID).First(&cred).Error
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (r *credentialRepo) List(ctx context.Context) ([]model.PlatformCredential, error) {
	var creds []model.PlatformCredential
	err := r.db.WithContext(ctx).Order("id asc").Find(&creds).Error
	return creds, err
}

func (r *credentialRepo) Update(ctx context.Context, cred *model.PlatformCredential) error {
	return r.db.WithContext(ctx).Save(cred).Error
}

func (r *credentialRepo) UpdateToken(ctx context.Context, id int64, accessToken, expiresAtRaw string, updatedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&model.PlatformCredential{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"access_token":     accessToken,
			"expires_at_raw":   expiresAtRaw,
			"token_updated_at": updatedAt,
			"token_status":     model.TokenStatusValid,
		}).Error
}

func (r *credentialRepo) UpdateTokenStatus(ctx context.Context, id int64, status string) error {
	return r.db.WithContext(ctx).Model(&model.PlatformCredential{}).
		Where("id = ?", id).
		Update("token_status", status).Error
}

func (r *credentialRepo) FindExpiring(ctx context.Context, within time.Duration) ([]model.PlatformCredential, error) {
	// 过期值编码不统一，无法在 SQL 里直接比较，
	// 这里只做粗筛：有 Token 且状态不是待授权的全部取回
	var creds []model.PlatformCredential
	err := r.db.WithContext(ctx).
		Where("access_token <> ''").
		Order("token_updated_at asc").
		Find(&creds).Error
	return creds, err
}
