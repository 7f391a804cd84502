package model

import (
	"time"
)

// Token 状态常量
const (
	TokenStatusValid   = "valid"        // 有效
	TokenStatusExpired = "expired"      // 已过期
	TokenStatusInvalid = "auth_invalid" // 刷新被平台拒绝，需人工检查凭证
)

// PlatformCredential 平台凭证
// 每个 principal（商户主体）一条记录，首次换取成功时创建，之后原地更新，
// 正常运营期间永不删除
type PlatformCredential struct {
	BaseModel

	// 1. 核心身份
	PrincipalID string `gorm:"size:64;uniqueIndex;not null"` // 平台分配的主体标识
	Name        string `gorm:"size:100"`                     // 备注名，便于后台辨认

	// 2. 客户端凭证 (client_credentials 模式)
	ClientID     string `gorm:"size:128;not null"`
	ClientSecret string `gorm:"size:255;not null"` // 加密存储

	// 3. 当前 Token
	// ExpiresAtRaw 保留平台返回的原始值，历史上出现过四种编码：
	// 秒级时间戳 / 毫秒级时间戳 / 相对秒数 / ISO 日期串
	// 解析逻辑见 service.TokenService，这里只负责原样存储
	AccessToken    string     `gorm:"size:2048"`
	ExpiresAtRaw   string     `gorm:"size:64"`
	TokenUpdatedAt *time.Time // 最近一次成功刷新的时间，相对秒数编码以它为基准
	TokenStatus    string     `gorm:"size:20;index;default:'auth_invalid'"`
}

func (PlatformCredential) TableName() string {
	return "platform_credentials"
}

// HasToken 是否持有过 Token
func (c *PlatformCredential) HasToken() bool {
	return c.AccessToken != ""
}
