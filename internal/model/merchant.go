package model

import (
	"time"

	"gorm.io/datatypes"
)

// Merchant 商户（平台门店在本地的镜像）
// 首次同步观察到时创建，之后只更新状态字段，闭店用 Available=false 表示，永不删除
type Merchant struct {
	BaseModel

	// 1. 核心身份
	// 平台商户 ID + principal 联合唯一，保证重复同步不会插入第二行
	PlatformMerchantID string `gorm:"size:64;not null;uniqueIndex:idx_principal_merchant"`
	PrincipalID        string `gorm:"size:64;not null;uniqueIndex:idx_principal_merchant;index"`

	// 2. 基本信息
	Name          string `gorm:"size:255"`
	CorporateName string `gorm:"size:255"` // 工商注册名

	// 3. 营业状态
	// 同步路径总是显式赋值，不挂列默认值（布尔零值会在 Create 时被 gorm 省略）
	Available bool `gorm:"index"` // false 表示闭店/下线

	// 4. 目录绑定
	// 商品目录 ID 由平台分配，首次目录同步时发现并回填
	CatalogID string `gorm:"size:64"`

	// 5. 营业时间（平台原样返回的 JSON）
	OpeningHours datatypes.JSON `gorm:"type:jsonb"`

	// 6. 同步状态
	LastSyncAt *time.Time
}

func (Merchant) TableName() string {
	return "merchants"
}
