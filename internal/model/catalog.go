package model

import (
	"time"

	"github.com/lib/pq"
)

// ==================== Category 商品分类 ====================

// Category 商品分类
// 主键直接使用平台分配的分类 ID，本地不再生成第二套 ID
// （历史系统曾出现本地 ID 与平台 ID 并存的脏数据，迁移后已统一）
type Category struct {
	ID         string `gorm:"primaryKey;size:64"` // 平台分配的分类 ID
	MerchantID int64  `gorm:"index;not null"`

	Name         string `gorm:"size:255;not null"`
	ExternalCode string `gorm:"size:64"` // 商户自定义编码
	Status       string `gorm:"size:32;default:'AVAILABLE'"`
	Sequence     int    `gorm:"default:0"` // 展示排序

	LastSyncAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Category) TableName() string {
	return "categories"
}

// ==================== Product 商品 ====================

// Product 商品（目录条目）
// 同样以平台 ID 为主键；创建商品要求其分类已完成同步
type Product struct {
	ID         string `gorm:"primaryKey;size:64"` // 平台分配的商品 ID
	MerchantID int64  `gorm:"index;not null"`
	CategoryID string `gorm:"size:64;index;not null"`

	// 基础信息（可变字段，每轮同步覆盖）
	Name         string `gorm:"size:500;not null"`
	Description  string `gorm:"type:text"`
	ExternalCode string `gorm:"size:64"`

	// 价格以分为单位存储
	PriceCents int64
	Currency   string `gorm:"size:10;default:BRL"`

	// 售卖状态。不挂列默认值：带 default 标签的布尔零值在 Create 时
	// 会被 gorm 省略，下架商品会被数据库默认值写成在售
	Available bool `gorm:"index"`

	// 图片与标签
	ImageURL string         `gorm:"size:500"`
	Tags     pq.StringArray `gorm:"type:text[]"` // 膳食标签等，如 VEGETARIAN / GLUTEN_FREE

	LastSyncAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Product) TableName() string {
	return "products"
}

// GetPrice 获取价格（元）
func (p *Product) GetPrice() float64 {
	return float64(p.PriceCents) / 100
}
