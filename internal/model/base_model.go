package model

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel 本地自增主键的公共字段
// 注意目录实体（分类/商品）不嵌入它：那两张表直接用平台 ID 做主键
type BaseModel struct {
	ID        int64          `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
