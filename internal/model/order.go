package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ==================== 订单状态常量 ====================

// 订单状态（与平台生命周期一致）
const (
	OrderStatusPlaced         = "PLACED"           // 新订单
	OrderStatusConfirmed      = "CONFIRMED"        // 商户已接单
	OrderStatusPreparing      = "PREPARING"        // 备餐中
	OrderStatusReadyForPickup = "READY_FOR_PICKUP" // 待取货
	OrderStatusDispatched     = "DISPATCHED"       // 配送中
	OrderStatusConcluded      = "CONCLUDED"        // 已完成
	OrderStatusCancelled      = "CANCELLED"        // 已取消
)

// 状态变更发起方
const (
	ActorLocal  = "local"  // 本系统操作（商户后台）
	ActorRemote = "remote" // 平台事件驱动
)

// statusTransitions 状态机有向图
// CANCELLED 可从任意非终态进入；CONCLUDED / CANCELLED 为终态
var statusTransitions = map[string][]string{
	OrderStatusPlaced:         {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:      {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing:      {OrderStatusReadyForPickup, OrderStatusCancelled},
	OrderStatusReadyForPickup: {OrderStatusDispatched, OrderStatusCancelled},
	OrderStatusDispatched:     {OrderStatusConcluded, OrderStatusCancelled},
	OrderStatusConcluded:      {},
	OrderStatusCancelled:      {},
}

// CanTransition 校验状态迁移是否在有向图上
func CanTransition(from, to string) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus 是否终态
func IsTerminalStatus(status string) bool {
	next, ok := statusTransitions[status]
	return ok && len(next) == 0
}

// ==================== Order 订单主表 ====================

// Order 订单
// 通过轮询或手动导入首次观察到时创建；状态只沿状态机推进；
// 除事件日志的保留作业外永不删除
type Order struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	PlatformOrderID string `gorm:"size:64;uniqueIndex;not null"` // 平台订单 ID
	MerchantID      int64  `gorm:"index;not null"`
	DisplayID       string `gorm:"size:32"` // 平台面向用户的短单号

	// 状态机字段
	Status          string     `gorm:"size:32;index;default:PLACED"`
	PreviousStatus  string     `gorm:"size:32"`
	StatusUpdatedAt *time.Time
	StatusUpdatedBy string `gorm:"size:16"` // local / remote

	// 远端镜像状态（分歧面板数据源）
	// RemoteSynced=false 表示本地已写入但平台镜像调用失败；
	// 导入路径显式置 true，不依赖列默认值
	RemoteSynced    bool   `gorm:"index"`
	RemoteSyncError string `gorm:"type:text"`

	// 买家/支付/商品明细（对同步核心不透明，原样存 JSONB）
	Customer datatypes.JSONMap `gorm:"type:jsonb"`
	Payment  datatypes.JSONMap `gorm:"type:jsonb"`
	Items    datatypes.JSON    `gorm:"type:jsonb"`

	// 金额（分）
	TotalCents int64
	Currency   string `gorm:"size:10;default:BRL"`

	// 平台原始数据
	RawPayload datatypes.JSON `gorm:"type:jsonb"`

	// 平台侧时间
	PlacedAt *time.Time

	// 审计字段
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (*Order) TableName() string {
	return "orders"
}

// GetTotal 获取订单总额（元）
func (o *Order) GetTotal() float64 {
	return float64(o.TotalCents) / 100
}

// IsTerminal 当前是否处于终态
func (o *Order) IsTerminal() bool {
	return IsTerminalStatus(o.Status)
}

// CanTransitionTo 当前状态能否迁移到 next
func (o *Order) CanTransitionTo(next string) bool {
	return CanTransition(o.Status, next)
}

// GetCustomerField 获取买家字段
func (o *Order) GetCustomerField(key string) string {
	if o.Customer == nil {
		return ""
	}
	if v, ok := o.Customer[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
