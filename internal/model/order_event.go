package model

import (
	"time"

	"gorm.io/datatypes"
)

// 平台事件代码
const (
	EventCodePlaced         = "PLC" // 新订单
	EventCodeConfirmed      = "CFM" // 已接单
	EventCodePreparing      = "PRS" // 开始备餐
	EventCodeReadyForPickup = "RTP" // 待取货
	EventCodeDispatched     = "DSP" // 已派出
	EventCodeConcluded      = "CON" // 已完成
	EventCodeCancelled      = "CAN" // 已取消
)

// OrderEvent 平台订单事件日志
// 轮询结果逐条落库，主要用于排障与分歧回溯；
// 由保留作业按天清理，防止无界增长
type OrderEvent struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	EventID         string `gorm:"size:64;uniqueIndex;not null"` // 平台事件 ID，幂等去重键
	PlatformOrderID string `gorm:"size:64;index;not null"`
	PrincipalID     string `gorm:"size:64;index"`

	Code    string         `gorm:"size:16;index"`
	Payload datatypes.JSON `gorm:"type:jsonb"`

	// 应用结果
	Applied    bool   `gorm:"default:false"`
	ApplyError string `gorm:"type:text"` // 状态机拒绝等原因，留给运营排查

	ReceivedAt time.Time `gorm:"index"`
	CreatedAt  time.Time
}

func (OrderEvent) TableName() string {
	return "order_events"
}
