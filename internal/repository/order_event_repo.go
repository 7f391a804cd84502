package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"delivery_erp_v1_202608/internal/model"
)

// ==================== 接口定义 ====================

// OrderEventRepository 订单事件日志仓储接口
type OrderEventRepository interface {
	Create(ctx context.Context, event *model.OrderEvent) error
	ExistsByEventID(ctx context.Context, eventID string) (bool, error)
	ListByOrder(ctx context.Context, platformOrderID string, limit int) ([]model.OrderEvent, error)
	// DeleteBefore 删除 cutoff 之前收到的事件，返回删除行数（保留作业调用）
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ==================== 仓储实现 ====================

type orderEventRepo struct {
	db *gorm.DB
}

// NewOrderEventRepository 创建事件日志仓储
func NewOrderEventRepository(db *gorm.DB) OrderEventRepository {
	return &orderEventRepo{db: db}
}

func (r *orderEventRepo) Create(ctx context.Context, event *model.OrderEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *orderEventRepo) ExistsByEventID(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.OrderEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	return count > 0, err
}

func (r *orderEventRepo) ListByOrder(ctx context.Context, platformOrderID string, limit int) ([]model.OrderEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []model.OrderEvent
	err := r.db.WithContext(ctx).
		Where("platform_order_id = ?", platformOrderID).
		Order("received_at desc").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *orderEventRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("received_at < ?", cutoff).
		Delete(&model.OrderEvent{})
	return result.RowsAffected, result.Error
}
