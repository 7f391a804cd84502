package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"delivery_erp_v1_202608/internal/model"
)

// ==================== 过滤条件 ====================

// OrderFilter 订单过滤条件
type OrderFilter struct {
	MerchantID int64
	Status     string
	Keyword    string
	StartDate  *time.Time
	EndDate    *time.Time
	Page       int
	PageSize   int
}

// OrderStats 订单统计
type OrderStats struct {
	TotalOrders      int64
	TotalCents       int64
	PlacedOrders     int64
	ConfirmedOrders  int64
	PreparingOrders  int64
	DispatchedOrders int64
	ConcludedOrders  int64
	CancelledOrders  int64
	DivergentOrders  int64
}

// ==================== 接口定义 ====================

// OrderRepository 订单仓储接口
type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	GetByID(ctx context.Context, id int64) (*model.Order, error)
	GetByPlatformOrderID(ctx context.Context, platformOrderID string) (*model.Order, error)
	List(ctx context.Context, filter OrderFilter) ([]model.Order, int64, error)
	UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error

	// 分歧相关
	ListDivergent(ctx context.Context, merchantID int64) ([]model.Order, error)

	// 统计
	GetStats(ctx context.Context, merchantID int64, startDate, endDate time.Time) (*OrderStats, error)
}

// ==================== 仓储实现 ====================

type orderRepo struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓储
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepo{db: db}
}

func (r *orderRepo) Create(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *orderRepo) GetByID(ctx context.Context, id int64) (*model.Order, error) {
	var order model.Order
	if err := r.db.WithContext(ctx).First(&order, id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepo) GetByPlatformOrderID(ctx context.Context, platformOrderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("platform_order_id = ?", platformOrderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepo) List(ctx context.Context, filter OrderFilter) ([]model.Order, int64, error) {
	var orders []model.Order
	var total int64

	db := r.db.WithContext(ctx).Model(&model.Order{})

	if filter.MerchantID > 0 {
		db = db.Where("merchant_id = ?", filter.MerchantID)
	}
	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	if filter.Keyword != "" {
		db = db.Where("platform_order_id = ? OR display_id = ?", filter.Keyword, filter.Keyword)
	}
	if filter.StartDate != nil {
		db = db.Where("created_at >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		db = db.Where("created_at <= ?", *filter.EndDate)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Page > 0 && filter.PageSize > 0 {
		db = db.Offset((filter.Page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	err := db.Order("id desc").Find(&orders).Error
	return orders, total, err
}

func (r *orderRepo) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *orderRepo) ListDivergent(ctx context.Context, merchantID int64) ([]model.Order, error) {
	var orders []model.Order
	db := r.db.WithContext(ctx).Where("remote_synced = ?", false)
	if merchantID > 0 {
		db = db.Where("merchant_id = ?", merchantID)
	}
	err := db.Order("status_updated_at asc").Find(&orders).Error
	return orders, err
}

func (r *orderRepo) GetStats(ctx context.Context, merchantID int64, startDate, endDate time.Time) (*OrderStats, error) {
	stats := &OrderStats{}

	base := func() *gorm.DB {
		db := r.db.WithContext(ctx).Model(&model.Order{}).
			Where("created_at BETWEEN ? AND ?", startDate, endDate)
		if merchantID > 0 {
			db = db.Where("merchant_id = ?", merchantID)
		}
		return db
	}

	if err := base().Count(&stats.TotalOrders).Error; err != nil {
		return nil, err
	}

	var totalCents *int64
	if err := base().Select("SUM(total_cents)").Scan(&totalCents).Error; err != nil {
		return nil, err
	}
	if totalCents != nil {
		stats.TotalCents = *totalCents
	}

	counts := map[string]*int64{
		model.OrderStatusPlaced:     &stats.PlacedOrders,
		model.OrderStatusConfirmed:  &stats.ConfirmedOrders,
		model.OrderStatusPreparing:  &stats.PreparingOrders,
		model.OrderStatusDispatched: &stats.DispatchedOrders,
		model.OrderStatusConcluded:  &stats.ConcludedOrders,
		model.OrderStatusCancelled:  &stats.CancelledOrders,
	}
	for status, dst := range counts {
		if err := base().Where("status = ?", status).Count(dst).Error; err != nil {
			return nil, err
		}
	}

	if err := base().Where("remote_synced = ?", false).Count(&stats.DivergentOrders).Error; err != nil {
		return nil, err
	}

	return stats, nil
}
