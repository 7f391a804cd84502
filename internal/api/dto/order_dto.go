package dto

import "time"

// ==================== 请求 ====================

// ListOrdersRequest 订单列表请求
type ListOrdersRequest struct {
	MerchantID int64  `form:"merchant_id"`
	Status     string `form:"status"`
	Keyword    string `form:"keyword"`
	StartDate  string `form:"start_date"` // 2006-01-02
	EndDate    string `form:"end_date"`
	Page       int    `form:"page,default=1"`
	PageSize   int    `form:"page_size,default=20"`
}

// UpdateOrderStatusRequest 更新订单状态请求
type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// OrderStatsRequest 订单统计请求
type OrderStatsRequest struct {
	MerchantID int64  `form:"merchant_id"`
	StartDate  string `form:"start_date" binding:"required"`
	EndDate    string `form:"end_date" binding:"required"`
}

// ==================== 响应 ====================

// OrderListItem 订单列表条目
type OrderListItem struct {
	ID              int64      `json:"id"`
	PlatformOrderID string     `json:"platform_order_id"`
	DisplayID       string     `json:"display_id"`
	MerchantID      int64      `json:"merchant_id"`
	MerchantName    string     `json:"merchant_name"`
	Status          string     `json:"status"`
	PreviousStatus  string     `json:"previous_status"`
	RemoteSynced    bool       `json:"remote_synced"`
	TotalAmount     float64    `json:"total_amount"`
	Currency        string     `json:"currency"`
	PlacedAt        *time.Time `json:"placed_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ListOrdersResponse 订单列表响应
type ListOrdersResponse struct {
	Total int64           `json:"total"`
	List  []OrderListItem `json:"list"`
}

// DivergentOrderItem 分歧订单条目
type DivergentOrderItem struct {
	ID              int64      `json:"id"`
	PlatformOrderID string     `json:"platform_order_id"`
	MerchantID      int64      `json:"merchant_id"`
	Status          string     `json:"status"`
	PreviousStatus  string     `json:"previous_status"`
	RemoteSyncError string     `json:"remote_sync_error"`
	StatusUpdatedAt *time.Time `json:"status_updated_at"`
}

// OrderStatsResponse 订单统计响应
type OrderStatsResponse struct {
	TotalOrders      int64   `json:"total_orders"`
	TotalAmount      float64 `json:"total_amount"`
	PlacedOrders     int64   `json:"placed_orders"`
	ConfirmedOrders  int64   `json:"confirmed_orders"`
	PreparingOrders  int64   `json:"preparing_orders"`
	DispatchedOrders int64   `json:"dispatched_orders"`
	ConcludedOrders  int64   `json:"concluded_orders"`
	CancelledOrders  int64   `json:"cancelled_orders"`
	DivergentOrders  int64   `json:"divergent_orders"`
	AvgOrderValue    float64 `json:"avg_order_value"`
}
