package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"delivery_erp_v1_202608/internal/api/dto"
	"delivery_erp_v1_202608/internal/model"
	"delivery_erp_v1_202608/internal/service"
)

// OrderController 订单控制器
type OrderController struct {
	svc *service.OrderService
}

// NewOrderController 创建订单控制器
func NewOrderController(svc *service.OrderService) *OrderController {
	return &OrderController{svc: svc}
}

// ==================== 订单列表与详情 ====================

// List 订单列表
// GET /api/orders
func (c *OrderController) List(ctx *gin.Context) {
	var req dto.ListOrdersRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": err.Error()})
		return
	}

	resp, err := c.svc.ListOrders(ctx.Request.Context(), &req)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"code": 200, "data": resp})
}

// GetByID 订单详情
// GET /api/orders/:id
func (c *OrderController) GetByID(ctx *gin.Context) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "无效的ID"})
		return
	}

	order, err := c.svc.GetOrder(ctx.Request.Context(), id)
	if err != nil {
		ctx.JSON(http.StatusNotFound, gin.H{"code": 404, "message": "订单不存在"})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"code": 200, "data": order})
}

// ==================== 状态流转 ====================

// UpdateStatus 推进订单状态
// PUT /api/orders/:id/status
func (c *OrderController) UpdateStatus(ctx *gin.Context) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "无效的ID"})
		return
	}

	var req dto.UpdateOrderStatusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "参数错误"})
		return
	}

	result, err := c.svc.UpdateStatus(ctx.Request.Context(), id, req.Status, model.ActorLocal)
	if err != nil {
		if errors.Is(err, service.ErrInvalidTransition) {
			ctx.JSON(http.StatusConflict, gin.H{"code": 409, "message": err.Error()})
			return
		}
		ctx.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}

	// 本地已更新但远端镜像失败，明确告知前端分歧态
	if result.Mirror.State == service.MirrorLocalOnly {
		ctx.JSON(http.StatusOK, gin.H{
			"code":    200,
			"message": "本地状态已更新，平台同步失败",
			"data": gin.H{
				"order_id":        result.OrderID,
				"status":          result.Status,
				"previous_status": result.PreviousStatus,
				"remote_synced":   false,
				"remote_error":    result.Mirror.RemoteErr,
			},
		})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"code": 200,
		"data": gin.H{
			"order_id":        result.OrderID,
			"status":          result.Status,
			"previous_status": result.PreviousStatus,
			"remote_synced":   true,
		},
	})
}

// RetryMirror 重推分歧订单
// POST /api/orders/:id/retry-mirror
func (c *OrderController) RetryMirror(ctx *gin.Context) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "无效的ID"})
		return
	}

	if err := c.svc.RetryMirror(ctx.Request.Context(), id); err != nil {
		ctx.JSON(http.StatusBadGateway, gin.H{"code": 502, "message": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"code": 200, "message": "平台状态已对齐"})
}

// ==================== 分歧与统计 ====================

// ListDivergent 分歧订单列表
// GET /api/orders/divergences
func (c *OrderController) ListDivergent(ctx *gin.Context) {
	var merchantID int64
	if s := ctx.Query("merchant_id"); s != "" {
		merchantID, _ = strconv.ParseInt(s, 10, 64)
	}

	list, err := c.svc.ListDivergent(ctx.Request.Context(), merchantID)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"code": 200, "data": gin.H{"total": len(list), "list": list}})
}

// Stats 订单统计
// GET /api/orders/stats
func (c *OrderController) Stats(ctx *gin.Context) {
	var req dto.OrderStatsRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": err.Error()})
		return
	}

	resp, err := c.svc.GetOrderStats(ctx.Request.Context(), &req)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"code": 200, "data": resp})
}
