package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"delivery_erp_v1_202608/internal/task"
)

// SyncController 同步控制器
// 手动触发入口，和定时任务共用同一套服务层逻辑
type SyncController struct {
	taskManager *task.TaskManager
}

// NewSyncController 创建同步控制器
func NewSyncController(taskManager *task.TaskManager) *SyncController {
	return &SyncController{taskManager: taskManager}
}

// ==================== Handler 实现 ====================

// SyncPrincipal 同步单个主体的商户清单
// POST /api/sync/principals/:principal_id
func (c *SyncController) SyncPrincipal(ctx *gin.Context) {
	principalID := ctx.Param("principal_id")
	if principalID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "缺少主体 ID"})
		return
	}

	result, err := c.taskManager.TriggerPrincipalSync(ctx.Request.Context(), principalID)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": "商户对账完成",
		"data": gin.H{
			"principal_id": principalID,
			"total":        result.Total,
			"created":      result.Created,
			"existing":     result.Existing,
			"errors":       result.Errors,
		},
	})
}

// SyncCatalog 同步单个商户的目录
// POST /api/sync/catalogs/:id
func (c *SyncController) SyncCatalog(ctx *gin.Context) {
	merchantID := parseID(ctx, "id")
	if merchantID == 0 {
		return
	}

	result, err := c.taskManager.TriggerCatalogSync(ctx.Request.Context(), merchantID)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": "目录同步完成",
		"data": gin.H{
			"merchant_id":        merchantID,
			"categories_total":   result.CategoriesTotal,
			"categories_created": result.CategoriesCreated,
			"items_total":        result.ItemsTotal,
			"items_created":      result.ItemsCreated,
			"errors":             result.Errors,
		},
	})
}

// SyncAllEntities 同步所有主体的实体
// POST /api/sync/entities
func (c *SyncController) SyncAllEntities(ctx *gin.Context) {
	if err := c.taskManager.TriggerAllEntitySync(); err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": "实体同步任务已启动",
	})
}

// RefreshTokens 触发全量 Token 刷新
// POST /api/sync/tokens/refresh
func (c *SyncController) RefreshTokens(ctx *gin.Context) {
	if err := c.taskManager.TriggerTokenRefresh(); err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": "Token 刷新任务已启动",
	})
}

// PollEvents 触发单个主体的事件轮询
// POST /api/sync/events/:principal_id
func (c *SyncController) PollEvents(ctx *gin.Context) {
	principalID := ctx.Param("principal_id")
	if principalID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "缺少主体 ID"})
		return
	}

	result, err := c.taskManager.TriggerEventPoll(ctx.Request.Context(), principalID)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": "事件轮询完成",
		"data": gin.H{
			"principal_id": principalID,
			"fetched":      result.Fetched,
			"applied":      result.Applied,
			"imported":     result.Imported,
			"skipped":      result.Skipped,
			"failed":       result.Failed,
		},
	})
}

// Status 任务启用状态
// GET /api/sync/status
func (c *SyncController) Status(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"code": 200,
		"data": c.taskManager.Status(),
	})
}

// ==================== 工具函数 ====================

func parseID(ctx *gin.Context, key string) int64 {
	idStr := ctx.Param(key)
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "无效的 ID"})
		return 0
	}
	return id
}
