package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"delivery_erp_v1_202608/internal/api/dto"
	"delivery_erp_v1_202608/internal/repository"
	"delivery_erp_v1_202608/internal/service"
)

// MerchantController 商户控制器
type MerchantController struct {
	svc  *service.MerchantService
	repo repository.MerchantRepository
}

// NewMerchantController 创建商户控制器
func NewMerchantController(svc *service.MerchantService, repo repository.MerchantRepository) *MerchantController {
	return &MerchantController{svc: svc, repo: repo}
}

// List 商户列表
// GET /api/merchants
func (c *MerchantController) List(ctx *gin.Context) {
	var req dto.ListMerchantsRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": err.Error()})
		return
	}

	resp, err := c.svc.ListMerchants(ctx.Request.Context(), &req)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"code": 200, "data": resp})
}

// GetByID 商户详情
// GET /api/merchants/:id
func (c *MerchantController) GetByID(ctx *gin.Context) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "无效的ID"})
		return
	}

	merchant, err := c.repo.GetByID(ctx.Request.Context(), id)
	if err != nil {
		ctx.JSON(http.StatusNotFound, gin.H{"code": 404, "message": "商户不存在"})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"code": 200, "data": merchant})
}

// PushOpeningHours 推送本地营业时间到平台
// POST /api/merchants/:id/opening-hours/push
func (c *MerchantController) PushOpeningHours(ctx *gin.Context) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "无效的ID"})
		return
	}

	merchant, err := c.repo.GetByID(ctx.Request.Context(), id)
	if err != nil {
		ctx.JSON(http.StatusNotFound, gin.H{"code": 404, "message": "商户不存在"})
		return
	}

	if err := c.svc.PushOpeningHours(ctx.Request.Context(), merchant); err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"code": 200, "message": "营业时间已推送"})
}
