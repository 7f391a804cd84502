package router

import (
	"github.com/gin-gonic/gin"

	"delivery_erp_v1_202608/internal/controller"
	"delivery_erp_v1_202608/internal/middleware"
)

// InitRoutes 注册所有路由
func InitRoutes(r *gin.Engine,
	authCtl *controller.AuthController,
	merchantCtl *controller.MerchantController,
	orderCtl *controller.OrderController,
	syncCtl *controller.SyncController) {

	// API 路由组
	api := r.Group("/api")
	{
		// auth 鉴权组（无需登录）
		auth := api.Group("/auth")
		{
			// POST /api/auth/login
			auth.POST("/login", authCtl.Login)
		}

		// 以下路由需要登录
		authed := api.Group("")
		authed.Use(middleware.JWTAuth())

		// merchant 商户管理
		merchants := authed.Group("/merchants")
		{
			merchants.GET("", merchantCtl.List)
			merchants.GET("/:id", merchantCtl.GetByID)
			merchants.POST("/:id/opening-hours/push", merchantCtl.PushOpeningHours)
		}

		// order 订单管理
		orders := authed.Group("/orders")
		{
			// 固定路径要注册在 :id 之前
			orders.GET("/divergences", orderCtl.ListDivergent)
			orders.GET("/stats", orderCtl.Stats)
			orders.GET("", orderCtl.List)
			orders.GET("/:id", orderCtl.GetByID)
			orders.PUT("/:id/status", orderCtl.UpdateStatus)
			orders.POST("/:id/retry-mirror", orderCtl.RetryMirror)
		}

		// sync 手动同步触发
		sync := authed.Group("/sync")
		{
			sync.GET("/status", syncCtl.Status)
			sync.POST("/principals/:principal_id",
				middleware.GlobalSyncRateLimit(middleware.SyncTypeMerchant, 0),
				syncCtl.SyncPrincipal)
			sync.POST("/catalogs/:id",
				middleware.SyncRateLimit(middleware.SyncTypeCatalog, 0),
				syncCtl.SyncCatalog)
			sync.POST("/entities",
				middleware.GlobalSyncRateLimit(middleware.SyncTypeMerchant, 0),
				syncCtl.SyncAllEntities)
			sync.POST("/tokens/refresh",
				middleware.GlobalSyncRateLimit(middleware.SyncTypeToken, 0),
				syncCtl.RefreshTokens)
			sync.POST("/events/:principal_id",
				middleware.GlobalSyncRateLimit(middleware.SyncTypePoll, 0),
				syncCtl.PollEvents)
		}
	}
}
