package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"delivery_erp_v1_202608/internal/controller"
	"delivery_erp_v1_202608/internal/middleware"
	"delivery_erp_v1_202608/internal/model"
	"delivery_erp_v1_202608/internal/repository"
	"delivery_erp_v1_202608/internal/router"
	"delivery_erp_v1_202608/internal/service"
	"delivery_erp_v1_202608/internal/task"
	"delivery_erp_v1_202608/pkg/database"
	"delivery_erp_v1_202608/pkg/net"
	"delivery_erp_v1_202608/pkg/utils"
)

func main() {
	// 1. 初始化数据库
	db := initDatabase()

	// 2. 初始化依赖
	deps := initDependencies(db)

	// 3. 启动定时任务
	taskManager := initTasks(deps)
	defer taskManager.Stop()

	// 4. 初始化路由
	r := gin.Default()
	router.InitRoutes(r,
		deps.Controllers.Auth,
		deps.Controllers.Merchant,
		deps.Controllers.Order,
		deps.Controllers.Sync,
	)

	// 5. 启动服务
	startServer(r)
}

// ==================== 依赖容器 ====================

// Dependencies 依赖容器
type Dependencies struct {
	DB          *gorm.DB
	Repos       *Repositories
	Dispatcher  net.Dispatcher
	Services    *Services
	Controllers *Controllers
}

// Repositories 仓库集合
type Repositories struct {
	Credential repository.CredentialRepository
	Merchant   repository.MerchantRepository
	Category   repository.CategoryRepository
	Product    repository.ProductRepository
	Order      repository.OrderRepository
	OrderEvent repository.OrderEventRepository
	User       repository.UserRepository
}

// Services 服务集合
type Services struct {
	Token    *service.TokenService
	Merchant *service.MerchantService
	Catalog  *service.CatalogService
	Order    *service.OrderService
	Auth     *service.AuthService
}

// Controllers 控制器集合
type Controllers struct {
	Auth     *controller.AuthController
	Merchant *controller.MerchantController
	Order    *controller.OrderController
	Sync     *controller.SyncController
}

// ==================== 初始化函数 ====================

// initDatabase 初始化数据库
func initDatabase() *gorm.DB {
	dsn := getEnv("DATABASE_URL",
		"host=localhost user=postgres password=postgres dbname=delivery_erp port=5432 sslmode=disable")

	return database.InitDB(dsn,
		// Manager
		&model.SysUser{},
		// Credential
		&model.PlatformCredential{},
		// Merchant
		&model.Merchant{},
		// Catalog
		&model.Category{}, &model.Product{},
		// Order
		&model.Order{}, &model.OrderEvent{},
	)
}

// initDependencies 初始化所有依赖
func initDependencies(db *gorm.DB) *Dependencies {
	// -------- Repo 层 --------
	repos := &Repositories{
		Credential: repository.NewCredentialRepository(db),
		Merchant:   repository.NewMerchantRepository(db),
		Category:   repository.NewCategoryRepository(db),
		Product:    repository.NewProductRepository(db),
		Order:      repository.NewOrderRepository(db),
		OrderEvent: repository.NewOrderEventRepository(db),
		User:       repository.NewUserRepository(db),
	}

	// -------- 基础设施 --------
	dispatcher := net.NewDispatcher(30 * time.Second)

	platformCfg := &service.PlatformConfig{
		BaseURL:   getEnv("PLATFORM_BASE_URL", "https://api.delivery-platform.example.com/v1"),
		AuthURL:   getEnv("PLATFORM_AUTH_URL", "https://auth.delivery-platform.example.com"),
		RateDelay: getEnvDuration("SYNC_RATE_DELAY_MS", 200) * time.Millisecond,
	}

	poller := utils.NewPollingClient(platformCfg.BaseURL)

	// JWT 配置
	if secret := getEnv("JWT_SECRET", ""); secret != "" {
		cfg := middleware.DefaultJWTConfig()
		cfg.SecretKey = secret
		middleware.SetJWTConfig(cfg)
	}

	// -------- 业务服务 --------
	services := &Services{}
	services.Token = service.NewTokenService(repos.Credential, dispatcher, platformCfg)
	services.Merchant = service.NewMerchantService(repos.Merchant, services.Token, dispatcher, platformCfg)
	services.Catalog = service.NewCatalogService(
		repos.Merchant, repos.Category, repos.Product,
		services.Token, dispatcher, platformCfg,
	)
	services.Order = service.NewOrderService(
		repos.Order, repos.OrderEvent, repos.Merchant,
		services.Token, dispatcher, poller, platformCfg,
	)
	services.Auth = service.NewAuthService(repos.User)

	return &Dependencies{
		DB:         db,
		Repos:      repos,
		Dispatcher: dispatcher,
		Services:   services,
	}
}

// initTasks 初始化定时任务
func initTasks(deps *Dependencies) *task.TaskManager {
	cfg := task.DefaultConfig()
	cfg.EntitySleepTime = getEnvDuration("SYNC_RATE_DELAY_MS", 200) * time.Millisecond
	cfg.RetentionDays = getEnvInt("EVENT_RETENTION_DAYS", 30)

	tm := task.NewTaskManager(&task.TaskManagerDeps{
		CredRepo:        deps.Repos.Credential,
		MerchantRepo:    deps.Repos.Merchant,
		EventRepo:       deps.Repos.OrderEvent,
		TokenService:    deps.Services.Token,
		MerchantService: deps.Services.Merchant,
		CatalogService:  deps.Services.Catalog,
		OrderService:    deps.Services.Order,
	}, cfg)
	tm.Start()

	// Controller 层依赖 TaskManager，任务启动后再装配
	deps.Controllers = &Controllers{
		Auth:     controller.NewAuthController(deps.Services.Auth),
		Merchant: controller.NewMerchantController(deps.Services.Merchant, deps.Repos.Merchant),
		Order:    controller.NewOrderController(deps.Services.Order),
		Sync:     controller.NewSyncController(tm),
	}

	return tm
}

// ==================== 服务启动 ====================

// startServer 启动服务
func startServer(r *gin.Engine) {
	port := getEnv("SERVER_PORT", "8080")

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	// 异步启动服务
	go func() {
		log.Printf("服务启动在 :%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 优雅关闭，最多等待 30 秒
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务强制关闭: %v", err)
	}

	log.Println("服务已退出")
}

// ==================== 工具函数 ====================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue))
}
