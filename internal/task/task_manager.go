package task

import (
	"context"
	"log"
	"time"

	"delivery_erp_v1_202608/internal/repository"
	"delivery_erp_v1_202608/internal/service"
)

// ==================== TaskManager 同步任务管理器 ====================

// TaskManager 统一管理四条定时同步线
// 管理范围：Token 保活、实体同步、订单事件轮询、事件日志保留
// 四条线相互独立，任一条失败不影响其他线
type TaskManager struct {
	tokenTask     *TokenRefreshTask
	entityTask    *EntitySyncTask
	pollingTask   *OrderPollingTask
	retentionTask *EventRetentionTask
}

// TaskManagerDeps 任务管理器依赖
type TaskManagerDeps struct {
	// Repositories
	CredRepo     repository.CredentialRepository
	MerchantRepo repository.MerchantRepository
	EventRepo    repository.OrderEventRepository

	// Services
	TokenService    *service.TokenService
	MerchantService *service.MerchantService
	CatalogService  *service.CatalogService
	OrderService    *service.OrderService
}

// TaskManagerConfig 任务管理器配置
type TaskManagerConfig struct {
	// Token 保活
	TokenEnabled bool

	// 实体同步
	EntityEnabled   bool
	EntitySleepTime time.Duration

	// 订单事件轮询
	PollingEnabled bool

	// 事件日志保留
	RetentionEnabled bool
	RetentionDays    int
}

// DefaultConfig 默认配置
func DefaultConfig() *TaskManagerConfig {
	return &TaskManagerConfig{
		TokenEnabled: true,

		EntityEnabled:   true,
		EntitySleepTime: 200 * time.Millisecond,

		PollingEnabled: true,

		RetentionEnabled: true,
		RetentionDays:    30,
	}
}

// NewTaskManager 创建任务管理器
func NewTaskManager(deps *TaskManagerDeps, cfg *TaskManagerConfig) *TaskManager {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	tm := &TaskManager{}

	// Token 保活任务
	if cfg.TokenEnabled && deps.TokenService != nil {
		tm.tokenTask = NewTokenRefreshTask(deps.TokenService)
	}

	// 实体同步任务
	if cfg.EntityEnabled && deps.MerchantService != nil && deps.CatalogService != nil {
		tm.entityTask = NewEntitySyncTask(
			deps.CredRepo,
			deps.MerchantRepo,
			deps.MerchantService,
			deps.CatalogService,
		)
		if cfg.EntitySleepTime > 0 {
			tm.entityTask.SetSleepTime(cfg.EntitySleepTime)
		}
	}

	// 订单事件轮询任务
	if cfg.PollingEnabled && deps.OrderService != nil {
		tm.pollingTask = NewOrderPollingTask(deps.CredRepo, deps.OrderService)
	}

	// 事件日志保留任务
	if cfg.RetentionEnabled && deps.EventRepo != nil {
		tm.retentionTask = NewEventRetentionTask(deps.EventRepo,
			WithRetentionDays(cfg.RetentionDays))
	}

	return tm
}

// ==================== 生命周期管理 ====================

// Start 启动所有任务
func (tm *TaskManager) Start() {
	log.Println("[TaskManager] 正在启动同步任务...")

	if tm.tokenTask != nil {
		tm.tokenTask.Start()
	}
	if tm.entityTask != nil {
		tm.entityTask.Start()
	}
	if tm.pollingTask != nil {
		tm.pollingTask.Start()
	}
	if tm.retentionTask != nil {
		tm.retentionTask.Start()
	}

	log.Println("[TaskManager] 同步任务已全部启动")
}

// Stop 停止所有任务
func (tm *TaskManager) Stop() {
	log.Println("[TaskManager] 正在停止同步任务...")

	if tm.tokenTask != nil {
		tm.tokenTask.Stop()
	}
	if tm.entityTask != nil {
		tm.entityTask.Stop()
	}
	if tm.pollingTask != nil {
		tm.pollingTask.Stop()
	}
	if tm.retentionTask != nil {
		tm.retentionTask.Stop()
	}

	log.Println("[TaskManager] 同步任务已全部停止")
}

// ==================== 手动触发接口 ====================

// TriggerTokenRefresh 触发全量 Token 刷新
func (tm *TaskManager) TriggerTokenRefresh() error {
	if tm.tokenTask == nil {
		return ErrTaskDisabled
	}
	tm.tokenTask.RefreshAllNow()
	return nil
}

// TriggerPrincipalSync 触发单个主体的商户对账
func (tm *TaskManager) TriggerPrincipalSync(ctx context.Context, principalID string) (*service.MerchantSyncResult, error) {
	if tm.entityTask == nil {
		return nil, ErrTaskDisabled
	}
	return tm.entityTask.SyncPrincipalNow(ctx, principalID)
}

// TriggerCatalogSync 触发单个商户的目录同步
func (tm *TaskManager) TriggerCatalogSync(ctx context.Context, merchantID int64) (*service.CatalogSyncResult, error) {
	if tm.entityTask == nil {
		return nil, ErrTaskDisabled
	}
	return tm.entityTask.SyncMerchantCatalogNow(ctx, merchantID)
}

// TriggerAllEntitySync 触发所有主体的实体同步
func (tm *TaskManager) TriggerAllEntitySync() error {
	if tm.entityTask == nil {
		return ErrTaskDisabled
	}
	tm.entityTask.SyncAllNow()
	return nil
}

// TriggerEventPoll 触发单个主体的事件轮询
func (tm *TaskManager) TriggerEventPoll(ctx context.Context, principalID string) (*service.PollResult, error) {
	if tm.pollingTask == nil {
		return nil, ErrTaskDisabled
	}
	return tm.pollingTask.PollNow(ctx, principalID)
}

// TriggerRetention 触发事件日志清理
func (tm *TaskManager) TriggerRetention() error {
	if tm.retentionTask == nil {
		return ErrTaskDisabled
	}
	tm.retentionTask.RunOnce()
	return nil
}

// ==================== 状态查询 ====================

// Status 获取任务启用状态
func (tm *TaskManager) Status() map[string]bool {
	return map[string]bool{
		"token":     tm.tokenTask != nil,
		"entity":    tm.entityTask != nil,
		"polling":   tm.pollingTask != nil,
		"retention": tm.retentionTask != nil,
	}
}

// ==================== 错误定义 ====================

type TaskError string

func (e TaskError) Error() string { return string(e) }

const (
	ErrTaskDisabled TaskError = "task is disabled"
)
