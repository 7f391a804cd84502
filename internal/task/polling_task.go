package task

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"delivery_erp_v1_202608/internal/repository"
	"delivery_erp_v1_202608/internal/service"
)

// ==================== OrderPollingTask 订单事件轮询任务 ====================

// OrderPollingTask 订单事件轮询定时任务
// 30 秒一轮，逐主体拉取事件流；一轮拖慢时跳过后续触发，
// 事件不会丢（未确认的事件平台会重投）
type OrderPollingTask struct {
	credRepo     repository.CredentialRepository
	orderService *service.OrderService
	cron         *cron.Cron

	// 上一轮未结束则跳过本轮
	running atomic.Bool
}

// NewOrderPollingTask 创建订单轮询任务
func NewOrderPollingTask(
	credRepo repository.CredentialRepository,
	orderService *service.OrderService,
) *OrderPollingTask {
	return &OrderPollingTask{
		credRepo:     credRepo,
		orderService: orderService,
		cron:         cron.New(cron.WithSeconds()),
	}
}

// Start 启动定时任务
func (t *OrderPollingTask) Start() {
	// 每 30 秒执行
	_, err := t.cron.AddFunc("*/30 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		t.pollAllPrincipals(ctx)
	})
	if err != nil {
		log.Printf("[OrderPollingTask] 定时任务启动失败: %v", err)
		return
	}

	t.cron.Start()
	log.Println("[OrderPollingTask] 已启动 (每30秒)")
}

// Stop 停止任务
func (t *OrderPollingTask) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
	log.Println("[OrderPollingTask] 已停止")
}

// pollAllPrincipals 轮询所有主体的事件流
func (t *OrderPollingTask) pollAllPrincipals(ctx context.Context) {
	if !t.running.CompareAndSwap(false, true) {
		log.Println("[OrderPollingTask] 上一轮轮询未结束，跳过本轮")
		return
	}
	defer t.running.Store(false)

	creds, err := t.credRepo.List(ctx)
	if err != nil {
		log.Printf("[OrderPollingTask] 获取凭证列表失败: %v", err)
		return
	}

	for i := range creds {
		select {
		case <-ctx.Done():
			log.Println("[OrderPollingTask] 本轮超时停止")
			return
		default:
		}

		principalID := creds[i].PrincipalID
		result, err := t.orderService.PollEvents(ctx, principalID)
		if err != nil {
			log.Printf("[OrderPollingTask] 主体 %s 轮询失败: %v", principalID, err)
			continue
		}
		if result.Fetched > 0 {
			log.Printf("[OrderPollingTask] 主体 %s: 事件 %d, 应用 %d, 导入 %d, 跳过 %d, 失败 %d",
				principalID, result.Fetched, result.Applied, result.Imported, result.Skipped, result.Failed)
		}
	}
}

// PollNow 立即轮询单个主体
func (t *OrderPollingTask) PollNow(ctx context.Context, principalID string) (*service.PollResult, error) {
	return t.orderService.PollEvents(ctx, principalID)
}
