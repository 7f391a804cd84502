package task

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"delivery_erp_v1_202608/internal/service"
)

// ==================== TokenRefreshTask Token 保活任务 ====================

// TokenRefreshTask Token 刷新定时任务
// 两条刷新线：全量刷新每 2 小时一次（错开整点，避开平台高峰），
// 到期预检每 30 分钟扫一次即将过期的凭证
type TokenRefreshTask struct {
	tokenService *service.TokenService
	cron         *cron.Cron

	// 上一轮未结束则跳过本轮
	running atomic.Bool

	lookahead time.Duration
}

// NewTokenRefreshTask 创建 Token 刷新任务
func NewTokenRefreshTask(tokenService *service.TokenService) *TokenRefreshTask {
	return &TokenRefreshTask{
		tokenService: tokenService,
		cron:         cron.New(cron.WithSeconds()),
		lookahead:    30 * time.Minute,
	}
}

// Start 启动定时任务
func (t *TokenRefreshTask) Start() {
	// 首次执行
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		log.Println("[TokenTask] 服务启动，正在执行首次 Token 刷新...")
		t.refreshAllJob(ctx)
	}()

	// 全量刷新：每 2 小时，第 7 分钟执行
	_, err := t.cron.AddFunc("0 7 0/2 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		t.refreshAllJob(ctx)
	})
	if err != nil {
		log.Fatalf("无法启动 Token 全量刷新任务: %v", err)
	}

	// 到期预检：每 30 分钟
	_, err = t.cron.AddFunc("0 0/30 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		t.refreshExpiringJob(ctx)
	})
	if err != nil {
		log.Fatalf("无法启动 Token 到期预检任务: %v", err)
	}

	t.cron.Start()
	log.Println("[TokenTask] Token 保活任务已启动 (全量每2小时, 预检每30分钟)")
}

// Stop 停止任务
func (t *TokenRefreshTask) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
	log.Println("[TokenTask] 已停止")
}

// refreshAllJob 全量刷新
func (t *TokenRefreshTask) refreshAllJob(ctx context.Context) {
	if !t.running.CompareAndSwap(false, true) {
		log.Println("[TokenTask] 上一轮刷新未结束，跳过本轮")
		return
	}
	defer t.running.Store(false)

	stats := t.tokenService.RefreshAll(ctx)
	log.Printf("[TokenTask] 全量刷新完成: 总数 %d, 成功 %d, 失败 %d",
		stats.Total, stats.Success, stats.Failed)
	for _, e := range stats.Errors {
		log.Printf("[TokenTask] 刷新警告: %s", e)
	}
}

// refreshExpiringJob 到期预检
func (t *TokenRefreshTask) refreshExpiringJob(ctx context.Context) {
	if !t.running.CompareAndSwap(false, true) {
		log.Println("[TokenTask] 上一轮刷新未结束，跳过预检")
		return
	}
	defer t.running.Store(false)

	stats := t.tokenService.RefreshExpiring(ctx, t.lookahead)
	if stats.Total > 0 {
		log.Printf("[TokenTask] 到期预检完成: 刷新 %d, 成功 %d, 失败 %d",
			stats.Total, stats.Success, stats.Failed)
	}
}

// RefreshAllNow 立即全量刷新
func (t *TokenRefreshTask) RefreshAllNow() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		t.refreshAllJob(ctx)
	}()
}
