package task

import (
	"context"
	"log"
	"sync"
	"time"

	"delivery_erp_v1_202608/internal/repository"
)

// ==================== EventRetentionTask 事件日志保留任务 ====================

// EventRetentionTask 事件日志清理任务
// 每天清理一次超过保留期的已处理事件行
type EventRetentionTask struct {
	eventRepo     repository.OrderEventRepository
	retentionDays int
	interval      time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
	running       bool
	mu            sync.Mutex
}

// NewEventRetentionTask 创建事件保留任务
func NewEventRetentionTask(eventRepo repository.OrderEventRepository, opts ...RetentionOption) *EventRetentionTask {
	t := &EventRetentionTask{
		eventRepo:     eventRepo,
		retentionDays: 30,
		interval:      24 * time.Hour,
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RetentionOption 任务选项
type RetentionOption func(*EventRetentionTask)

// WithRetentionDays 设置保留天数
func WithRetentionDays(days int) RetentionOption {
	return func(t *EventRetentionTask) {
		if days > 0 {
			t.retentionDays = days
		}
	}
}

// WithRetentionInterval 设置执行间隔
func WithRetentionInterval(d time.Duration) RetentionOption {
	return func(t *EventRetentionTask) {
		t.interval = d
	}
}

// Start 启动任务
func (t *EventRetentionTask) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run()

	log.Printf("[RetentionTask] 已启动，间隔: %v, 保留: %d 天", t.interval, t.retentionDays)
}

// Stop 停止任务
func (t *EventRetentionTask) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.mu.Unlock()

	close(t.stopCh)
	t.wg.Wait()
	log.Println("[RetentionTask] 已停止")
}

func (t *EventRetentionTask) run() {
	defer t.wg.Done()

	// 启动时立即执行
	t.execute()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.execute()
		case <-t.stopCh:
			return
		}
	}
}

func (t *EventRetentionTask) execute() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -t.retentionDays)
	deleted, err := t.eventRepo.DeleteBefore(ctx, cutoff)
	if err != nil {
		log.Printf("[RetentionTask] 事件清理失败: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("[RetentionTask] 已清理 %d 条过期事件 (早于 %s)", deleted, cutoff.Format("2006-01-02"))
	}
}

// RunOnce 手动执行一次
func (t *EventRetentionTask) RunOnce() {
	t.execute()
}
