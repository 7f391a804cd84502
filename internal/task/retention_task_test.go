package task

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"delivery_erp_v1_202608/internal/model"
	"delivery_erp_v1_202608/internal/repository"
)

func setupEventRepo(t *testing.T) repository.OrderEventRepository {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&model.OrderEvent{}); err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}
	return repository.NewOrderEventRepository(db)
}

func seedEvent(t *testing.T, repo repository.OrderEventRepository, eventID string, receivedAt time.Time) {
	err := repo.Create(context.Background(), &model.OrderEvent{
		EventID:         eventID,
		PlatformOrderID: "po-1",
		PrincipalID:     "p1",
		Code:            model.EventCodeConfirmed,
		Applied:         true,
		ReceivedAt:      receivedAt,
	})
	if err != nil {
		t.Fatalf("事件 %s 入库失败: %v", eventID, err)
	}
}

func TestEventRetentionTask_RunOnce(t *testing.T) {
	repo := setupEventRepo(t)
	now := time.Now()

	seedEvent(t, repo, "ev-old-1", now.AddDate(0, 0, -40))
	seedEvent(t, repo, "ev-old-2", now.AddDate(0, 0, -31))
	seedEvent(t, repo, "ev-recent", now.AddDate(0, 0, -5))
	seedEvent(t, repo, "ev-today", now)

	task := NewEventRetentionTask(repo, WithRetentionDays(30))
	task.RunOnce()

	for _, tc := range []struct {
		eventID string
		want    bool
	}{
		{"ev-old-1", false},
		{"ev-old-2", false},
		{"ev-recent", true},
		{"ev-today", true},
	} {
		exists, err := repo.ExistsByEventID(context.Background(), tc.eventID)
		if err != nil {
			t.Fatalf("查询事件 %s 失败: %v", tc.eventID, err)
		}
		if exists != tc.want {
			t.Errorf("事件 %s 存活 = %v, want %v", tc.eventID, exists, tc.want)
		}
	}
}

func TestEventRetentionTask_CustomRetentionDays(t *testing.T) {
	repo := setupEventRepo(t)
	now := time.Now()

	seedEvent(t, repo, "ev-8d", now.AddDate(0, 0, -8))
	seedEvent(t, repo, "ev-6d", now.AddDate(0, 0, -6))

	task := NewEventRetentionTask(repo, WithRetentionDays(7))
	task.RunOnce()

	exists, _ := repo.ExistsByEventID(context.Background(), "ev-8d")
	if exists {
		t.Error("超过保留期的事件应被清理")
	}
	exists, _ = repo.ExistsByEventID(context.Background(), "ev-6d")
	if !exists {
		t.Error("保留期内的事件不应被清理")
	}
}

func TestEventRetentionTask_StartStop(t *testing.T) {
	repo := setupEventRepo(t)
	now := time.Now()

	for i := 0; i < 3; i++ {
		seedEvent(t, repo, fmt.Sprintf("ev-old-%d", i), now.AddDate(0, 0, -60))
	}

	// 启动即清理一次，随后按间隔运行
	task := NewEventRetentionTask(repo, WithRetentionDays(30), WithRetentionInterval(time.Hour))
	task.Start()
	defer task.Stop()

	// 首次执行是异步的，给它一点时间
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		exists, _ := repo.ExistsByEventID(context.Background(), "ev-old-0")
		if !exists {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("启动后过期事件应被清理")
}

func TestEventRetentionTask_StopIdempotent(t *testing.T) {
	task := NewEventRetentionTask(setupEventRepo(t))
	task.Start()
	task.Stop()
	// 二次 Stop 不应 panic（stopCh 已关闭，靠 running 标记挡住）
	task.Stop()
}
