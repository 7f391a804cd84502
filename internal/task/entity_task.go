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

// ==================== EntitySyncTask 实体同步任务 ====================

// EntitySyncTask 商户与菜单目录同步定时任务
// 每轮按主体顺序推进：先对账商户清单，再逐商户刷新营业状态、
// 营业时间和目录；串行加限速间隔，避免触发平台限流
type EntitySyncTask struct {
	credRepo        repository.CredentialRepository
	merchantRepo    repository.MerchantRepository
	merchantService *service.MerchantService
	catalogService  *service.CatalogService
	cron            *cron.Cron

	// 上一轮未结束则跳过本轮
	running atomic.Bool

	sleepTime time.Duration
}

// NewEntitySyncTask 创建实体同步任务
func NewEntitySyncTask(
	credRepo repository.CredentialRepository,
	merchantRepo repository.MerchantRepository,
	merchantService *service.MerchantService,
	catalogService *service.CatalogService,
) *EntitySyncTask {
	return &EntitySyncTask{
		credRepo:        credRepo,
		merchantRepo:    merchantRepo,
		merchantService: merchantService,
		catalogService:  catalogService,
		cron:            cron.New(cron.WithSeconds()),
		sleepTime:       200 * time.Millisecond,
	}
}

// SetSleepTime 设置商户间的限速间隔
func (t *EntitySyncTask) SetSleepTime(d time.Duration) {
	t.sleepTime = d
}

// Start 启动定时任务
func (t *EntitySyncTask) Start() {
	// 首次执行
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 25*time.Minute)
		defer cancel()
		log.Println("[EntitySyncTask] 执行首次实体同步...")
		t.syncAllPrincipals(ctx)
	}()

	// 每 30 分钟执行
	_, err := t.cron.AddFunc("0 */30 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 25*time.Minute)
		defer cancel()
		t.syncAllPrincipals(ctx)
	})
	if err != nil {
		log.Printf("[EntitySyncTask] 定时任务启动失败: %v", err)
		return
	}

	t.cron.Start()
	log.Println("[EntitySyncTask] 已启动 (每30分钟)")
}

// Stop 停止任务
func (t *EntitySyncTask) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
	log.Println("[EntitySyncTask] 已停止")
}

// syncAllPrincipals 同步所有主体的商户和目录
func (t *EntitySyncTask) syncAllPrincipals(ctx context.Context) {
	if !t.running.CompareAndSwap(false, true) {
		log.Println("[EntitySyncTask] 上一轮同步未结束，跳过本轮")
		return
	}
	defer t.running.Store(false)

	creds, err := t.credRepo.List(ctx)
	if err != nil {
		log.Printf("[EntitySyncTask] 获取凭证列表失败: %v", err)
		return
	}
	if len(creds) == 0 {
		log.Println("[EntitySyncTask] 无已配置主体需要同步")
		return
	}

	log.Printf("[EntitySyncTask] 开始处理 %d 个主体", len(creds))

	for i := range creds {
		select {
		case <-ctx.Done():
			log.Println("[EntitySyncTask] 任务超时停止")
			return
		default:
		}
		t.syncPrincipal(ctx, creds[i].PrincipalID)
	}

	log.Println("[EntitySyncTask] 本轮实体同步完成")
}

// syncPrincipal 同步单个主体：商户清单 + 逐商户状态/时间/目录
func (t *EntitySyncTask) syncPrincipal(ctx context.Context, principalID string) {
	// 1. 商户清单对账
	result, err := t.merchantService.SyncMerchants(ctx, principalID)
	if err != nil {
		log.Printf("[EntitySyncTask] 主体 %s 商户对账失败: %v", principalID, err)
		return
	}
	if result.Created > 0 {
		log.Printf("[EntitySyncTask] 主体 %s: 新增商户 %d, 已存在 %d",
			principalID, result.Created, result.Existing)
	}

	// 2. 逐商户刷新
	merchants, err := t.merchantRepo.ListByPrincipal(ctx, principalID)
	if err != nil {
		log.Printf("[EntitySyncTask] 主体 %s 商户列表查询失败: %v", principalID, err)
		return
	}

	for i := range merchants {
		select {
		case <-ctx.Done():
			return
		default:
		}
		m := &merchants[i]

		if err := t.merchantService.RefreshStatus(ctx, m); err != nil {
			log.Printf("[EntitySyncTask] 商户 %s 状态刷新失败: %v", m.PlatformMerchantID, err)
		}
		time.Sleep(t.sleepTime)

		if err := t.merchantService.SyncOpeningHours(ctx, m); err != nil {
			log.Printf("[EntitySyncTask] 商户 %s 营业时间同步失败: %v", m.PlatformMerchantID, err)
		}
		time.Sleep(t.sleepTime)

		catResult, err := t.catalogService.SyncCatalog(ctx, m)
		if err != nil {
			log.Printf("[EntitySyncTask] 商户 %s 目录同步失败: %v", m.PlatformMerchantID, err)
		} else if catResult.CategoriesCreated > 0 || catResult.ItemsCreated > 0 {
			log.Printf("[EntitySyncTask] 商户 %s: 新分类 %d, 新商品 %d",
				m.PlatformMerchantID, catResult.CategoriesCreated, catResult.ItemsCreated)
		}
		time.Sleep(t.sleepTime)
	}
}

// ==================== 手动触发 ====================

// SyncPrincipalNow 立即同步单个主体
func (t *EntitySyncTask) SyncPrincipalNow(ctx context.Context, principalID string) (*service.MerchantSyncResult, error) {
	return t.merchantService.SyncMerchants(ctx, principalID)
}

// SyncMerchantCatalogNow 立即同步单个商户的目录
func (t *EntitySyncTask) SyncMerchantCatalogNow(ctx context.Context, merchantID int64) (*service.CatalogSyncResult, error) {
	merchant, err := t.merchantRepo.GetByID(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	return t.catalogService.SyncCatalog(ctx, merchant)
}

// SyncAllNow 立即同步所有主体
func (t *EntitySyncTask) SyncAllNow() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 25*time.Minute)
		defer cancel()
		t.syncAllPrincipals(ctx)
	}()
}
