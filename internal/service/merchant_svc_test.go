package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"delivery_erp_v1_202608/internal/model"
	"delivery_erp_v1_202608/internal/repository"
	"delivery_erp_v1_202608/pkg/net"
)

func setupMerchantTestEnv(t *testing.T, handler http.Handler) (*MerchantService, repository.MerchantRepository) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&model.PlatformCredential{}, &model.Merchant{}); err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	credRepo := repository.NewCredentialRepository(db)
	merchantRepo := repository.NewMerchantRepository(db)

	now := time.Now()
	credRepo.Create(context.Background(), &model.PlatformCredential{
		PrincipalID: "p1", ClientID: "c", ClientSecret: "s",
		AccessToken:    "test-token",
		ExpiresAtRaw:   strconv.FormatInt(now.Add(time.Hour).Unix(), 10),
		TokenUpdatedAt: &now,
		TokenStatus:    model.TokenStatusValid,
	})

	cfg := &PlatformConfig{BaseURL: server.URL, AuthURL: server.URL}
	dispatcher := net.NewDispatcher(5 * time.Second)
	tokenSvc := NewTokenService(credRepo, dispatcher, cfg)

	return NewMerchantService(merchantRepo, tokenSvc, dispatcher, cfg), merchantRepo
}

func merchantListHandler(payload string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/merchants" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(payload))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
}

func TestMerchantService_SyncMerchants_Idempotent(t *testing.T) {
	svc, repo := setupMerchantTestEnv(t, merchantListHandler(
		`[{"id":"m1","name":"门店一","corporateName":"一号餐饮"},{"id":"m2","name":"门店二"}]`))

	// 第一轮：全部新建
	result, err := svc.SyncMerchants(context.Background(), "p1")
	if err != nil {
		t.Fatalf("首轮同步失败: %v", err)
	}
	if result.Total != 2 || result.Created != 2 || result.Existing != 0 {
		t.Errorf("首轮 result = %+v, want total 2 created 2", result)
	}

	// 第二轮：远端不变，应全部按已存在计数，不产生新行
	result, err = svc.SyncMerchants(context.Background(), "p1")
	if err != nil {
		t.Fatalf("二轮同步失败: %v", err)
	}
	if result.Created != 0 || result.Existing != 2 {
		t.Errorf("二轮 result = %+v, want created 0 existing 2", result)
	}

	merchants, err := repo.ListByPrincipal(context.Background(), "p1")
	if err != nil {
		t.Fatalf("查询商户失败: %v", err)
	}
	if len(merchants) != 2 {
		t.Fatalf("商户数 = %d, want 2", len(merchants))
	}

	var m1 *model.Merchant
	for i := range merchants {
		if merchants[i].PlatformMerchantID == "m1" {
			m1 = &merchants[i]
		}
	}
	if m1 == nil {
		t.Fatal("未找到 m1")
	}
	if m1.Name != "门店一" || m1.CorporateName != "一号餐饮" {
		t.Errorf("m1 字段 = %s / %s", m1.Name, m1.CorporateName)
	}
	if !m1.Available {
		t.Error("新建商户默认应在售")
	}
}

func TestMerchantService_SyncMerchants_SkipsEntryWithoutID(t *testing.T) {
	svc, repo := setupMerchantTestEnv(t, merchantListHandler(
		`[{"id":"","name":"无 id"},{"id":"m1","name":"正常"}]`))

	result, err := svc.SyncMerchants(context.Background(), "p1")
	if err != nil {
		t.Fatalf("同步失败: %v", err)
	}
	if result.Created != 1 {
		t.Errorf("created = %d, want 1", result.Created)
	}
	if len(result.Errors) != 1 {
		t.Errorf("errors = %v, want 1 条", result.Errors)
	}

	merchants, _ := repo.ListByPrincipal(context.Background(), "p1")
	if len(merchants) != 1 {
		t.Errorf("商户数 = %d, want 1", len(merchants))
	}
}

func TestMerchantService_SyncMerchants_PreexistingCountedExisting(t *testing.T) {
	svc, repo := setupMerchantTestEnv(t, merchantListHandler(
		`[{"id":"m1","name":"门店一"}]`))

	repo.Create(context.Background(), &model.Merchant{
		PlatformMerchantID: "m1", PrincipalID: "p1", Name: "旧名字", Available: true,
	})

	result, err := svc.SyncMerchants(context.Background(), "p1")
	if err != nil {
		t.Fatalf("同步失败: %v", err)
	}
	if result.Existing != 1 || result.Created != 0 {
		t.Errorf("result = %+v, want existing 1", result)
	}

	// 已存在商户本轮不动，名称不被覆盖
	m, _ := repo.GetByPlatformID(context.Background(), "p1", "m1")
	if m.Name != "旧名字" {
		t.Errorf("name = %s, 同步不应覆盖已有商户", m.Name)
	}
}

// racingMerchantRepo 在每次 Create 之前抢先插入同一行，
// 模拟并发轮次在查重和插入之间撞车的时序
type racingMerchantRepo struct {
	repository.MerchantRepository
}

func (r *racingMerchantRepo) Create(ctx context.Context, merchant *model.Merchant) error {
	sneak := &model.Merchant{
		PlatformMerchantID: merchant.PlatformMerchantID,
		PrincipalID:        merchant.PrincipalID,
		Name:               merchant.Name,
		Available:          true,
	}
	if err := r.MerchantRepository.Create(ctx, sneak); err != nil {
		return err
	}
	return r.MerchantRepository.Create(ctx, merchant)
}

func TestMerchantService_SyncMerchants_ConcurrentDuplicateCountedExisting(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&model.PlatformCredential{}, &model.Merchant{}); err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}

	server := httptest.NewServer(merchantListHandler(`[{"id":"m1","name":"门店一"}]`))
	t.Cleanup(server.Close)

	credRepo := repository.NewCredentialRepository(db)
	merchantRepo := repository.NewMerchantRepository(db)

	now := time.Now()
	credRepo.Create(context.Background(), &model.PlatformCredential{
		PrincipalID: "p1", ClientID: "c", ClientSecret: "s",
		AccessToken:    "test-token",
		ExpiresAtRaw:   strconv.FormatInt(now.Add(time.Hour).Unix(), 10),
		TokenUpdatedAt: &now,
		TokenStatus:    model.TokenStatusValid,
	})

	cfg := &PlatformConfig{BaseURL: server.URL, AuthURL: server.URL}
	dispatcher := net.NewDispatcher(5 * time.Second)
	tokenSvc := NewTokenService(credRepo, dispatcher, cfg)
	svc := NewMerchantService(&racingMerchantRepo{merchantRepo}, tokenSvc, dispatcher, cfg)

	// 插入被并发轮次抢先，唯一约束冲突按已存在计，整轮不算失败
	result, err := svc.SyncMerchants(context.Background(), "p1")
	if err != nil {
		t.Fatalf("同步失败: %v", err)
	}
	if result.Existing != 1 || result.Created != 0 {
		t.Errorf("result = %+v, want existing 1 created 0", result)
	}
	if len(result.Errors) != 0 {
		t.Errorf("唯一约束冲突不应记为错误: %v", result.Errors)
	}
	if !result.Success {
		t.Error("冲突轮次整体仍应成功")
	}

	merchants, _ := merchantRepo.ListByPrincipal(context.Background(), "p1")
	if len(merchants) != 1 {
		t.Errorf("商户数 = %d, want 1", len(merchants))
	}
}

func TestMerchantService_RefreshStatus(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/merchants/m1/status" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"available": false,
				"state":     "CLOSED",
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	svc, repo := setupMerchantTestEnv(t, handler)

	merchant := &model.Merchant{
		PlatformMerchantID: "m1", PrincipalID: "p1", Name: "门店一", Available: true,
	}
	repo.Create(context.Background(), merchant)

	if err := svc.RefreshStatus(context.Background(), merchant); err != nil {
		t.Fatalf("状态刷新失败: %v", err)
	}

	// 闭店只翻标记，记录保留
	saved, err := repo.GetByPlatformID(context.Background(), "p1", "m1")
	if err != nil {
		t.Fatalf("商户查询失败: %v", err)
	}
	if saved.Available {
		t.Error("闭店后 available 应为 false")
	}
	if saved.LastSyncAt == nil {
		t.Error("刷新后 last_sync_at 应被更新")
	}
}

func TestMerchantService_SyncOpeningHours(t *testing.T) {
	raw := `{"shifts":[{"dayOfWeek":"MONDAY","start":"10:00:00","duration":480}]}`
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/merchants/m1/opening-hours" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(raw))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	svc, repo := setupMerchantTestEnv(t, handler)

	merchant := &model.Merchant{
		PlatformMerchantID: "m1", PrincipalID: "p1", Name: "门店一", Available: true,
	}
	repo.Create(context.Background(), merchant)

	if err := svc.SyncOpeningHours(context.Background(), merchant); err != nil {
		t.Fatalf("营业时间同步失败: %v", err)
	}

	saved, _ := repo.GetByPlatformID(context.Background(), "p1", "m1")
	var stored map[string]interface{}
	if err := json.Unmarshal(saved.OpeningHours, &stored); err != nil {
		t.Fatalf("落库的营业时间不是合法 JSON: %v", err)
	}
	if _, ok := stored["shifts"]; !ok {
		t.Errorf("营业时间应原样保留 shifts 字段, got %s", saved.OpeningHours)
	}
}

func TestMerchantService_SyncMerchants_PlatformError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	svc, _ := setupMerchantTestEnv(t, handler)

	if _, err := svc.SyncMerchants(context.Background(), "p1"); err == nil {
		t.Fatal("平台 5xx 应返回错误")
	}
}
