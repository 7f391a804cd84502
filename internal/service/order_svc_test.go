package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"delivery_erp_v1_202608/internal/api/dto"
	"delivery_erp_v1_202608/internal/model"
	"delivery_erp_v1_202608/internal/repository"
	"delivery_erp_v1_202608/pkg/net"
	"delivery_erp_v1_202608/pkg/utils"
)

// ==================== 测试辅助 ====================

type orderTestEnv struct {
	db       *gorm.DB
	svc      *OrderService
	orders   repository.OrderRepository
	events   repository.OrderEventRepository
	merchant *model.Merchant
}

// platformStub 模拟平台端：记录生命周期调用，可按需返回失败
type platformStub struct {
	mu              sync.Mutex
	mirrorCalls     []string // 收到的生命周期 path
	ackBodies       []string
	events          []dto.PlatformEvent
	mirrorCode      int // 生命周期接口返回码，0 表示 200
	omitContentType bool
	orders          map[string]dto.PlatformOrder
}

func (p *platformStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()

		switch {
		case r.URL.Path == "/events:polling":
			if len(p.events) == 0 {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			if !p.omitContentType {
				w.Header().Set("Content-Type", "application/json")
			}
			json.NewEncoder(w).Encode(p.events)

		case r.URL.Path == "/events/acknowledgment":
			body, _ := io.ReadAll(r.Body)
			p.ackBodies = append(p.ackBodies, string(body))
			w.WriteHeader(http.StatusAccepted)

		case r.Method == http.MethodGet && len(r.URL.Path) > 8 && r.URL.Path[:8] == "/orders/":
			id := r.URL.Path[8:]
			order, ok := p.orders[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(order)

		case r.Method == http.MethodPost:
			// 生命周期接口 /orders/{id}/{action}
			p.mirrorCalls = append(p.mirrorCalls, r.URL.Path)
			if p.mirrorCode != 0 {
				w.WriteHeader(p.mirrorCode)
				return
			}
			w.WriteHeader(http.StatusOK)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func setupOrderTestEnv(t *testing.T, stub *platformStub) (*orderTestEnv, *httptest.Server) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	err = db.AutoMigrate(
		&model.PlatformCredential{}, &model.Merchant{},
		&model.Order{}, &model.OrderEvent{},
	)
	if err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}

	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)

	credRepo := repository.NewCredentialRepository(db)
	merchantRepo := repository.NewMerchantRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	eventRepo := repository.NewOrderEventRepository(db)

	cfg := &PlatformConfig{BaseURL: server.URL, AuthURL: server.URL, RateDelay: 0}
	dispatcher := net.NewDispatcher(5 * time.Second)
	tokenSvc := NewTokenService(credRepo, dispatcher, cfg)

	// 预置有效凭证，测试中不触发刷新
	now := time.Now()
	credRepo.Create(context.Background(), &model.PlatformCredential{
		PrincipalID: "p1", ClientID: "c", ClientSecret: "s",
		AccessToken:    "test-token",
		ExpiresAtRaw:   strconv.FormatInt(now.Add(time.Hour).Unix(), 10),
		TokenUpdatedAt: &now,
		TokenStatus:    model.TokenStatusValid,
	})

	merchant := &model.Merchant{
		PlatformMerchantID: "m1",
		PrincipalID:        "p1",
		Name:               "测试门店",
		Available:          true,
	}
	if err := merchantRepo.Create(context.Background(), merchant); err != nil {
		t.Fatalf("创建商户失败: %v", err)
	}

	svc := NewOrderService(orderRepo, eventRepo, merchantRepo, tokenSvc, dispatcher,
		utils.NewPollingClient(server.URL), cfg)

	return &orderTestEnv{
		db:       db,
		svc:      svc,
		orders:   orderRepo,
		events:   eventRepo,
		merchant: merchant,
	}, server
}

func (env *orderTestEnv) createOrder(t *testing.T, status string) *model.Order {
	order := &model.Order{
		PlatformOrderID: "po-1",
		MerchantID:      env.merchant.ID,
		DisplayID:       "1001",
		Status:          status,
		RemoteSynced:    true,
	}
	if err := env.orders.Create(context.Background(), order); err != nil {
		t.Fatalf("创建订单失败: %v", err)
	}
	return order
}

// ==================== 状态机 ====================

func TestOrderService_UpdateStatus_ValidTransition(t *testing.T) {
	stub := &platformStub{}
	env, _ := setupOrderTestEnv(t, stub)
	order := env.createOrder(t, model.OrderStatusPlaced)

	result, err := env.svc.UpdateStatus(context.Background(), order.ID, model.OrderStatusConfirmed, model.ActorLocal)
	if err != nil {
		t.Fatalf("状态更新失败: %v", err)
	}

	if result.Status != model.OrderStatusConfirmed {
		t.Errorf("status = %s, want CONFIRMED", result.Status)
	}
	if result.PreviousStatus != model.OrderStatusPlaced {
		t.Errorf("previous_status = %s, want PLACED", result.PreviousStatus)
	}
	if result.Mirror.State != MirrorSynced {
		t.Errorf("mirror state = %v, want MirrorSynced", result.Mirror.State)
	}

	saved, _ := env.orders.GetByID(context.Background(), order.ID)
	if saved.Status != model.OrderStatusConfirmed {
		t.Errorf("落库 status = %s, want CONFIRMED", saved.Status)
	}
	if saved.StatusUpdatedBy != model.ActorLocal {
		t.Errorf("status_updated_by = %s, want local", saved.StatusUpdatedBy)
	}
	if !saved.RemoteSynced {
		t.Error("镜像成功后 remote_synced 应为 true")
	}

	// 平台生命周期接口被调用
	if len(stub.mirrorCalls) != 1 || stub.mirrorCalls[0] != "/orders/po-1/confirm" {
		t.Errorf("mirror calls = %v, want [/orders/po-1/confirm]", stub.mirrorCalls)
	}
}

func TestOrderService_UpdateStatus_InvalidTransitionRejected(t *testing.T) {
	stub := &platformStub{}
	env, _ := setupOrderTestEnv(t, stub)
	order := env.createOrder(t, model.OrderStatusPlaced)

	// PLACED 不能直接跳到 DISPATCHED
	_, err := env.svc.UpdateStatus(context.Background(), order.ID, model.OrderStatusDispatched, model.ActorLocal)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	// 存储未被触碰
	saved, _ := env.orders.GetByID(context.Background(), order.ID)
	if saved.Status != model.OrderStatusPlaced {
		t.Errorf("非法迁移后 status = %s, 应保持 PLACED", saved.Status)
	}
	if len(stub.mirrorCalls) != 0 {
		t.Errorf("非法迁移不应触达平台, calls = %v", stub.mirrorCalls)
	}
}

func TestOrderService_UpdateStatus_TerminalStatusLocked(t *testing.T) {
	stub := &platformStub{}
	env, _ := setupOrderTestEnv(t, stub)
	order := env.createOrder(t, model.OrderStatusConcluded)

	// 终态后连取消也不允许
	_, err := env.svc.UpdateStatus(context.Background(), order.ID, model.OrderStatusCancelled, model.ActorLocal)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("终态迁移应被拒绝, err = %v", err)
	}
}

func TestOrderService_UpdateStatus_CancelFromAnyActive(t *testing.T) {
	for _, from := range []string{
		model.OrderStatusPlaced,
		model.OrderStatusConfirmed,
		model.OrderStatusPreparing,
		model.OrderStatusReadyForPickup,
		model.OrderStatusDispatched,
	} {
		t.Run(from, func(t *testing.T) {
			stub := &platformStub{}
			env, _ := setupOrderTestEnv(t, stub)
			order := env.createOrder(t, from)

			result, err := env.svc.UpdateStatus(context.Background(), order.ID, model.OrderStatusCancelled, model.ActorLocal)
			if err != nil {
				t.Fatalf("从 %s 取消失败: %v", from, err)
			}
			if result.Status != model.OrderStatusCancelled {
				t.Errorf("status = %s, want CANCELLED", result.Status)
			}
			if len(stub.mirrorCalls) != 1 || stub.mirrorCalls[0] != "/orders/po-1/cancel" {
				t.Errorf("mirror calls = %v, want [/orders/po-1/cancel]", stub.mirrorCalls)
			}
		})
	}
}

// ==================== 分歧处理 ====================

func TestOrderService_UpdateStatus_MirrorFailureKeepsLocal(t *testing.T) {
	stub := &platformStub{mirrorCode: http.StatusInternalServerError}
	env, _ := setupOrderTestEnv(t, stub)
	order := env.createOrder(t, model.OrderStatusPlaced)

	result, err := env.svc.UpdateStatus(context.Background(), order.ID, model.OrderStatusConfirmed, model.ActorLocal)
	if err != nil {
		t.Fatalf("镜像失败不应导致整体失败: %v", err)
	}

	if result.Mirror.State != MirrorLocalOnly {
		t.Fatalf("mirror state = %v, want MirrorLocalOnly", result.Mirror.State)
	}
	if result.Mirror.RemoteErr == "" {
		t.Error("分歧结果应携带远端错误信息")
	}

	// 本地写入保留，不回滚
	saved, _ := env.orders.GetByID(context.Background(), order.ID)
	if saved.Status != model.OrderStatusConfirmed {
		t.Errorf("本地 status = %s, 应保持 CONFIRMED", saved.Status)
	}
	if saved.RemoteSynced {
		t.Error("镜像失败后 remote_synced 应为 false")
	}
	if saved.RemoteSyncError == "" {
		t.Error("remote_sync_error 应记录失败原因")
	}
}

func TestOrderService_UpdateStatus_RemoteActorSkipsMirror(t *testing.T) {
	stub := &platformStub{}
	env, _ := setupOrderTestEnv(t, stub)
	order := env.createOrder(t, model.OrderStatusPlaced)

	result, err := env.svc.UpdateStatus(context.Background(), order.ID, model.OrderStatusConfirmed, model.ActorRemote)
	if err != nil {
		t.Fatalf("状态更新失败: %v", err)
	}
	if result.Mirror.State != MirrorSynced {
		t.Errorf("平台发起的变更视为已同步, got %v", result.Mirror.State)
	}

	// 远端本来就是新状态，不应回推
	if len(stub.mirrorCalls) != 0 {
		t.Errorf("remote 变更不应触达平台, calls = %v", stub.mirrorCalls)
	}
}

func TestOrderService_RetryMirror(t *testing.T) {
	stub := &platformStub{mirrorCode: http.StatusInternalServerError}
	env, _ := setupOrderTestEnv(t, stub)
	order := env.createOrder(t, model.OrderStatusPlaced)

	// 先制造分歧
	env.svc.UpdateStatus(context.Background(), order.ID, model.OrderStatusConfirmed, model.ActorLocal)

	// 平台恢复后重推
	stub.mu.Lock()
	stub.mirrorCode = 0
	stub.mu.Unlock()

	if err := env.svc.RetryMirror(context.Background(), order.ID); err != nil {
		t.Fatalf("重推失败: %v", err)
	}

	saved, _ := env.orders.GetByID(context.Background(), order.ID)
	if !saved.RemoteSynced {
		t.Error("重推成功后 remote_synced 应为 true")
	}
	if saved.RemoteSyncError != "" {
		t.Errorf("remote_sync_error 应清空, got %s", saved.RemoteSyncError)
	}
}

func TestOrderService_ListDivergent(t *testing.T) {
	stub := &platformStub{mirrorCode: http.StatusBadGateway}
	env, _ := setupOrderTestEnv(t, stub)
	order := env.createOrder(t, model.OrderStatusPlaced)

	env.svc.UpdateStatus(context.Background(), order.ID, model.OrderStatusConfirmed, model.ActorLocal)

	list, err := env.svc.ListDivergent(context.Background(), 0)
	if err != nil {
		t.Fatalf("查询分歧订单失败: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("分歧订单数 = %d, want 1", len(list))
	}
	if list[0].PlatformOrderID != "po-1" {
		t.Errorf("platform_order_id = %s, want po-1", list[0].PlatformOrderID)
	}
}

// ==================== 事件轮询 ====================

func TestOrderService_PollEvents_AppliesAndAcks(t *testing.T) {
	stub := &platformStub{
		events: []dto.PlatformEvent{
			{ID: "ev-1", Code: model.EventCodeConfirmed, OrderID: "po-1"},
		},
	}
	env, _ := setupOrderTestEnv(t, stub)
	order := env.createOrder(t, model.OrderStatusPlaced)

	result, err := env.svc.PollEvents(context.Background(), "p1")
	if err != nil {
		t.Fatalf("轮询失败: %v", err)
	}
	if result.Fetched != 1 || result.Applied != 1 {
		t.Errorf("result = %+v, want fetched 1 applied 1", result)
	}

	// 事件驱动的状态迁移生效
	saved, _ := env.orders.GetByID(context.Background(), order.ID)
	if saved.Status != model.OrderStatusConfirmed {
		t.Errorf("status = %s, want CONFIRMED", saved.Status)
	}
	if saved.StatusUpdatedBy != model.ActorRemote {
		t.Errorf("status_updated_by = %s, want remote", saved.StatusUpdatedBy)
	}

	// 事件已确认
	if len(stub.ackBodies) != 1 {
		t.Fatalf("ack 次数 = %d, want 1", len(stub.ackBodies))
	}
	var acks []dto.EventAck
	json.Unmarshal([]byte(stub.ackBodies[0]), &acks)
	if len(acks) != 1 || acks[0].ID != "ev-1" {
		t.Errorf("acks = %v, want [ev-1]", acks)
	}

	// 事件日志落库
	exists, _ := env.events.ExistsByEventID(context.Background(), "ev-1")
	if !exists {
		t.Error("事件日志应已落库")
	}
}

func TestOrderService_PollEvents_DedupeByEventID(t *testing.T) {
	stub := &platformStub{
		events: []dto.PlatformEvent{
			{ID: "ev-1", Code: model.EventCodeConfirmed, OrderID: "po-1"},
		},
	}
	env, _ := setupOrderTestEnv(t, stub)
	env.createOrder(t, model.OrderStatusPlaced)

	env.svc.PollEvents(context.Background(), "p1")

	// 平台重投同一事件
	result, err := env.svc.PollEvents(context.Background(), "p1")
	if err != nil {
		t.Fatalf("二次轮询失败: %v", err)
	}
	if result.Skipped != 1 || result.Applied != 0 {
		t.Errorf("重投事件应被去重, result = %+v", result)
	}
}

func TestOrderService_PollEvents_UnknownCodeRecordedAndAcked(t *testing.T) {
	stub := &platformStub{
		events: []dto.PlatformEvent{
			{ID: "ev-x", Code: "XYZ", OrderID: "po-1"},
		},
	}
	env, _ := setupOrderTestEnv(t, stub)
	env.createOrder(t, model.OrderStatusPlaced)

	result, err := env.svc.PollEvents(context.Background(), "p1")
	if err != nil {
		t.Fatalf("轮询失败: %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("未知代码应计入 failed, result = %+v", result)
	}

	// 未知事件同样落库、同样确认，避免平台无限重投
	exists, _ := env.events.ExistsByEventID(context.Background(), "ev-x")
	if !exists {
		t.Error("未知事件也应落库")
	}
	if len(stub.ackBodies) != 1 {
		t.Errorf("未知事件也应确认, acks = %d", len(stub.ackBodies))
	}
}

func TestOrderService_PollEvents_PlacedImportsOrder(t *testing.T) {
	stub := &platformStub{
		events: []dto.PlatformEvent{
			{ID: "ev-new", Code: model.EventCodePlaced, OrderID: "po-new"},
		},
		orders: map[string]dto.PlatformOrder{
			"po-new": {
				ID:         "po-new",
				DisplayID:  "2002",
				MerchantID: "m1",
				CreatedAt:  time.Now().Format(time.RFC3339),
				Total:      dto.PlatformOrderTotal{OrderAmount: 57.9, Currency: "BRL"},
			},
		},
	}
	env, _ := setupOrderTestEnv(t, stub)

	result, err := env.svc.PollEvents(context.Background(), "p1")
	if err != nil {
		t.Fatalf("轮询失败: %v", err)
	}
	if result.Imported != 1 {
		t.Errorf("imported = %d, want 1", result.Imported)
	}

	order, err := env.orders.GetByPlatformOrderID(context.Background(), "po-new")
	if err != nil {
		t.Fatalf("导入的订单查询失败: %v", err)
	}
	if order.Status != model.OrderStatusPlaced {
		t.Errorf("status = %s, want PLACED", order.Status)
	}
	if order.TotalCents != 5790 {
		t.Errorf("total_cents = %d, want 5790", order.TotalCents)
	}
	if order.MerchantID != env.merchant.ID {
		t.Errorf("merchant_id = %d, want %d", order.MerchantID, env.merchant.ID)
	}
}

func TestOrderService_PollEvents_MissingContentType(t *testing.T) {
	// 平台偶发漏发 Content-Type，事件不能因此被静默丢弃
	stub := &platformStub{
		omitContentType: true,
		events: []dto.PlatformEvent{
			{ID: "ev-1", Code: model.EventCodeConfirmed, OrderID: "po-1"},
		},
	}
	env, _ := setupOrderTestEnv(t, stub)
	order := env.createOrder(t, model.OrderStatusPlaced)

	result, err := env.svc.PollEvents(context.Background(), "p1")
	if err != nil {
		t.Fatalf("轮询失败: %v", err)
	}
	if result.Fetched != 1 || result.Applied != 1 {
		t.Errorf("result = %+v, want fetched 1 applied 1", result)
	}

	saved, _ := env.orders.GetByID(context.Background(), order.ID)
	if saved.Status != model.OrderStatusConfirmed {
		t.Errorf("status = %s, want CONFIRMED", saved.Status)
	}
}

func TestOrderService_PollEvents_NoContent(t *testing.T) {
	stub := &platformStub{}
	env, _ := setupOrderTestEnv(t, stub)

	result, err := env.svc.PollEvents(context.Background(), "p1")
	if err != nil {
		t.Fatalf("空事件流轮询失败: %v", err)
	}
	if result.Fetched != 0 {
		t.Errorf("fetched = %d, want 0", result.Fetched)
	}
	if len(stub.ackBodies) != 0 {
		t.Error("无事件时不应发送确认")
	}
}
