package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"gorm.io/datatypes"

	"delivery_erp_v1_202608/internal/api/dto"
	"delivery_erp_v1_202608/internal/model"
	"delivery_erp_v1_202608/internal/repository"
	"delivery_erp_v1_202608/pkg/net"
)

// ==================== 错误与结果类型 ====================

// ErrInvalidTransition 状态机不允许的迁移，在任何写入之前拒绝
var ErrInvalidTransition = errors.New("invalid status transition")

// MirrorState 远端镜像结果状态
type MirrorState int

const (
	// MirrorSynced 本地与远端一致
	MirrorSynced MirrorState = iota
	// MirrorLocalOnly 本地已写入，远端镜像调用失败（分歧态）
	MirrorLocalOnly
)

// MirrorResult 远端镜像结果
// 镜像失败不回滚本地写入，调用方必须显式处理 LocalOnly 分支
type MirrorResult struct {
	State     MirrorState
	RemoteErr string
}

// Synced 构造一致结果
func Synced() MirrorResult {
	return MirrorResult{State: MirrorSynced}
}

// LocalOnly 构造分歧结果
func LocalOnly(err error) MirrorResult {
	msg := "remote mirror failed"
	if err != nil {
		msg = err.Error()
	}
	return MirrorResult{State: MirrorLocalOnly, RemoteErr: msg}
}

// StatusUpdateResult 状态更新结果
type StatusUpdateResult struct {
	OrderID        int64
	PreviousStatus string
	Status         string
	Mirror         MirrorResult
}

// PollResult 一轮事件轮询的聚合结果
type PollResult struct {
	Fetched  int
	Applied  int
	Imported int
	Skipped  int
	Failed   int
}

// ==================== OrderService ====================

// statusEndpoints 本地状态到平台生命周期接口的映射
var statusEndpoints = map[string]string{
	model.OrderStatusConfirmed:      "confirm",
	model.OrderStatusPreparing:      "startPreparation",
	model.OrderStatusReadyForPickup: "readyToPickup",
	model.OrderStatusDispatched:     "dispatch",
	model.OrderStatusConcluded:      "conclude",
	model.OrderStatusCancelled:      "cancel",
}

// eventStatusTargets 平台事件代码到目标状态的映射
// PLC 不在表里：新订单走导入路径而不是状态迁移
var eventStatusTargets = map[string]string{
	model.EventCodeConfirmed:      model.OrderStatusConfirmed,
	model.EventCodePreparing:      model.OrderStatusPreparing,
	model.EventCodeReadyForPickup: model.OrderStatusReadyForPickup,
	model.EventCodeDispatched:     model.OrderStatusDispatched,
	model.EventCodeConcluded:      model.OrderStatusConcluded,
	model.EventCodeCancelled:      model.OrderStatusCancelled,
}

// OrderService 订单状态同步服务
// 本地写入是系统自身的事实来源；远端镜像失败以分歧形式暴露给运营，
// 不做自动回滚（平台自身的业务规则可能合法地拒绝本地合法的迁移）
type OrderService struct {
	orderRepo    repository.OrderRepository
	eventRepo    repository.OrderEventRepository
	merchantRepo repository.MerchantRepository
	tokenSvc     *TokenService
	dispatcher   net.Dispatcher
	poller       *resty.Client
	cfg          *PlatformConfig
}

// NewOrderService 创建订单服务
func NewOrderService(
	orderRepo repository.OrderRepository,
	eventRepo repository.OrderEventRepository,
	merchantRepo repository.MerchantRepository,
	tokenSvc *TokenService,
	dispatcher net.Dispatcher,
	poller *resty.Client,
	cfg *PlatformConfig,
) *OrderService {
	return &OrderService{
		orderRepo:    orderRepo,
		eventRepo:    eventRepo,
		merchantRepo: merchantRepo,
		tokenSvc:     tokenSvc,
		dispatcher:   dispatcher,
		poller:       poller,
		cfg:          cfg,
	}
}

// ==================== 状态更新（唯一入口） ====================

// UpdateStatus 推进订单状态
// 本地操作和平台事件都走这一个入口，状态机校验只此一处
//  1. 校验迁移，不合法直接拒绝，存储不动
//  2. 本地无条件写入（校验通过后本地状态即事实）
//  3. 本地发起的变更镜像到平台；失败记分歧，不回滚
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, newStatus, actor string) (*StatusUpdateResult, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("订单不存在: %w", err)
	}

	// 1. 状态机校验
	if !order.CanTransitionTo(newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, newStatus)
	}

	// 2. 本地写入
	// 写入失败是唯一按致命处理的错误类别
	now := time.Now()
	prev := order.Status
	fields := map[string]interface{}{
		"status":            newStatus,
		"previous_status":   prev,
		"status_updated_at": now,
		"status_updated_by": actor,
		"remote_synced":     true,
		"remote_sync_error": "",
	}
	if err := s.orderRepo.UpdateFields(ctx, orderID, fields); err != nil {
		return nil, fmt.Errorf("本地状态写入失败: %w", err)
	}

	result := &StatusUpdateResult{
		OrderID:        orderID,
		PreviousStatus: prev,
		Status:         newStatus,
		Mirror:         Synced(),
	}

	// 3. 远端镜像
	// 平台发起的变更远端本来就是新状态，无需回推
	if actor == model.ActorRemote {
		return result, nil
	}

	if err := s.mirrorTransition(ctx, order, newStatus); err != nil {
		if uerr := s.orderRepo.UpdateFields(ctx, orderID, map[string]interface{}{
			"remote_synced":     false,
			"remote_sync_error": err.Error(),
		}); uerr != nil {
			log.Printf("[Order] 订单 %d 分歧标记写入失败: %v", orderID, uerr)
		}
		log.Printf("[Order] 订单 %d 远端镜像失败 (%s -> %s): %v", orderID, prev, newStatus, err)
		result.Mirror = LocalOnly(err)
	}

	return result, nil
}

// mirrorTransition 调用平台生命周期接口回推状态
func (s *OrderService) mirrorTransition(ctx context.Context, order *model.Order, newStatus string) error {
	endpoint, ok := statusEndpoints[newStatus]
	if !ok {
		return fmt.Errorf("状态 %s 没有对应的平台接口", newStatus)
	}

	merchant, err := s.merchantRepo.GetByID(ctx, order.MerchantID)
	if err != nil {
		return fmt.Errorf("商户查询失败: %w", err)
	}

	token, err := s.tokenSvc.GetValidToken(ctx, merchant.PrincipalID)
	if err != nil {
		return fmt.Errorf("获取 Token 失败: %w", err)
	}

	apiURL := fmt.Sprintf("%s/orders/%s/%s", s.cfg.BaseURL, order.PlatformOrderID, endpoint)
	req, err := net.BuildPlatformPostRequest(ctx, apiURL, nil, token)
	if err != nil {
		return err
	}

	resp, err := s.dispatcher.Send(ctx, merchant.PrincipalID, req)
	if err != nil {
		return fmt.Errorf("请求平台失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("平台拒绝 [%d]: %s", resp.StatusCode, string(body))
	}
	return nil
}

// RetryMirror 运营手动重推分歧订单的当前状态
func (s *OrderService) RetryMirror(ctx context.Context, orderID int64) error {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("订单不存在: %w", err)
	}
	if order.RemoteSynced {
		return nil // 无分歧
	}

	if err := s.mirrorTransition(ctx, order, order.Status); err != nil {
		if uerr := s.orderRepo.UpdateFields(ctx, orderID, map[string]interface{}{
			"remote_sync_error": err.Error(),
		}); uerr != nil {
			log.Printf("[Order] 订单 %d 分歧信息更新失败: %v", orderID, uerr)
		}
		return err
	}

	return s.orderRepo.UpdateFields(ctx, orderID, map[string]interface{}{
		"remote_synced":     true,
		"remote_sync_error": "",
	})
}

// ==================== 事件轮询（平台发起的变更） ====================

// PollEvents 拉取主体的待处理订单事件并逐条应用
// 事件通过同一个 UpdateStatus 入口应用，状态机对双向变更一视同仁；
// 处理过的事件统一确认，结果落事件日志（由保留作业清理）
func (s *OrderService) PollEvents(ctx context.Context, principalID string) (*PollResult, error) {
	result := &PollResult{}

	token, err := s.tokenSvc.GetValidToken(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("获取 Token 失败: %w", err)
	}

	// ForceContentType：平台偶发漏发 Content-Type，不能因此静默拉回空事件
	var events []dto.PlatformEvent
	resp, err := s.poller.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetResult(&events).
		ForceContentType("application/json").
		Get("/events:polling")
	if err != nil {
		return nil, fmt.Errorf("事件轮询失败: %w", err)
	}
	if resp.StatusCode() == http.StatusNoContent {
		return result, nil
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("事件轮询错误 [%d]: %s", resp.StatusCode(), resp.String())
	}

	result.Fetched = len(events)
	acks := make([]dto.EventAck, 0, len(events))

	for _, ev := range events {
		// 处理与否都要确认，否则平台会无限重投
		acks = append(acks, dto.EventAck{ID: ev.ID})
		s.handleEvent(ctx, principalID, &ev, result)
	}

	if len(acks) > 0 {
		if err := s.acknowledgeEvents(ctx, principalID, token, acks); err != nil {
			// 确认失败下一轮会重新拉到同批事件，EventID 去重兜底
			log.Printf("[OrderPoll] 主体 %s 事件确认失败: %v", principalID, err)
		}
	}

	return result, nil
}

// handleEvent 应用单个平台事件
func (s *OrderService) handleEvent(ctx context.Context, principalID string, ev *dto.PlatformEvent, result *PollResult) {
	// 幂等去重：同一事件只处理一次
	exists, err := s.eventRepo.ExistsByEventID(ctx, ev.ID)
	if err == nil && exists {
		result.Skipped++
		return
	}

	logEntry := &model.OrderEvent{
		EventID:         ev.ID,
		PlatformOrderID: ev.OrderID,
		PrincipalID:     principalID,
		Code:            ev.Code,
		ReceivedAt:      time.Now(),
	}
	if payload, err := json.Marshal(ev); err == nil {
		logEntry.Payload = datatypes.JSON(payload)
	}

	applyErr := s.applyEvent(ctx, principalID, ev)
	if applyErr != nil {
		logEntry.ApplyError = applyErr.Error()
		result.Failed++
		log.Printf("[OrderPoll] 事件 %s (%s) 应用失败: %v", ev.ID, ev.Code, applyErr)
	} else {
		logEntry.Applied = true
		if ev.Code == model.EventCodePlaced {
			result.Imported++
		} else {
			result.Applied++
		}
	}

	if err := s.eventRepo.Create(ctx, logEntry); err != nil && !repository.IsDuplicateKey(err) {
		log.Printf("[OrderPoll] 事件 %s 落库失败: %v", ev.ID, err)
	}
}

// applyEvent 把事件映射为状态迁移或订单导入
func (s *OrderService) applyEvent(ctx context.Context, principalID string, ev *dto.PlatformEvent) error {
	// 新订单：导入而不是迁移
	if ev.Code == model.EventCodePlaced {
		_, err := s.ImportOrder(ctx, principalID, ev.OrderID)
		return err
	}

	target, ok := eventStatusTargets[ev.Code]
	if !ok {
		return fmt.Errorf("未知事件代码 %s", ev.Code)
	}

	order, err := s.orderRepo.GetByPlatformOrderID(ctx, ev.OrderID)
	if err != nil {
		if !repository.IsNotFound(err) {
			return err
		}
		// 本地没见过的订单先补导入，再应用事件
		order, err = s.ImportOrder(ctx, principalID, ev.OrderID)
		if err != nil {
			return fmt.Errorf("订单补导入失败: %w", err)
		}
	}

	if order.Status == target {
		return nil // 已是目标状态
	}

	_, err = s.UpdateStatus(ctx, order.ID, target, model.ActorRemote)
	return err
}

// acknowledgeEvents 批量确认已消费的事件
func (s *OrderService) acknowledgeEvents(ctx context.Context, principalID, token string, acks []dto.EventAck) error {
	resp, err := s.poller.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetBody(acks).
		Post("/events/acknowledgment")
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("确认接口错误 [%d]: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// ==================== 订单导入 ====================

// ImportOrder 从平台拉取订单详情并建本地行
// 并发轮询可能同时导入同一单，唯一索引冲突时返回已存在的行
func (s *OrderService) ImportOrder(ctx context.Context, principalID, platformOrderID string) (*model.Order, error) {
	if existing, err := s.orderRepo.GetByPlatformOrderID(ctx, platformOrderID); err == nil {
		return existing, nil
	}

	token, err := s.tokenSvc.GetValidToken(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("获取 Token 失败: %w", err)
	}

	apiURL := fmt.Sprintf("%s/orders/%s", s.cfg.BaseURL, platformOrderID)
	req, err := net.BuildPlatformGetRequest(ctx, apiURL, token)
	if err != nil {
		return nil, err
	}

	resp, err := s.dispatcher.Send(ctx, principalID, req)
	if err != nil {
		return nil, fmt.Errorf("订单详情拉取失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("平台接口错误 [%d]: %s", resp.StatusCode, string(body))
	}

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var remote dto.PlatformOrder
	if err := json.NewDecoder(bytes.NewReader(rawBody)).Decode(&remote); err != nil {
		return nil, fmt.Errorf("解析订单详情失败: %w", err)
	}

	merchant, err := s.merchantRepo.GetByPlatformID(ctx, principalID, remote.MerchantID)
	if err != nil {
		return nil, fmt.Errorf("订单归属商户 %s 本地不存在: %w", remote.MerchantID, err)
	}

	now := time.Now()
	order := &model.Order{
		PlatformOrderID: remote.ID,
		MerchantID:      merchant.ID,
		DisplayID:       remote.DisplayID,
		Status:          model.OrderStatusPlaced,
		StatusUpdatedAt: &now,
		StatusUpdatedBy: model.ActorRemote,
		RemoteSynced:    true,
		TotalCents:      int64(math.Round(remote.Total.OrderAmount * 100)),
		RawPayload:      datatypes.JSON(rawBody),
	}
	if remote.Total.Currency != "" {
		order.Currency = remote.Total.Currency
	}
	if len(remote.Customer) > 0 {
		var customer datatypes.JSONMap
		if err := json.Unmarshal(remote.Customer, &customer); err == nil {
			order.Customer = customer
		}
	}
	if len(remote.Payments) > 0 {
		var payment datatypes.JSONMap
		if err := json.Unmarshal(remote.Payments, &payment); err == nil {
			order.Payment = payment
		}
	}
	if len(remote.Items) > 0 {
		order.Items = datatypes.JSON(remote.Items)
	}
	if remote.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, remote.CreatedAt); err == nil {
			order.PlacedAt = &t
		}
	}

	if err := s.orderRepo.Create(ctx, order); err != nil {
		if repository.IsDuplicateKey(err) {
			return s.orderRepo.GetByPlatformOrderID(ctx, platformOrderID)
		}
		return nil, fmt.Errorf("订单入库失败: %w", err)
	}

	return order, nil
}

// ==================== 查询与统计 ====================

// GetOrder 订单详情
func (s *OrderService) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	return s.orderRepo.GetByID(ctx, id)
}

// ListOrders 订单列表（后台展示）
func (s *OrderService) ListOrders(ctx context.Context, req *dto.ListOrdersRequest) (*dto.ListOrdersResponse, error) {
	filter := repository.OrderFilter{
		MerchantID: req.MerchantID,
		Status:     req.Status,
		Keyword:    req.Keyword,
		Page:       req.Page,
		PageSize:   req.PageSize,
	}

	if req.StartDate != "" {
		if t, err := time.Parse("2006-01-02", req.StartDate); err == nil {
			filter.StartDate = &t
		}
	}
	if req.EndDate != "" {
		if t, err := time.Parse("2006-01-02", req.EndDate); err == nil {
			endOfDay := t.Add(24*time.Hour - time.Second)
			filter.EndDate = &endOfDay
		}
	}

	orders, total, err := s.orderRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("查询订单列表失败: %w", err)
	}

	merchantNames := map[int64]string{}
	list := make([]dto.OrderListItem, len(orders))
	for i, order := range orders {
		name, ok := merchantNames[order.MerchantID]
		if !ok {
			if m, err := s.merchantRepo.GetByID(ctx, order.MerchantID); err == nil {
				name = m.Name
			}
			merchantNames[order.MerchantID] = name
		}
		list[i] = dto.OrderListItem{
			ID:              order.ID,
			PlatformOrderID: order.PlatformOrderID,
			DisplayID:       order.DisplayID,
			MerchantID:      order.MerchantID,
			MerchantName:    name,
			Status:          order.Status,
			PreviousStatus:  order.PreviousStatus,
			RemoteSynced:    order.RemoteSynced,
			TotalAmount:     order.GetTotal(),
			Currency:        order.Currency,
			PlacedAt:        order.PlacedAt,
			CreatedAt:       order.CreatedAt,
		}
	}

	return &dto.ListOrdersResponse{Total: total, List: list}, nil
}

// ListDivergent 分歧订单列表（本地已更新但远端镜像失败）
func (s *OrderService) ListDivergent(ctx context.Context, merchantID int64) ([]dto.DivergentOrderItem, error) {
	orders, err := s.orderRepo.ListDivergent(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("查询分歧订单失败: %w", err)
	}

	list := make([]dto.DivergentOrderItem, len(orders))
	for i, order := range orders {
		list[i] = dto.DivergentOrderItem{
			ID:              order.ID,
			PlatformOrderID: order.PlatformOrderID,
			MerchantID:      order.MerchantID,
			Status:          order.Status,
			PreviousStatus:  order.PreviousStatus,
			RemoteSyncError: order.RemoteSyncError,
			StatusUpdatedAt: order.StatusUpdatedAt,
		}
	}
	return list, nil
}

// GetOrderStats 订单统计
func (s *OrderService) GetOrderStats(ctx context.Context, req *dto.OrderStatsRequest) (*dto.OrderStatsResponse, error) {
	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return nil, fmt.Errorf("起始日期格式错误")
	}
	endDate, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		return nil, fmt.Errorf("结束日期格式错误")
	}
	endDate = endDate.Add(24*time.Hour - time.Second)

	stats, err := s.orderRepo.GetStats(ctx, req.MerchantID, startDate, endDate)
	if err != nil {
		return nil, err
	}

	avgOrderValue := float64(0)
	if stats.TotalOrders > 0 {
		avgOrderValue = float64(stats.TotalCents) / float64(stats.TotalOrders) / 100
	}

	return &dto.OrderStatsResponse{
		TotalOrders:      stats.TotalOrders,
		TotalAmount:      float64(stats.TotalCents) / 100,
		PlacedOrders:     stats.PlacedOrders,
		ConfirmedOrders:  stats.ConfirmedOrders,
		PreparingOrders:  stats.PreparingOrders,
		DispatchedOrders: stats.DispatchedOrders,
		ConcludedOrders:  stats.ConcludedOrders,
		CancelledOrders:  stats.CancelledOrders,
		DivergentOrders:  stats.DivergentOrders,
		AvgOrderValue:    avgOrderValue,
	}, nil
}
