package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"delivery_erp_v1_202608/internal/api/dto"
	"delivery_erp_v1_202608/internal/model"
	"delivery_erp_v1_202608/internal/repository"
	"delivery_erp_v1_202608/pkg/net"
)

// ==================== 结果结构 ====================

// MerchantSyncResult 商户同步结果
// Success 只反映远端拉取是否成功，单条失败记在 Errors 里
type MerchantSyncResult struct {
	RunID    string
	Total    int
	Created  int
	Existing int
	Errors   []string
	Success  bool
}

// ==================== MerchantService ====================

// MerchantService 商户同步服务
// 负责商户列表对账（只建不删）、营业状态刷新、营业时间拉取
type MerchantService struct {
	merchantRepo repository.MerchantRepository
	tokenSvc     *TokenService
	dispatcher   net.Dispatcher
	cfg          *PlatformConfig
}

// NewMerchantService 创建商户服务
func NewMerchantService(
	merchantRepo repository.MerchantRepository,
	tokenSvc *TokenService,
	dispatcher net.Dispatcher,
	cfg *PlatformConfig,
) *MerchantService {
	return &MerchantService{
		merchantRepo: merchantRepo,
		tokenSvc:     tokenSvc,
		dispatcher:   dispatcher,
		cfg:          cfg,
	}
}

// ==================== 商户列表对账 ====================

// SyncMerchants 同步主体名下的商户列表
// 远端出现而本地没有的商户插入一行；已存在的本轮不动（状态刷新走独立路径）
// check-then-insert 可能与并发轮次撞车，唯一索引冲突按"已存在"计数
func (s *MerchantService) SyncMerchants(ctx context.Context, principalID string) (*MerchantSyncResult, error) {
	result := &MerchantSyncResult{RunID: uuid.NewString()}

	token, err := s.tokenSvc.GetValidToken(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("获取 Token 失败: %w", err)
	}

	req, err := net.BuildPlatformGetRequest(ctx, s.cfg.BaseURL+"/merchants", token)
	if err != nil {
		return nil, fmt.Errorf("构建请求失败: %w", err)
	}

	resp, err := s.dispatcher.Send(ctx, principalID, req)
	if err != nil {
		return nil, fmt.Errorf("请求平台失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("平台接口错误 [%d]: %s", resp.StatusCode, string(body))
	}

	var remoteMerchants []dto.PlatformMerchant
	if err := json.NewDecoder(resp.Body).Decode(&remoteMerchants); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}

	result.Total = len(remoteMerchants)
	result.Success = true

	for _, rm := range remoteMerchants {
		if rm.ID == "" {
			result.Errors = append(result.Errors, "商户条目缺少 id，已跳过")
			continue
		}

		_, err := s.merchantRepo.GetByPlatformID(ctx, principalID, rm.ID)
		if err == nil {
			result.Existing++
			continue
		}
		if !repository.IsNotFound(err) {
			result.Errors = append(result.Errors, fmt.Sprintf("商户 %s 查询失败: %v", rm.ID, err))
			continue
		}

		now := time.Now()
		merchant := &model.Merchant{
			PlatformMerchantID: rm.ID,
			PrincipalID:        principalID,
			Name:               rm.Name,
			CorporateName:      rm.CorporateName,
			Available:          true,
			LastSyncAt:         &now,
		}
		if err := s.merchantRepo.Create(ctx, merchant); err != nil {
			if repository.IsDuplicateKey(err) {
				// 并发轮次先插了一步，等价于已存在
				result.Existing++
				continue
			}
			result.Errors = append(result.Errors, fmt.Sprintf("商户 %s 入库失败: %v", rm.ID, err))
			continue
		}
		result.Created++
	}

	log.Printf("[MerchantSync] 主体 %s: 远端 %d, 新增 %d, 已存在 %d, 错误 %d",
		principalID, result.Total, result.Created, result.Existing, len(result.Errors))

	return result, nil
}

// ==================== 状态刷新 ====================

// RefreshStatus 刷新单个商户的营业状态
// 闭店只翻 Available 标记，本地记录永不删除
func (s *MerchantService) RefreshStatus(ctx context.Context, merchant *model.Merchant) error {
	token, err := s.tokenSvc.GetValidToken(ctx, merchant.PrincipalID)
	if err != nil {
		return fmt.Errorf("获取 Token 失败: %w", err)
	}

	apiURL := fmt.Sprintf("%s/merchants/%s/status", s.cfg.BaseURL, merchant.PlatformMerchantID)
	req, err := net.BuildPlatformGetRequest(ctx, apiURL, token)
	if err != nil {
		return err
	}

	resp, err := s.dispatcher.Send(ctx, merchant.PrincipalID, req)
	if err != nil {
		return fmt.Errorf("请求平台失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("平台接口错误 [%d]: %s", resp.StatusCode, string(body))
	}

	var status dto.PlatformMerchantStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}

	return s.merchantRepo.UpdateAvailability(ctx, merchant.ID, status.Available, time.Now())
}

// ==================== 营业时间 ====================

// SyncOpeningHours 拉取商户营业时间并原样落库
func (s *MerchantService) SyncOpeningHours(ctx context.Context, merchant *model.Merchant) error {
	token, err := s.tokenSvc.GetValidToken(ctx, merchant.PrincipalID)
	if err != nil {
		return fmt.Errorf("获取 Token 失败: %w", err)
	}

	apiURL := fmt.Sprintf("%s/merchants/%s/opening-hours", s.cfg.BaseURL, merchant.PlatformMerchantID)
	req, err := net.BuildPlatformGetRequest(ctx, apiURL, token)
	if err != nil {
		return err
	}

	resp, err := s.dispatcher.Send(ctx, merchant.PrincipalID, req)
	if err != nil {
		return fmt.Errorf("请求平台失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("平台接口错误 [%d]: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	return s.merchantRepo.UpdateFields(ctx, merchant.ID, map[string]interface{}{
		"opening_hours": datatypes.JSON(body),
	})
}

// PushOpeningHours 把本地保存的营业时间推回平台
func (s *MerchantService) PushOpeningHours(ctx context.Context, merchant *model.Merchant) error {
	if len(merchant.OpeningHours) == 0 {
		return fmt.Errorf("商户 %s 本地没有营业时间数据", merchant.PlatformMerchantID)
	}

	token, err := s.tokenSvc.GetValidToken(ctx, merchant.PrincipalID)
	if err != nil {
		return fmt.Errorf("获取 Token 失败: %w", err)
	}

	apiURL := fmt.Sprintf("%s/merchants/%s/opening-hours", s.cfg.BaseURL, merchant.PlatformMerchantID)
	req, err := net.BuildPlatformPutRequest(ctx, apiURL, bytes.NewReader(merchant.OpeningHours), token)
	if err != nil {
		return err
	}

	resp, err := s.dispatcher.Send(ctx, merchant.PrincipalID, req)
	if err != nil {
		return fmt.Errorf("请求平台失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("平台接口错误 [%d]: %s", resp.StatusCode, string(body))
	}
	return nil
}

// ==================== 查询 ====================

// ListMerchants 商户列表（后台展示）
func (s *MerchantService) ListMerchants(ctx context.Context, req *dto.ListMerchantsRequest) (*dto.ListMerchantsResponse, error) {
	merchants, total, err := s.merchantRepo.List(ctx, repository.MerchantFilter{
		PrincipalID: req.PrincipalID,
		Keyword:     req.Keyword,
		Page:        req.Page,
		PageSize:    req.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("查询商户列表失败: %w", err)
	}

	list := make([]dto.MerchantListItem, len(merchants))
	for i, m := range merchants {
		list[i] = dto.MerchantListItem{
			ID:                 m.ID,
			PlatformMerchantID: m.PlatformMerchantID,
			PrincipalID:        m.PrincipalID,
			Name:               m.Name,
			CorporateName:      m.CorporateName,
			Available:          m.Available,
			CatalogID:          m.CatalogID,
		}
	}

	return &dto.ListMerchantsResponse{Total: total, List: list}, nil
}
