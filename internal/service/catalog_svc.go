package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"github.com/lib/pq"

	"delivery_erp_v1_202608/internal/api/dto"
	"delivery_erp_v1_202608/internal/model"
	"delivery_erp_v1_202608/internal/repository"
	"delivery_erp_v1_202608/pkg/net"
)

// ==================== 结果结构 ====================

// CatalogSyncResult 目录同步结果
type CatalogSyncResult struct {
	CategoriesTotal   int
	CategoriesCreated int
	CategoriesUpdated int
	ItemsTotal        int
	ItemsCreated      int
	ItemsUpdated      int
	Errors            []string
	Success           bool
}

// ==================== CatalogService ====================

// CatalogService 目录同步服务
// 按平台 ID 对账分类与商品；分类先于商品完成，保证外键引用成立
type CatalogService struct {
	merchantRepo repository.MerchantRepository
	categoryRepo repository.CategoryRepository
	productRepo  repository.ProductRepository
	tokenSvc     *TokenService
	dispatcher   net.Dispatcher
	cfg          *PlatformConfig
}

// NewCatalogService 创建目录服务
func NewCatalogService(
	merchantRepo repository.MerchantRepository,
	categoryRepo repository.CategoryRepository,
	productRepo repository.ProductRepository,
	tokenSvc *TokenService,
	dispatcher net.Dispatcher,
	cfg *PlatformConfig,
) *CatalogService {
	return &CatalogService{
		merchantRepo: merchantRepo,
		categoryRepo: categoryRepo,
		productRepo:  productRepo,
		tokenSvc:     tokenSvc,
		dispatcher:   dispatcher,
		cfg:          cfg,
	}
}

// ==================== 目录同步 ====================

// SyncCatalog 同步单个商户的完整目录
// 顺序固定：目录 ID 发现 -> 分类对账 -> 逐分类商品对账
// 单条实体失败只记入 Errors，不中断整轮
func (s *CatalogService) SyncCatalog(ctx context.Context, merchant *model.Merchant) (*CatalogSyncResult, error) {
	result := &CatalogSyncResult{}

	token, err := s.tokenSvc.GetValidToken(ctx, merchant.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("获取 Token 失败: %w", err)
	}

	// 1. 目录 ID 发现（只做一次，之后复用落库值）
	catalogID := merchant.CatalogID
	if catalogID == "" {
		catalogID, err = s.discoverCatalogID(ctx, merchant, token)
		if err != nil {
			return nil, err
		}
		merchant.CatalogID = catalogID
	}

	// 2. 分类对账（必须先于商品）
	categories, err := s.fetchCategories(ctx, merchant, catalogID, token)
	if err != nil {
		return nil, err
	}
	result.Success = true
	result.CategoriesTotal = len(categories)

	for _, rc := range categories {
		if err := s.reconcileCategory(ctx, merchant.ID, &rc, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("分类 %s: %v", rc.ID, err))
			continue
		}

		// 3. 该分类下的商品对账
		time.Sleep(s.cfg.RateDelay)
		items, err := s.fetchItems(ctx, merchant, catalogID, rc.ID, token)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("分类 %s 商品拉取失败: %v", rc.ID, err))
			continue
		}
		result.ItemsTotal += len(items)
		for _, ri := range items {
			if err := s.reconcileItem(ctx, merchant.ID, rc.ID, &ri, result); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("商品 %s: %v", ri.ID, err))
			}
		}
	}

	log.Printf("[CatalogSync] 商户 %s: 分类 %d (新增 %d), 商品 %d (新增 %d), 错误 %d",
		merchant.PlatformMerchantID, result.CategoriesTotal, result.CategoriesCreated,
		result.ItemsTotal, result.ItemsCreated, len(result.Errors))

	return result, nil
}

// discoverCatalogID 查询商户的目录列表并绑定第一个可用目录
func (s *CatalogService) discoverCatalogID(ctx context.Context, merchant *model.Merchant, token string) (string, error) {
	apiURL := fmt.Sprintf("%s/merchants/%s/catalogs", s.cfg.BaseURL, merchant.PlatformMerchantID)
	catalogs := []dto.PlatformCatalog{}
	if err := s.getJSON(ctx, merchant.PrincipalID, apiURL, token, &catalogs); err != nil {
		return "", fmt.Errorf("目录列表拉取失败: %w", err)
	}
	if len(catalogs) == 0 {
		return "", fmt.Errorf("商户 %s 在平台上没有目录", merchant.PlatformMerchantID)
	}

	catalogID := catalogs[0].CatalogID
	if err := s.merchantRepo.UpdateFields(ctx, merchant.ID, map[string]interface{}{
		"catalog_id": catalogID,
	}); err != nil {
		return "", fmt.Errorf("目录 ID 回填失败: %w", err)
	}
	return catalogID, nil
}

func (s *CatalogService) fetchCategories(ctx context.Context, merchant *model.Merchant, catalogID, token string) ([]dto.PlatformCategory, error) {
	apiURL := fmt.Sprintf("%s/merchants/%s/catalogs/%s/categories",
		s.cfg.BaseURL, merchant.PlatformMerchantID, catalogID)
	categories := []dto.PlatformCategory{}
	if err := s.getJSON(ctx, merchant.PrincipalID, apiURL, token, &categories); err != nil {
		return nil, fmt.Errorf("分类拉取失败: %w", err)
	}
	return categories, nil
}

func (s *CatalogService) fetchItems(ctx context.Context, merchant *model.Merchant, catalogID, categoryID, token string) ([]dto.PlatformItem, error) {
	apiURL := fmt.Sprintf("%s/merchants/%s/catalogs/%s/categories/%s/items",
		s.cfg.BaseURL, merchant.PlatformMerchantID, catalogID, categoryID)
	items := []dto.PlatformItem{}
	if err := s.getJSON(ctx, merchant.PrincipalID, apiURL, token, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// ==================== 单实体对账 ====================

// reconcileCategory 分类对账：缺失即建，已存在只更新可变字段
// 本地主键 == 平台分类 ID
func (s *CatalogService) reconcileCategory(ctx context.Context, merchantID int64, rc *dto.PlatformCategory, result *CatalogSyncResult) error {
	if rc.ID == "" {
		return fmt.Errorf("缺少分类 id")
	}

	now := time.Now()
	existing, err := s.categoryRepo.GetByID(ctx, rc.ID)
	if err != nil {
		if !repository.IsNotFound(err) {
			return err
		}
		category := &model.Category{
			ID:           rc.ID,
			MerchantID:   merchantID,
			Name:         rc.Name,
			ExternalCode: rc.ExternalCode,
			Status:       rc.Status,
			Sequence:     rc.Sequence,
			LastSyncAt:   &now,
		}
		if err := s.categoryRepo.Create(ctx, category); err != nil {
			if repository.IsDuplicateKey(err) {
				return nil // 并发轮次已建
			}
			return err
		}
		result.CategoriesCreated++
		return nil
	}

	existing.Name = rc.Name
	existing.ExternalCode = rc.ExternalCode
	existing.Status = rc.Status
	existing.Sequence = rc.Sequence
	existing.LastSyncAt = &now
	if err := s.categoryRepo.Update(ctx, existing); err != nil {
		return err
	}
	result.CategoriesUpdated++
	return nil
}

// reconcileItem 商品对账：本地主键 == 平台商品 ID，分类已先行同步
func (s *CatalogService) reconcileItem(ctx context.Context, merchantID int64, categoryID string, ri *dto.PlatformItem, result *CatalogSyncResult) error {
	if ri.ID == "" {
		return fmt.Errorf("缺少商品 id")
	}

	now := time.Now()
	priceCents := int64(math.Round(ri.Price.Value * 100))
	available := ri.Status == "AVAILABLE"

	existing, err := s.productRepo.GetByID(ctx, ri.ID)
	if err != nil {
		if !repository.IsNotFound(err) {
			return err
		}
		product := &model.Product{
			ID:           ri.ID,
			MerchantID:   merchantID,
			CategoryID:   categoryID,
			Name:         ri.Name,
			Description:  ri.Description,
			ExternalCode: ri.ExternalCode,
			PriceCents:   priceCents,
			Available:    available,
			ImageURL:     ri.ImagePath,
			Tags:         pq.StringArray(ri.DietaryRestrictions),
			LastSyncAt:   &now,
		}
		if ri.Price.Currency != "" {
			product.Currency = ri.Price.Currency
		}
		if err := s.productRepo.Create(ctx, product); err != nil {
			if repository.IsDuplicateKey(err) {
				return nil
			}
			return err
		}
		result.ItemsCreated++
		return nil
	}

	// 可变字段覆盖
	existing.CategoryID = categoryID
	existing.Name = ri.Name
	existing.Description = ri.Description
	existing.ExternalCode = ri.ExternalCode
	existing.PriceCents = priceCents
	existing.Available = available
	existing.ImageURL = ri.ImagePath
	existing.Tags = pq.StringArray(ri.DietaryRestrictions)
	existing.LastSyncAt = &now
	if err := s.productRepo.Update(ctx, existing); err != nil {
		return err
	}
	result.ItemsUpdated++
	return nil
}

// ==================== 辅助 ====================

// getJSON 发送 GET 请求并解析 JSON 响应
func (s *CatalogService) getJSON(ctx context.Context, principalID, url, token string, out interface{}) error {
	req, err := net.BuildPlatformGetRequest(ctx, url, token)
	if err != nil {
		return err
	}

	resp, err := s.dispatcher.Send(ctx, principalID, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("平台接口错误 [%d]: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
