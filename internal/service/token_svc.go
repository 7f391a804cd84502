package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"delivery_erp_v1_202608/internal/api/dto"
	"delivery_erp_v1_202608/internal/model"
	"delivery_erp_v1_202608/internal/repository"
	"delivery_erp_v1_202608/pkg/net"
)

// ==================== 配置与错误 ====================

// PlatformConfig 平台接入配置
type PlatformConfig struct {
	BaseURL   string        // 业务 API 根地址
	AuthURL   string        // 鉴权服务根地址
	RateDelay time.Duration // 批量同步时相邻远程调用之间的间隔（平台限流要求）
}

// ErrCredentialMissing 主体没有任何凭证记录
var ErrCredentialMissing = errors.New("credential missing")

// RefreshStats 一轮刷新的聚合统计
type RefreshStats struct {
	Total   int
	Success int
	Failed  int
	Errors  []string
}

// ==================== TokenService ====================

// TokenService Token 生命周期管理
// 负责判定 Token 是否有效、client_credentials 换取新 Token、落库
type TokenService struct {
	credRepo   repository.CredentialRepository
	dispatcher net.Dispatcher
	cfg        *PlatformConfig
}

// NewTokenService 创建 Token 服务
func NewTokenService(credRepo repository.CredentialRepository, dispatcher net.Dispatcher, cfg *PlatformConfig) *TokenService {
	return &TokenService{
		credRepo:   credRepo,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// ==================== 过期值分类 ====================

// 数值型过期值的分类阈值
const (
	epochSecondsFloor = int64(1e9)  // 高于此值视为秒级时间戳
	epochMillisFloor  = int64(1e10) // 高于此值视为毫秒级时间戳
	relativeCeiling   = int64(86400) // 低于此值视为相对秒数
)

// resolveExpiry 把历史遗留的多种过期值编码解析为绝对时间点
// 支持：秒级时间戳 / 毫秒级时间戳 / 相对秒数（以 updatedAt 为基准）/ 日期字符串
// 返回 ok=false 表示无法归类，调用方按"仍然有效"处理（可用性优先，不做激进刷新）
func resolveExpiry(raw string, updatedAt time.Time) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		switch {
		case n > epochMillisFloor:
			return time.UnixMilli(n), true
		case n > epochSecondsFloor:
			return time.Unix(n, 0), true
		case n > 0 && n < relativeCeiling:
			// 相对秒数必须有基准时间
			if updatedAt.IsZero() {
				return time.Time{}, false
			}
			return updatedAt.Add(time.Duration(n) * time.Second), true
		default:
			// 落在 86400 ~ 1e9 的灰色地带，无法归类
			return time.Time{}, false
		}
	}

	// 字符串按日期解析
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// IsTokenExpired 判定凭证当前 Token 是否已过期
// 无法归类的过期值按"未过期"处理（fail-open）
func (s *TokenService) IsTokenExpired(cred *model.PlatformCredential) bool {
	if !cred.HasToken() {
		return true
	}
	var base time.Time
	if cred.TokenUpdatedAt != nil {
		base = *cred.TokenUpdatedAt
	}
	expiry, ok := resolveExpiry(cred.ExpiresAtRaw, base)
	if !ok {
		return false
	}
	return time.Now().After(expiry)
}

// ==================== Token 获取与刷新 ====================

// GetValidToken 获取主体当前可用的 Bearer Token
// 缓存未过期直接返回；过期则现场刷新一次
func (s *TokenService) GetValidToken(ctx context.Context, principalID string) (string, error) {
	cred, err := s.credRepo.GetByPrincipalID(ctx, principalID)
	if err != nil {
		if repository.IsNotFound(err) {
			return "", fmt.Errorf("%w: principal %s", ErrCredentialMissing, principalID)
		}
		return "", err
	}

	if cred.HasToken() && !s.IsTokenExpired(cred) {
		return cred.AccessToken, nil
	}

	if err := s.Refresh(ctx, cred); err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// Refresh 使用 client_credentials 模式换取新 Token 并落库
// 任何失败都不触碰旧 Token，只有拿到新 Token 才覆盖
func (s *TokenService) Refresh(ctx context.Context, cred *model.PlatformCredential) error {
	// 1. 组装请求
	data := url.Values{}
	data.Set("grantType", "client_credentials")
	data.Set("clientId", cred.ClientID)
	data.Set("clientSecret", cred.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.AuthURL+"/oauth/token", strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// 2. 托管发送
	resp, err := s.dispatcher.Send(ctx, cred.PrincipalID, req)

	// A. 网络层错误
	if err != nil {
		return fmt.Errorf("refresh network error: %v", err)
	}
	defer resp.Body.Close()

	// B. 业务层错误 (平台明确拒绝)
	if resp.StatusCode != http.StatusOK {
		// 只有明确收到 400/401 才标记凭证失效
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			if uerr := s.credRepo.UpdateTokenStatus(ctx, cred.ID, model.TokenStatusInvalid); uerr != nil {
				log.Printf("[Token] 主体 %s 状态更新失败: %v", cred.PrincipalID, uerr)
			}
		}
		return fmt.Errorf("refresh denied by platform: status %d", resp.StatusCode)
	}

	// C. 成功处理
	var tokenResp dto.PlatformTokenResponse
	if err = json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return fmt.Errorf("token response decode failed: %v", err)
	}
	if tokenResp.AccessToken == "" {
		return fmt.Errorf("token response missing accessToken")
	}

	// 过期值原样保存：优先 expiresAt，缺省时退回 expiresIn（相对秒数）
	raw := tokenResp.ExpiresAt
	if raw == "" && tokenResp.ExpiresIn > 0 {
		raw = strconv.FormatInt(tokenResp.ExpiresIn, 10)
	}

	now := time.Now()
	if err := s.credRepo.UpdateToken(ctx, cred.ID, tokenResp.AccessToken, raw, now); err != nil {
		return fmt.Errorf("token persist failed: %w", err)
	}

	// 同步内存对象，避免同一轮内重复刷新
	cred.AccessToken = tokenResp.AccessToken
	cred.ExpiresAtRaw = raw
	cred.TokenUpdatedAt = &now
	cred.TokenStatus = model.TokenStatusValid

	return nil
}

// ==================== 批量刷新 ====================

// RefreshAll 全量刷新：无条件刷新每一个已知凭证
// 平台 Token 没有可靠的长期有效承诺，定时全量换新最稳妥
// 单个主体失败不影响其他主体，本轮内不重试（下一轮即重试）
func (s *TokenService) RefreshAll(ctx context.Context) *RefreshStats {
	stats := &RefreshStats{}

	creds, err := s.credRepo.List(ctx)
	if err != nil {
		log.Printf("[Token] 凭证列表查询失败: %v", err)
		stats.Errors = append(stats.Errors, err.Error())
		return stats
	}
	stats.Total = len(creds)

	for i := range creds {
		select {
		case <-ctx.Done():
			log.Println("[Token] 全量刷新超时停止")
			return stats
		default:
		}

		cred := &creds[i]
		if err := s.Refresh(ctx, cred); err != nil {
			stats.Failed++
			stats.Errors = append(stats.Errors, fmt.Sprintf("主体 %s: %v", cred.PrincipalID, err))
			log.Printf("[Token] 主体 %s 刷新失败: %v", cred.PrincipalID, err)
		} else {
			stats.Success++
		}

		// 平滑波峰，遵守平台限流
		time.Sleep(s.cfg.RateDelay)
	}

	return stats
}

// RefreshExpiring 窄口径刷新：只处理 lookahead 窗口内将要过期的凭证
// 在全量刷新之间兜底，避免凭证在两轮之间意外过期
func (s *TokenService) RefreshExpiring(ctx context.Context, lookahead time.Duration) *RefreshStats {
	stats := &RefreshStats{}

	creds, err := s.credRepo.FindExpiring(ctx, lookahead)
	if err != nil {
		log.Printf("[Token] 过期凭证查询失败: %v", err)
		stats.Errors = append(stats.Errors, err.Error())
		return stats
	}

	for i := range creds {
		select {
		case <-ctx.Done():
			return stats
		default:
		}

		cred := &creds[i]
		var base time.Time
		if cred.TokenUpdatedAt != nil {
			base = *cred.TokenUpdatedAt
		}
		expiry, ok := resolveExpiry(cred.ExpiresAtRaw, base)
		if !ok {
			// 无法归类的按有效处理，留给全量刷新兜底
			continue
		}
		if time.Until(expiry) > lookahead {
			continue
		}

		stats.Total++
		if err := s.Refresh(ctx, cred); err != nil {
			stats.Failed++
			stats.Errors = append(stats.Errors, fmt.Sprintf("主体 %s: %v", cred.PrincipalID, err))
			log.Printf("[Token] 主体 %s 刷新失败: %v", cred.PrincipalID, err)
		} else {
			stats.Success++
		}

		time.Sleep(s.cfg.RateDelay)
	}

	return stats
}
