package dto

import "encoding/json"

// ==================== 鉴权 ====================

// PlatformTokenResponse 平台 Token 接口响应
// expiresIn / expiresAt 两种字段历史上都出现过，且 expiresAt 编码不统一，
// 服务层原样保存后再做分类解析
type PlatformTokenResponse struct {
	AccessToken string `json:"accessToken"`
	Type        string `json:"type,omitempty"`
	ExpiresIn   int64  `json:"expiresIn,omitempty"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ==================== 商户 ====================

// PlatformMerchant 平台商户列表条目
type PlatformMerchant struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	CorporateName string `json:"corporateName"`
}

// PlatformMerchantStatus 平台商户状态
type PlatformMerchantStatus struct {
	Available bool   `json:"available"`
	State     string `json:"state"`
	Message   string `json:"message,omitempty"`
}

// PlatformCatalog 平台商品目录
type PlatformCatalog struct {
	CatalogID string   `json:"catalogId"`
	Context   []string `json:"context"`
	Status    string   `json:"status"`
}

// ==================== 目录 ====================

// PlatformCategory 平台分类
type PlatformCategory struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ExternalCode string `json:"externalCode"`
	Status       string `json:"status"`
	Sequence     int    `json:"sequence"`
}

// PlatformPrice 平台价格
type PlatformPrice struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency,omitempty"`
}

// PlatformItem 平台目录条目（商品）
type PlatformItem struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	Description         string        `json:"description"`
	ExternalCode        string        `json:"externalCode"`
	Status              string        `json:"status"` // AVAILABLE / UNAVAILABLE
	Price               PlatformPrice `json:"price"`
	ImagePath           string        `json:"imagePath"`
	DietaryRestrictions []string      `json:"dietaryRestrictions"`
}

// ==================== 订单 ====================

// PlatformOrderTotal 平台订单金额
type PlatformOrderTotal struct {
	OrderAmount float64 `json:"orderAmount"`
	Currency    string  `json:"currency,omitempty"`
}

// PlatformOrder 平台订单详情
// customer / payments / items 对同步核心不透明，保持 RawMessage 原样落库
type PlatformOrder struct {
	ID         string             `json:"id"`
	DisplayID  string             `json:"displayId"`
	MerchantID string             `json:"merchantId"`
	Status     string             `json:"status,omitempty"`
	CreatedAt  string             `json:"createdAt"`
	Customer   json.RawMessage    `json:"customer,omitempty"`
	Payments   json.RawMessage    `json:"payments,omitempty"`
	Items      json.RawMessage    `json:"items,omitempty"`
	Total      PlatformOrderTotal `json:"total"`
}

// PlatformEvent 平台订单事件（轮询返回）
type PlatformEvent struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	OrderID    string `json:"orderId"`
	MerchantID string `json:"merchantId,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

// EventAck 事件确认请求体条目
type EventAck struct {
	ID string `json:"id"`
}
