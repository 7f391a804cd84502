package dto

// ==================== 请求 ====================

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Username    string `json:"username"`
	Role        string `json:"role"`
}

// ListMerchantsRequest 商户列表请求
type ListMerchantsRequest struct {
	PrincipalID string `form:"principal_id"`
	Keyword     string `form:"keyword"`
	Page        int    `form:"page,default=1"`
	PageSize    int    `form:"page_size,default=20"`
}

// ==================== 响应 ====================

// MerchantListItem 商户列表条目
type MerchantListItem struct {
	ID                 int64  `json:"id"`
	PlatformMerchantID string `json:"platform_merchant_id"`
	PrincipalID        string `json:"principal_id"`
	Name               string `json:"name"`
	CorporateName      string `json:"corporate_name"`
	Available          bool   `json:"available"`
	CatalogID          string `json:"catalog_id"`
}

// ListMerchantsResponse 商户列表响应
type ListMerchantsResponse struct {
	Total int64              `json:"total"`
	List  []MerchantListItem `json:"list"`
}
