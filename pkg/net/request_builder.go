package net

import (
	"context"
	"io"
	"net/http"
)

// BuildPlatformRequest 通用平台请求构建器
// 适用方：MerchantService, CatalogService, OrderService 等所有业务服务
// 职责：统一封装鉴权头 (Authorization) 和标准头 (Content-Type)
// 注意：如果 Content-Type 不是 JSON，调用方获取 req 后可手动覆盖 Header
func BuildPlatformRequest(ctx context.Context, method, url string, body io.Reader, accessToken string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	return req, nil
}

// BuildPlatformGetRequest 构建平台 GET 请求
func BuildPlatformGetRequest(ctx context.Context, url string, accessToken string) (*http.Request, error) {
	return BuildPlatformRequest(ctx, http.MethodGet, url, nil, accessToken)
}

// BuildPlatformPostRequest 构建平台 POST 请求
func BuildPlatformPostRequest(ctx context.Context, url string, body io.Reader, accessToken string) (*http.Request, error) {
	return BuildPlatformRequest(ctx, http.MethodPost, url, body, accessToken)
}

// BuildPlatformPutRequest 构建平台 PUT 请求
func BuildPlatformPutRequest(ctx context.Context, url string, body io.Reader, accessToken string) (*http.Request, error) {
	return BuildPlatformRequest(ctx, http.MethodPut, url, body, accessToken)
}
