package utils

import (
	"time"

	"github.com/go-resty/resty/v2"
)

// NewPollingClient 创建事件轮询专用的 Resty 客户端
// 轮询接口调用频繁且返回体小，超时给得比普通业务请求短
func NewPollingClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("User-Agent", "Delivery-ERP/1.0").
		SetHeader("Accept", "application/json")
}
