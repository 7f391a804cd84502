package net

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Dispatcher 网络调度器 (通用组件)
type Dispatcher interface {
	// Send 发送 HTTP 请求
	// principalID: 发起请求的商户主体标识，用于日志与限流归因
	// req: 标准的 http.Request 对象
	Send(ctx context.Context, principalID string, req *http.Request) (*http.Response, error)
}

// httpDispatcher 是 Dispatcher 接口的具体实现
// 注意：它是私有的，外部只能通过 NewDispatcher 获取接口
type httpDispatcher struct {
	client     *http.Client
	maxRetries int
	retryWait  time.Duration
}

var _ Dispatcher = (*httpDispatcher)(nil)

// NewDispatcher 创建调度器
// timeout 为单次请求的总超时，超时等同于请求失败，由调用方统计
func NewDispatcher(timeout time.Duration) Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tr := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &httpDispatcher{
		client: &http.Client{
			Transport: tr,
			Timeout:   timeout,
		},
		maxRetries: 2,
		retryWait:  500 * time.Millisecond,
	}
}

// Send 发送 HTTP 请求 (网络层错误自动重试)
// 业务层错误 (4xx/5xx) 原样返回响应，由调用方决定如何处理
func (d *httpDispatcher) Send(ctx context.Context, principalID string, req *http.Request) (*http.Response, error) {
	var lastErr error

	for i := 0; i <= d.maxRetries; i++ {
		// 重试前检查上下文
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// 带 Body 的请求重试前需要重建 Body
		if i > 0 && req.Body != nil {
			if req.GetBody == nil {
				break // 无法重放，放弃重试
			}
			body, err := req.GetBody()
			if err != nil {
				break
			}
			req.Body = body
		}

		resp, err := d.client.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if i < d.maxRetries {
			time.Sleep(d.retryWait)
		}
	}

	return nil, fmt.Errorf("request failed after retries (principal=%s): %v", principalID, lastErr)
}
