package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrUpstreamUnreachable 无法连接Agent服务（DNS、拒绝连接、超时）
	ErrUpstreamUnreachable = errors.New("Agent服务不可达")

	// ErrUpstreamStatus Agent服务返回非2xx状态码
	ErrUpstreamStatus = errors.New("Agent服务返回错误状态")

	// ErrMalformedUpstreamResponse Agent服务响应无法解析为命令结果
	ErrMalformedUpstreamResponse = errors.New("Agent服务响应格式错误")
)

// 错误类别，用于API错误码和审计事件
const (
	KindUpstreamUnreachable = "upstream_unreachable"
	KindUpstreamTimeout     = "upstream_timeout"
	KindUpstreamError       = "upstream_error"
	KindMalformedResponse   = "malformed_upstream_response"
)

// UpstreamError Agent服务返回的非2xx响应
type UpstreamError struct {
	// StatusCode HTTP状态码
	StatusCode int

	// Body 响应体片段（用于排查）
	Body string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%v: %d", ErrUpstreamStatus, e.StatusCode)
	}
	return fmt.Sprintf("%v: %d, %s", ErrUpstreamStatus, e.StatusCode, e.Body)
}

// Is 使 errors.Is(err, ErrUpstreamStatus) 成立
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamStatus
}

// Kind 返回转发错误的类别，非转发错误返回空字符串
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUpstreamUnreachable) && isTimeout(err):
		return KindUpstreamTimeout
	case errors.Is(err, ErrUpstreamUnreachable):
		return KindUpstreamUnreachable
	case errors.Is(err, ErrUpstreamStatus):
		return KindUpstreamError
	case errors.Is(err, ErrMalformedUpstreamResponse):
		return KindMalformedResponse
	default:
		return ""
	}
}

// StatusCode 返回Agent服务的HTTP状态码，没有收到响应时返回0
func StatusCode(err error) int {
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.StatusCode
	}
	return 0
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
