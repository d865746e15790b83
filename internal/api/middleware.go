package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yoyo3287258/command-gateway/internal/config"
	"github.com/yoyo3287258/command-gateway/internal/trace"
)

// traceIDKey gin.Context中追踪ID的键
const traceIDKey = "trace_id"

// TraceMiddleware 追踪中间件
// 为每个请求生成新的TraceID，后续处理链只执行一次，完成后输出一条请求日志
func TraceMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		parentID := c.GetHeader(trace.HeaderTraceID)

		_ = trace.Wrap(c.Request.Context(), logger, c.Request.URL.Path, func(ctx context.Context) error {
			span := trace.SpanFromContext(ctx)

			// 设置到Context和响应头
			c.Request = c.Request.WithContext(ctx)
			c.Set(traceIDKey, span.ID)
			c.Header(trace.HeaderTraceID, span.ID)

			c.Next()

			span.AddAttrs(
				slog.String("method", c.Request.Method),
				slog.Int("status", c.Writer.Status()),
				slog.String("client_ip", c.ClientIP()),
			)
			if parentID != "" {
				span.AddAttrs(slog.String("parent_trace_id", parentID))
			}

			if last := c.Errors.Last(); last != nil {
				return last.Err
			}
			return nil
		})
	}
}

// CORSMiddleware CORS跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Requested-With, "+trace.HeaderTraceID)
		c.Header("Access-Control-Expose-Headers", trace.HeaderTraceID)
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimiter 简单的请求限速器（滑动窗口）
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time

	// lastSweep 上次清理空闲客户端的时间
	lastSweep time.Time
}

// NewRateLimiter 创建限速器
func NewRateLimiter(limitPerMinute int) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limitPerMinute,
		window:   time.Minute,
		now:      time.Now,
	}
}

// Allow 检查是否允许请求
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	windowStart := now.Add(-r.window)

	// 每个窗口周期清理一次所有空闲客户端
	if now.Sub(r.lastSweep) >= r.window {
		r.sweep(windowStart)
		r.lastSweep = now
	}

	// 清理过期请求
	valid := r.requests[key][:0]
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		delete(r.requests, key)
	}

	// 检查是否超过限制
	if len(valid) >= r.limit {
		r.requests[key] = valid
		return false
	}

	// 记录请求
	r.requests[key] = append(valid, now)
	return true
}

// sweep 删除窗口内没有请求的客户端
func (r *RateLimiter) sweep(windowStart time.Time) {
	for key, times := range r.requests {
		if len(times) == 0 || !times[len(times)-1].After(windowStart) {
			delete(r.requests, key)
		}
	}
}

// RateLimitMiddleware 请求限速中间件
func RateLimitMiddleware(securityCfg *config.SecurityConfig) gin.HandlerFunc {
	if securityCfg.RateLimitPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	limiter := NewRateLimiter(securityCfg.RateLimitPerMinute)

	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			err := fmt.Errorf("%w: 每分钟最多%d次", errRateLimited, securityCfg.RateLimitPerMinute)
			abortWithError(c, err)
			return
		}
		c.Next()
	}
}
