// Package trace 为每个入站请求生成追踪ID并记录耗时
package trace

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// HeaderTraceID 追踪ID请求/响应头
const HeaderTraceID = "X-Trace-ID"

// CompletedMessage 请求完成日志的消息内容
const CompletedMessage = "request completed"

type spanKey struct{}

// NewID 生成追踪ID（UUID v4文本格式）
func NewID() string {
	return uuid.NewString()
}

// Span 单个请求的追踪记录
// 只属于一个请求，不支持并发使用
type Span struct {
	// ID 追踪ID
	ID string

	// Path 请求路径
	Path string

	// Start 开始时间
	Start time.Time

	attrs []slog.Attr
}

// AddAttrs 追加写入完成日志的字段
func (s *Span) AddAttrs(attrs ...slog.Attr) {
	if s == nil {
		return
	}
	s.attrs = append(s.attrs, attrs...)
}

// WithSpan 将Span附加到Context
func WithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanKey{}, span)
}

// SpanFromContext 从Context获取Span
func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(spanKey{}).(*Span)
	return span
}

// IDFromContext 从Context获取追踪ID
func IDFromContext(ctx context.Context) string {
	if span := SpanFromContext(ctx); span != nil {
		return span.ID
	}
	return ""
}

// Wrap 以新的追踪上下文执行一次next
// next只调用一次，完成后（包括出错和panic）输出一条日志，结果原样返回
func Wrap(ctx context.Context, logger *slog.Logger, path string, next func(ctx context.Context) error) (err error) {
	span := &Span{
		ID:    NewID(),
		Path:  path,
		Start: time.Now(),
	}

	defer func() {
		recovered := recover()

		duration := time.Since(span.Start)
		attrs := make([]slog.Attr, 0, len(span.attrs)+5)
		attrs = append(attrs,
			slog.String("trace_id", span.ID),
			slog.String("path", span.Path),
			slog.Duration("duration", duration),
			slog.Int64("duration_ms", duration.Milliseconds()),
		)
		attrs = append(attrs, span.attrs...)

		level := slog.LevelInfo
		switch {
		case recovered != nil:
			level = slog.LevelError
			attrs = append(attrs, slog.Any("panic", recovered))
		case err != nil:
			level = slog.LevelWarn
			attrs = append(attrs, slog.Any("error", err))
		}
		logger.LogAttrs(ctx, level, CompletedMessage, attrs...)

		if recovered != nil {
			panic(recovered)
		}
	}()

	return next(WithSpan(ctx, span))
}
