package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yoyo3287258/command-gateway/internal/agent"
	"github.com/yoyo3287258/command-gateway/internal/config"
	"github.com/yoyo3287258/command-gateway/internal/model"
	"github.com/yoyo3287258/command-gateway/internal/trace"
)

// ConfigSource 提供当前配置
type ConfigSource interface {
	Get() *config.Config
}

// Forwarder 命令转发
type Forwarder interface {
	Forward(ctx context.Context, upstreamURL string, cmd *model.Command) (*model.CommandResult, error)
}

// Auditor 审计事件发送
type Auditor interface {
	Publish(ctx context.Context, event *model.CommandEvent) error
}

// Handler API处理器
type Handler struct {
	configs   ConfigSource
	forwarder Forwarder
	auditor   Auditor
	logger    *slog.Logger
	version   string

	// pending 进行中的审计发送
	pending sync.WaitGroup
}

// NewHandler 创建API处理器
// auditor 为nil时不发送审计事件
func NewHandler(configs ConfigSource, forwarder Forwarder, auditor Auditor, logger *slog.Logger, version string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		configs:   configs,
		forwarder: forwarder,
		auditor:   auditor,
		logger:    logger,
		version:   version,
	}
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "up",
		"time":    time.Now(),
		"version": h.version,
	})
}

// ListCommandTypes 获取命令类型列表
func (h *Handler) ListCommandTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": model.CommandTypes(),
	})
}

// Command 处理命令请求：校验后转发给Agent服务
func (h *Handler) Command(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()
	span := trace.SpanFromContext(ctx)
	cfg := h.configs.Get()

	event := &model.CommandEvent{
		TraceID: trace.IDFromContext(ctx),
		Path:    c.Request.URL.Path,
	}

	// 1. 读取请求体
	reader := c.Request.Body
	if cfg.Server.MaxBodyBytes > 0 {
		reader = http.MaxBytesReader(c.Writer, reader, cfg.Server.MaxBodyBytes)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		h.fail(c, event, start, err)
		return
	}

	// 2. 解析并校验命令
	cmd, err := model.ParseCommand(body)
	if err != nil {
		h.fail(c, event, start, err)
		return
	}
	event.CommandType = cmd.Type
	span.AddAttrs(slog.String("command_type", string(cmd.Type)))

	// 3. 转发给Agent服务
	result, err := h.forwarder.Forward(ctx, cfg.Agent.URL, cmd)
	if err != nil {
		h.fail(c, event, start, err)
		return
	}

	// 4. 返回结果
	c.JSON(http.StatusOK, result)

	event.Outcome = model.OutcomeSucceeded
	event.StatusCode = http.StatusOK
	event.ActionItemCount = len(result.ActionItems)
	h.publish(ctx, event, start)
}

// fail 返回错误响应并发送审计事件
func (h *Handler) fail(c *gin.Context, event *model.CommandEvent, start time.Time, err error) {
	status := abortWithError(c, err)

	event.StatusCode = status
	event.ErrorKind = mapErrorCode(err)
	event.UpstreamStatus = agent.StatusCode(err)
	if status >= http.StatusInternalServerError {
		event.Outcome = model.OutcomeFailed
	} else {
		event.Outcome = model.OutcomeRejected
	}
	trace.SpanFromContext(c.Request.Context()).AddAttrs(slog.String("error_kind", event.ErrorKind))

	h.publish(c.Request.Context(), event, start)
}

// publish 异步发送审计事件，失败只记录日志
func (h *Handler) publish(ctx context.Context, event *model.CommandEvent, start time.Time) {
	if h.auditor == nil {
		return
	}

	event.DurationMs = time.Since(start).Milliseconds()
	event.CreatedAt = time.Now()

	ctx = context.WithoutCancel(ctx)
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()
		if err := h.auditor.Publish(ctx, event); err != nil {
			h.logger.WarnContext(ctx, "audit publish failed",
				slog.String("trace_id", event.TraceID),
				slog.Any("error", err),
			)
		}
	}()
}

// Wait 等待所有进行中的审计事件发送完成
// 应在HTTP服务器关闭之后、审计发送器关闭之前调用
func (h *Handler) Wait() {
	h.pending.Wait()
}

func mapErrorCode(err error) string {
	_, body := mapError(err)
	return body.Code
}
