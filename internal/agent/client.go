package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yoyo3287258/command-gateway/internal/config"
	"github.com/yoyo3287258/command-gateway/internal/model"
	"github.com/yoyo3287258/command-gateway/internal/trace"
)

// errorBodyLimit 错误信息中保留的响应体长度
const errorBodyLimit = 512

// Client Agent服务客户端
// httpClient 在创建后只读，所有请求共享
type Client struct {
	httpClient       *http.Client
	userAgent        string
	propagateTraceID bool
	maxResponseBytes int64
	logger           *slog.Logger
}

// NewClient 创建Agent客户端
// cfg.Timeout 为0时不覆盖传输层默认超时
func NewClient(cfg *config.AgentConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		userAgent:        cfg.UserAgent,
		propagateTraceID: cfg.PropagateTraceID,
		maxResponseBytes: cfg.MaxResponseBytes,
		logger:           logger,
	}
}

// Forward 将命令转发给Agent服务并返回其结果
// 每次调用只发出一个请求，不重试
func (c *Client) Forward(ctx context.Context, upstreamURL string, cmd *model.Command) (*model.CommandResult, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("序列化命令失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, upstreamURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	traceID := trace.IDFromContext(ctx)
	if c.propagateTraceID && traceID != "" {
		httpReq.Header.Set(trace.HeaderTraceID, traceID)
	}

	c.logger.DebugContext(ctx, "forwarding command",
		slog.String("trace_id", traceID),
		slog.String("type", string(cmd.Type)),
		slog.String("upstream", upstreamURL),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := c.readBody(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(respBody), errorBodyLimit),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: 读取响应失败: %w", ErrMalformedUpstreamResponse, err)
	}

	result, err := decodeResult(respBody)
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "agent responded",
		slog.String("trace_id", traceID),
		slog.Int("status", resp.StatusCode),
		slog.Int("action_items", len(result.ActionItems)),
	)

	return result, nil
}

// readBody 读取响应体，超过上限视为错误
func (c *Client) readBody(r io.Reader) ([]byte, error) {
	if c.maxResponseBytes <= 0 {
		return io.ReadAll(r)
	}

	data, err := io.ReadAll(io.LimitReader(r, c.maxResponseBytes+1))
	if err != nil {
		return data, err
	}
	if int64(len(data)) > c.maxResponseBytes {
		return data[:c.maxResponseBytes], fmt.Errorf("响应体超过 %d 字节", c.maxResponseBytes)
	}
	return data, nil
}

// decodeResult 解析Agent响应为命令结果
func decodeResult(body []byte) (*model.CommandResult, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: 响应不是JSON对象: %s", ErrMalformedUpstreamResponse, truncate(string(body), errorBodyLimit))
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var result model.CommandResult
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpstreamResponse, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: 响应包含多余数据", ErrMalformedUpstreamResponse)
	}
	if result.Type != "" && !result.Type.Valid() {
		return nil, fmt.Errorf("%w: 未知命令类型 %q", ErrMalformedUpstreamResponse, result.Type)
	}

	return &result, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
