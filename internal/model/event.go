package model

import "time"

const (
	OutcomeSucceeded = "succeeded"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// CommandEvent 命令审计事件，每个处理过的命令发送一条
type CommandEvent struct {
	// TraceID 请求追踪ID
	TraceID string `json:"trace_id"`

	// Path 请求路径
	Path string `json:"path"`

	// CommandType 命令类型（校验失败时为空）
	CommandType CommandType `json:"command_type,omitempty"`

	// Outcome 处理结果: succeeded, rejected, failed
	Outcome string `json:"outcome"`

	// ErrorKind 错误类别（成功时为空）
	ErrorKind string `json:"error_kind,omitempty"`

	// StatusCode 返回给调用方的HTTP状态码
	StatusCode int `json:"status_code"`

	// UpstreamStatus Agent服务返回的HTTP状态码（未收到响应时为0）
	UpstreamStatus int `json:"upstream_status,omitempty"`

	// ActionItemCount 返回的待办事项数量
	ActionItemCount int `json:"action_item_count"`

	// DurationMs 处理耗时（毫秒）
	DurationMs int64 `json:"duration_ms"`

	// CreatedAt 事件创建时间
	CreatedAt time.Time `json:"created_at"`
}
