package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// CommandType 命令类型
type CommandType string

const (
	CommandTypeSummarize CommandType = "SUMMARIZE"
	CommandTypeSchedule  CommandType = "SCHEDULE"
	CommandTypeGeneral   CommandType = "GENERAL"
	CommandTypeAnalyze   CommandType = "ANALYZE"
	CommandTypeReminder  CommandType = "REMINDER"
	CommandTypeSearch    CommandType = "SEARCH"
)

// CommandTypeInfo 命令类型说明
type CommandTypeInfo struct {
	Type        CommandType `json:"type"`
	Description string      `json:"description"`
}

// commandTypes 按展示顺序排列的命令类型
var commandTypes = []CommandTypeInfo{
	{Type: CommandTypeSummarize, Description: "Summarize the given text or content"},
	{Type: CommandTypeSchedule, Description: "Schedule an event or task"},
	{Type: CommandTypeGeneral, Description: "General conversation or query"},
	{Type: CommandTypeAnalyze, Description: "Analyze data or information"},
	{Type: CommandTypeReminder, Description: "Set or manage reminders"},
	{Type: CommandTypeSearch, Description: "Search for information"},
}

// CommandTypes 返回全部命令类型
func CommandTypes() []CommandTypeInfo {
	out := make([]CommandTypeInfo, len(commandTypes))
	copy(out, commandTypes)
	return out
}

// Valid 是否为已知命令类型
func (t CommandType) Valid() bool {
	for _, info := range commandTypes {
		if info.Type == t {
			return true
		}
	}
	return false
}

// Description 返回命令类型描述，未知类型返回空字符串
func (t CommandType) Description() string {
	for _, info := range commandTypes {
		if info.Type == t {
			return info.Description
		}
	}
	return ""
}

// ParseCommandType 解析命令类型
// 忽略大小写和首尾空白，空值默认为GENERAL
func ParseCommandType(s string) (CommandType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return CommandTypeGeneral, nil
	}

	t := CommandType(s)
	if !t.Valid() {
		return "", &ValidationError{Field: "type", Reason: ReasonUnsupported}
	}
	return t, nil
}

// ErrMalformedCommand 请求体不是合法的命令JSON
var ErrMalformedCommand = errors.New("命令请求体格式错误")

const (
	ReasonBlank       = "blank"
	ReasonUnsupported = "unsupported"
)

// ValidationError 命令校验错误
type ValidationError struct {
	// Field 出错的字段
	Field string `json:"field"`

	// Reason 出错原因: blank, unsupported
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("字段 %s 校验失败: %s", e.Field, e.Reason)
}

// CommandRequest 调用方提交的原始命令
type CommandRequest struct {
	// Prompt 自然语言指令（必填）
	Prompt string `json:"prompt"`

	// Type 命令类型（可选，默认GENERAL）
	Type string `json:"type,omitempty"`

	// Context 上下文数据（可选，原样透传）
	Context map[string]interface{} `json:"context,omitempty"`

	// Metadata 元数据（可选，原样透传）
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Command 校验通过的命令，转发给Agent服务
type Command struct {
	Prompt   string                 `json:"prompt"`
	Type     CommandType            `json:"type"`
	Context  map[string]interface{} `json:"context,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// DecodeCommandRequest 解析原始请求体
// 数字以json.Number保留，保证透传时不丢精度
func DecodeCommandRequest(body []byte) (*CommandRequest, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: 请求体必须是JSON对象", ErrMalformedCommand)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var req CommandRequest
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: 请求体只能包含一个JSON对象", ErrMalformedCommand)
	}

	return &req, nil
}

// Validate 校验原始命令并补全默认值
func Validate(req *CommandRequest) (*Command, error) {
	if req == nil || strings.TrimSpace(req.Prompt) == "" {
		return nil, &ValidationError{Field: "prompt", Reason: ReasonBlank}
	}

	t, err := ParseCommandType(req.Type)
	if err != nil {
		return nil, err
	}

	return &Command{
		Prompt:   req.Prompt,
		Type:     t,
		Context:  req.Context,
		Metadata: req.Metadata,
	}, nil
}

// ParseCommand 解析并校验命令
func ParseCommand(body []byte) (*Command, error) {
	req, err := DecodeCommandRequest(body)
	if err != nil {
		return nil, err
	}
	return Validate(req)
}
