package model

// CommandResult Agent服务返回的命令结果
// 网关只做结构映射，不修改内容
type CommandResult struct {
	// Response 主要文本回复
	Response string `json:"response"`

	// Type 命令类型（Agent可细化原始类型）
	Type CommandType `json:"type,omitempty"`

	// Metadata 元数据
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// ActionItems 后续待办事项，顺序即优先级
	ActionItems []ActionItem `json:"actionItems,omitempty"`
}

// ActionItem 待办事项
type ActionItem struct {
	Description string                 `json:"description"`
	Status      string                 `json:"status"`
	Details     map[string]interface{} `json:"details,omitempty"`
}
