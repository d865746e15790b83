package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config 主配置结构
type Config struct {
	// Server HTTP服务器配置
	Server ServerConfig `yaml:"server"`

	// Security 安全配置
	Security SecurityConfig `yaml:"security"`

	// Agent 下游Agent服务配置
	Agent AgentConfig `yaml:"agent"`

	// Audit 审计事件配置
	Audit AuditConfig `yaml:"audit"`

	// Log 日志配置
	Log LogConfig `yaml:"log"`
}

// ServerConfig HTTP服务器配置
type ServerConfig struct {
	// Host 监听地址
	Host string `yaml:"host"`

	// Port 监听端口
	Port int `yaml:"port"`

	// ReadTimeout 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxBodyBytes 请求体大小上限
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	// RateLimitPerMinute 每个客户端IP每分钟请求限制，0表示不限制
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// TrustedProxies 可信代理IP列表（用于获取真实客户端IP）
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// AgentConfig 下游Agent服务配置
type AgentConfig struct {
	// URL 命令转发地址，支持环境变量格式 ${AGENT_URL}
	URL string `yaml:"url"`

	// Timeout 请求超时，0表示使用传输层默认值
	Timeout time.Duration `yaml:"timeout"`

	// PropagateTraceID 是否通过 X-Trace-ID 头传递追踪ID
	PropagateTraceID bool `yaml:"propagate_trace_id"`

	// MaxResponseBytes 响应体大小上限
	MaxResponseBytes int64 `yaml:"max_response_bytes"`

	// UserAgent 请求的User-Agent
	UserAgent string `yaml:"user_agent"`
}

// AuditConfig 审计事件配置（Kafka）
type AuditConfig struct {
	// Brokers Kafka broker地址列表，为空则不发送审计事件
	Brokers []string `yaml:"brokers"`

	// Topic 审计事件topic
	Topic string `yaml:"topic"`
}

// Enabled 是否启用审计
func (c AuditConfig) Enabled() bool {
	return len(c.Brokers) > 0 && c.Brokers[0] != ""
}

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别: debug, info, warn, error
	Level string `yaml:"level"`

	// Format 日志格式: json, text
	Format string `yaml:"format"`
}

const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// SlogLevel 转换为slog日志级别
func (c LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Manager 配置管理器
type Manager struct {
	configPath string
	config     *Config

	mu sync.RWMutex

	// onReload 配置重载回调函数
	onReload []func(*Config)

	logger *slog.Logger
}

// NewManager 创建配置管理器
func NewManager(configPath string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		configPath: filepath.Clean(configPath),
		logger:     logger,
	}
}

// Load 加载配置
func (m *Manager) Load() error {
	config, err := LoadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("加载主配置失败: %w", err)
	}

	m.mu.Lock()
	m.config = config
	m.mu.Unlock()

	return nil
}

// LoadFile 读取并解析配置文件
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse 解析YAML配置并设置默认值
func Parse(data []byte) (*Config, error) {
	// 替换环境变量
	content := expandEnvVars(string(data))

	config := Config{
		Agent: AgentConfig{PropagateTraceID: true},
	}
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return nil, err
	}

	// 设置默认值
	setDefaults(&config)

	return &config, nil
}

// Reload 重新加载配置
// 新配置校验失败时保留旧配置
func (m *Manager) Reload() error {
	config, err := LoadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("加载主配置失败: %w", err)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = config
	callbacks := m.onReload
	m.mu.Unlock()

	// 触发回调
	for _, cb := range callbacks {
		cb(config)
	}

	return nil
}

// OnReload 注册配置重载回调
func (m *Manager) OnReload(callback func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = append(m.onReload, callback)
}

// WatchChanges 监听配置文件变化
// 监听所在目录而不是文件本身，编辑器或ConfigMap以rename方式原子替换文件后仍能继续生效
func (m *Manager) WatchChanges() (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// 符号链接的实际目标，ConfigMap通过切换 ..data 链接更新
	realPath, _ := filepath.EvalSymlinks(m.configPath)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				current, _ := filepath.EvalSymlinks(m.configPath)
				written := filepath.Clean(event.Name) == m.configPath &&
					event.Op&(fsnotify.Write|fsnotify.Create) != 0
				relinked := current != "" && current != realPath
				if !written && !relinked {
					continue
				}
				realPath = current

				// 延迟一下，确保文件写入完成
				time.Sleep(100 * time.Millisecond)
				if err := m.Reload(); err != nil {
					m.logger.Warn("config reload failed", slog.String("path", m.configPath), slog.Any("error", err))
				} else {
					m.logger.Info("config reloaded", slog.String("path", m.configPath))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("config watcher error", slog.Any("error", err))
			}
		}
	}()

	if err := watcher.Add(filepath.Dir(m.configPath)); err != nil {
		watcher.Close()
		return nil, err
	}

	return watcher.Close, nil
}

// Get 获取主配置（只读）
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// expandEnvVars 展开环境变量
// 支持 ${VAR} 和 $VAR 格式，未定义的变量保留原样
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return "${" + key + "}"
	})
}

// setDefaults 设置默认值
func setDefaults(config *Config) {
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Server.ReadTimeout == 0 {
		config.Server.ReadTimeout = 30 * time.Second
	}
	if config.Server.WriteTimeout == 0 {
		config.Server.WriteTimeout = 30 * time.Second
	}
	if config.Server.MaxBodyBytes == 0 {
		config.Server.MaxBodyBytes = 1 << 20
	}

	if config.Agent.MaxResponseBytes == 0 {
		config.Agent.MaxResponseBytes = 10 << 20
	}
	if config.Agent.UserAgent == "" {
		config.Agent.UserAgent = "command-gateway"
	}

	if config.Audit.Topic == "" {
		config.Audit.Topic = "command.audit"
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = LogFormatText
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Agent.URL == "" || strings.HasPrefix(c.Agent.URL, "${") {
		errs = append(errs, "agent.url 未设置或环境变量未定义")
	} else if u, err := url.Parse(c.Agent.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("agent.url 不是有效的http(s)地址: %s", c.Agent.URL))
	}
	if c.Agent.Timeout < 0 {
		errs = append(errs, "agent.timeout 不能为负数")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port 超出范围: %d", c.Server.Port))
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Sprintf("log.level 无效: %s", c.Log.Level))
	}
	if c.Log.Format != LogFormatText && c.Log.Format != LogFormatJSON {
		errs = append(errs, fmt.Sprintf("log.format 无效: %s", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证失败:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
