package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoyo3287258/command-gateway/internal/config"
)

// Server HTTP API服务器
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	handler    *Handler
	cfg        *config.Config
	logger     *slog.Logger
}

// NewServer 创建HTTP服务器
func NewServer(handler *Handler, cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	// 设置Gin模式
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
		logger.Warn("invalid trusted proxies", slog.Any("error", err))
	}

	// 基础中间件，追踪中间件同时负责请求日志
	engine.Use(gin.Recovery())
	engine.Use(TraceMiddleware(logger))
	engine.Use(CORSMiddleware())
	engine.Use(RateLimitMiddleware(&cfg.Security))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	s := &Server{
		engine:     engine,
		httpServer: httpServer,
		handler:    handler,
		cfg:        cfg,
		logger:     logger,
	}

	// 注册路由
	s.setupRoutes()

	return s
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/health", s.handler.Health)
		api.GET("/command-types", s.handler.ListCommandTypes)
		api.POST("/command", s.handler.Command)
	}

	// 根路径重定向到健康检查
	s.engine.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusTemporaryRedirect, "/api/health")
	})
}

// Start 启动服务器，阻塞直到服务器关闭
func (s *Server) Start() error {
	s.logger.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown 优雅关闭服务器，等待进行中的请求完成
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Engine 获取Gin引擎（用于测试）
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
