package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/yoyo3287258/command-gateway/internal/agent"
	"github.com/yoyo3287258/command-gateway/internal/api"
	"github.com/yoyo3287258/command-gateway/internal/config"
	"github.com/yoyo3287258/command-gateway/internal/kafka"
)

// 版本信息（在编译时通过 -ldflags 注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// shutdownTimeout 优雅关闭等待时间
const shutdownTimeout = 15 * time.Second

func main() {
	// 命令行参数
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "configs/config.yaml", "主配置文件路径")
	flag.StringVar(&configPath, "c", "configs/config.yaml", "主配置文件路径 (简写)")
	flag.BoolVar(&showVersion, "version", false, "显示版本信息")
	flag.BoolVar(&showVersion, "v", false, "显示版本信息 (简写)")
	flag.Parse()

	// 显示版本
	if showVersion {
		fmt.Printf("Command Gateway %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		return
	}

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 相对路径以可执行文件所在目录为准
	if !filepath.IsAbs(configPath) {
		if exe, err := os.Executable(); err == nil {
			configPath = filepath.Join(filepath.Dir(exe), configPath)
		}
	}

	// 加载配置（日志器就绪前使用默认日志器）
	configMgr := config.NewManager(configPath, slog.Default())
	if err := configMgr.Load(); err != nil {
		return err
	}

	cfg := configMgr.Get()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(os.Stderr, cfg.Log.SlogLevel(), cfg.Log.Format)
	slog.SetDefault(logger)

	logger.Info("command gateway starting",
		slog.String("version", Version),
		slog.String("config", configPath),
		slog.String("agent", cfg.Agent.URL),
		slog.Bool("propagate_trace_id", cfg.Agent.PropagateTraceID),
	)

	forwarder := agent.NewClient(&cfg.Agent, logger)

	// 审计事件（可选）
	var auditor api.Auditor
	var publisher *kafka.Publisher
	if cfg.Audit.Enabled() {
		var err error
		publisher, err = kafka.NewPublisher(&cfg.Audit)
		if err != nil {
			logger.Warn("kafka unavailable, audit events disabled", slog.Any("error", err))
		} else {
			auditor = publisher
			logger.Info("audit events enabled", slog.Any("brokers", cfg.Audit.Brokers), slog.String("topic", cfg.Audit.Topic))
		}
	}

	// 启动配置文件监听，agent.url 的变更对后续请求生效
	// 其余配置（限速、可信代理、agent客户端参数）在启动时固定
	configMgr.OnReload(func(next *config.Config) {
		logger.Info("agent url in effect", slog.String("agent", next.Agent.URL))
	})
	stopWatch, err := configMgr.WatchChanges()
	if err != nil {
		logger.Warn("config watcher not started", slog.Any("error", err))
	}

	handler := api.NewHandler(configMgr, forwarder, auditor, logger, Version)
	server := api.NewServer(handler, cfg, logger)

	// 优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("服务器启动失败: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", slog.Any("error", err))
	}
	handler.Wait()
	if stopWatch != nil {
		_ = stopWatch()
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Warn("kafka close failed", slog.Any("error", err))
		}
	}

	return nil
}
