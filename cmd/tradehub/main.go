package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"tradehub/internal/app"
	"tradehub/internal/config"
	"tradehub/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := config.Path()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logger.SetFormat(cfg.App.LogFormat)
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，文件=%s）", cfg.App.Env, cfgPath)
	if strings.EqualFold(cfg.App.LogLevel, "debug") {
		var b strings.Builder
		if err := cfg.Dump(&b); err == nil {
			logger.Debugf("effective config:\n%s", b.String())
		}
	}

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	if err := a.Run(ctx); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
	logger.Infof("tradehub stopped")
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		logger.SetOutput(os.Stdout)
		return nil, nil
	}
	if dir := filepath.Dir(trimmed); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
