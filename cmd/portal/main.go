// SMS・課金管理ポータルのエントリポイント。
// ページ要求へのルートゲート適用、認証フロー、プラットフォームAPIへの転送を担当する。
// ブラウザからアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/smsportal/internal/portal"
	"github.com/nao1215/smsportal/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ポータルの起動に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := portal.LoadConfig(os.Getenv("PORTAL_CONFIG"))
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := portal.NewServer(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("ポータルサーバーの初期化に失敗: %w", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}()

	log.Info("starting portal",
		zap.String("port", cfg.Port),
		zap.String("frontend_url", cfg.FrontendURL),
		zap.String("backend_url", cfg.BackendURL),
	)
	return server.Run(ctx)
}
