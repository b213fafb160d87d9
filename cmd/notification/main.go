// 通知サービスのエントリポイント。
// シリーズコマンドサービスからの通知を保存し、宛先ごとに既読管理する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/catalog/internal/config"
	"github.com/nao1215/catalog/internal/notification"
	"github.com/nao1215/catalog/pkg/logging"
)

func main() {
	cfg, err := config.Load(config.Defaults{
		Port:  "8083",
		DBDSN: "file:/data/notification.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
	})
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := notification.NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("通知サーバーの初期化に失敗", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("通知サービスを起動します", "port", cfg.Port)
		errCh <- server.Run()
	}()

	select {
	case err := <-errCh:
		server.Shutdown()
		logger.Error("通知サービスの起動に失敗", "error", err)
		os.Exit(1)
	case <-ctx.Done():
		logger.Info("通知サービスを停止します")
		server.Shutdown()
	}
}
