// シリーズコマンドサービスのエントリポイント。
// シリーズの登録・更新・削除とファイルの登録を提供し、登録時に通知サービスへ通知する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/catalog/internal/config"
	"github.com/nao1215/catalog/internal/series/command"
	"github.com/nao1215/catalog/pkg/logging"
)

func main() {
	cfg, err := config.Load(config.Defaults{
		Port:  "8082",
		DBDSN: "file:/data/catalog.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
	})
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := command.NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("シリーズコマンドサーバーの初期化に失敗", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("シリーズコマンドサービスを起動します", "port", cfg.Port)
		errCh <- server.Run()
	}()

	select {
	case err := <-errCh:
		server.Shutdown()
		logger.Error("シリーズコマンドサービスの起動に失敗", "error", err)
		os.Exit(1)
	case <-ctx.Done():
		logger.Info("シリーズコマンドサービスを停止します")
		server.Shutdown()
	}
}
