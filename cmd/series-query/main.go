// シリーズクエリサービスのエントリポイント。
// 検索条件によるシリーズの検索とID検索、ファイルの取得を提供する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/catalog/internal/config"
	"github.com/nao1215/catalog/internal/series/query"
	"github.com/nao1215/catalog/pkg/logging"
)

func main() {
	cfg, err := config.Load(config.Defaults{
		Port:  "8081",
		DBDSN: "file:/data/catalog.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
	})
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := query.NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("シリーズクエリサーバーの初期化に失敗", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("シリーズクエリサービスを起動します", "port", cfg.Port)
		errCh <- server.Run()
	}()

	select {
	case err := <-errCh:
		server.Shutdown()
		logger.Error("シリーズクエリサービスの起動に失敗", "error", err)
		os.Exit(1)
	case <-ctx.Done():
		logger.Info("シリーズクエリサービスを停止します")
		server.Shutdown()
	}
}
