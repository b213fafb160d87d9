// API Gatewayのエントリポイント。
// シリーズの読み取り・書き込みと通知のAPIを各サービスへ転送する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/catalog/internal/config"
	"github.com/nao1215/catalog/internal/gateway"
	"github.com/nao1215/catalog/pkg/logging"
)

func main() {
	cfg, err := config.Load(config.Defaults{
		Port: "8080",
		NoDB: true,
	})
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := gateway.NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("Gatewayサーバーの初期化に失敗", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Gatewayを起動します", "port", cfg.Port)
		errCh <- server.Run()
	}()

	select {
	case err := <-errCh:
		server.Shutdown()
		logger.Error("Gatewayの起動に失敗", "error", err)
		os.Exit(1)
	case <-ctx.Done():
		logger.Info("Gatewayを停止します")
		server.Shutdown()
	}
}
