// プッシュ通知サーバーのエントリポイント。
// 管理者の手動送信とラウンド状態の変更を受けて、登録済みの全エンドポイントに
// マルチキャスト送信し、無効になったエンドポイントをレジストリから削除する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nao1215/fogpush/internal/config"
	"github.com/nao1215/fogpush/internal/fanout"
	"github.com/nao1215/fogpush/internal/notification"
	"github.com/nao1215/fogpush/internal/registry"
	"github.com/nao1215/fogpush/internal/trigger"
	"github.com/nao1215/fogpush/pkg/httpclient"
	"github.com/nao1215/fogpush/pkg/logging"
	"github.com/nao1215/fogpush/pkg/metrics"
	"github.com/nao1215/fogpush/pkg/pushgateway"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.LoadServer()
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	log := logging.New("notification", cfg.LogLevel, cfg.LogConsole)
	if cfg.WebhookSecret == "" {
		log.Warn().Msg("WEBHOOK_SECRETが未設定のため状態変更Webhookはすべて拒否されます")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := registry.Open(ctx, cfg.DBPath, log)
	if err != nil {
		return fmt.Errorf("レジストリの初期化に失敗: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	transport := pushgateway.New(cfg.PushGatewayURL, cfg.PushServerKey, httpclient.WithTimeout(cfg.PushTimeout))
	engine := fanout.New(store, transport, log, metrics.NewFanout(reg))
	dispatcher := trigger.NewDispatcher(engine, store, log)

	watcher, err := trigger.NewWatcher(store, dispatcher, cfg.StatusPollSpec, log)
	if err != nil {
		return fmt.Errorf("ステータス監視の初期化に失敗: %w", err)
	}
	// 起動前に基準値を記録し、既存の状態で通知しないようにする
	if err := watcher.Poll(ctx); err != nil {
		log.Warn().Err(err).Msg("ラウンド状態の初回取得に失敗。次回のポーリングで基準値を記録します")
	}
	watcher.Start()

	server := notification.NewServer(notification.Config{
		Port:           cfg.Port,
		JWTSecret:      cfg.JWTSecret,
		WebhookSecret:  cfg.WebhookSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		SendRatePerMin: cfg.SendRatePerMin,
		Store:          store,
		Rounds:         watcher,
		Dispatcher:     dispatcher,
		Gatherer:       reg,
		Log:            log,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("通知サービスを起動します")
		errCh <- server.Run()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("シャットダウンを開始します")
	case runErr = <-errCh:
		if runErr != nil {
			runErr = fmt.Errorf("通知サービスの起動に失敗: %w", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTPサーバーの停止に失敗")
	}
	watcher.Stop(shutdownCtx)
	return runErr
}
