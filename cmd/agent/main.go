// クライアントエージェントのエントリポイント。
// アプリケーションのオリジンをローカルで中継し、オフライン時はキャッシュから応答する。
// プッシュの受信と通知クリックの処理も行う。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nao1215/fogpush/internal/agent"
	"github.com/nao1215/fogpush/internal/browser"
	"github.com/nao1215/fogpush/internal/config"
	"github.com/nao1215/fogpush/pkg/logging"
	"github.com/nao1215/fogpush/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
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
	cfg, err := config.LoadAgent(os.Getenv("AGENT_CONFIG"))
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	log := logging.New("agent", cfg.LogLevel, true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var storage agent.CacheStorage = agent.NewMemoryStorage()
	if cfg.CacheDBPath != "" {
		s, err := agent.OpenSQLiteStorage(ctx, cfg.CacheDBPath, log)
		if err != nil {
			return fmt.Errorf("キャッシュストレージの初期化に失敗: %w", err)
		}
		defer s.Close()
		storage = s
	}

	scope := cfg.Scope
	if scope == "" {
		scope = fmt.Sprintf("http://localhost:%s/", cfg.Port)
	}
	var opener func(string) error
	if cfg.OpenBrowser {
		opener = browser.Open
	}

	reg := prometheus.NewRegistry()
	center := agent.NewNotificationCenter()
	clients := agent.NewClientRegistry(scope, opener, agent.WithClientTTL(cfg.ClientTTL))

	a, err := agent.New(agent.Config{
		CacheName:   cfg.CacheName,
		Origin:      cfg.OriginURL,
		ShellAssets: cfg.ShellAssets,
		BypassHosts: cfg.BypassHosts,
		Scope:       scope,
		Icon:        cfg.Icon,
	}, storage,
		agent.WithNotifier(center),
		agent.WithClients(clients),
		agent.WithMetrics(metrics.NewAgent(reg)),
		agent.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("エージェントの初期化に失敗: %w", err)
	}
	// オリジンに接続できなくても、以前のキャッシュで応答できるよう起動は続ける
	if err := a.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("新しいバージョンを有効化できませんでした。既存のキャッシュで動作します")
	}

	server := agent.NewServer(agent.ServerConfig{
		Port:          cfg.Port,
		Agent:         a,
		Notifications: center,
		Clients:       clients,
		Gatherer:      reg,
		Log:           log,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("origin", cfg.OriginURL).Msg("エージェントを起動します")
		errCh <- server.Run()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("シャットダウンを開始します")
	case runErr = <-errCh:
		if runErr != nil {
			runErr = fmt.Errorf("エージェントの起動に失敗: %w", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTPサーバーの停止に失敗")
	}
	return runErr
}
