package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/fogpush/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// controlPrefix はエージェント自身のAPIのパス接頭辞。それ以外のパスはオリジンへ中継する。
const controlPrefix = "/__agent"

// maxPushPayload はプッシュペイロードの上限バイト数。
const maxPushPayload = 4096

// ServerConfig はエージェントのホストサーバーの設定。
type ServerConfig struct {
	// Port はリッスンポート。
	Port string
	// Agent はリクエストとイベントを処理するエージェント。
	Agent *Agent
	// Notifications は表示中の通知一覧の参照先。
	Notifications *NotificationCenter
	// Clients はウィンドウの登録先。
	Clients *ClientRegistry
	// Gatherer はメトリクスの収集元。nilならデフォルトレジストリ。
	Gatherer prometheus.Gatherer
	// Log はロガー。
	Log zerolog.Logger
}

// Server はエージェントをローカルのHTTPプロキシとして公開するサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// httpServer はグレースフルシャットダウンのために保持するHTTPサーバー。
	httpServer *http.Server
	agent      *Agent
	center     *NotificationCenter
	clients    *ClientRegistry
	log        zerolog.Logger
}

// NewServer は新しいホストサーバーを生成する。
func NewServer(cfg ServerConfig) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(middleware.Recovery(cfg.Log))
	router.Use(middleware.Logger(cfg.Log))

	s := &Server{
		router: router,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		agent:   cfg.Agent,
		center:  cfg.Notifications,
		clients: cfg.Clients,
		log:     cfg.Log.With().Str("component", "agent-http").Logger(),
	}
	s.setupRoutes(cfg.Gatherer)
	return s
}

// Handler はルーティング済みのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動する。Shutdownで停止した場合はnilを返す。
func (s *Server) Run() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown は処理中のリクエストを待ってサーバーを停止する。
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes はルーティングを設定する。
func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	ctl := s.router.Group(controlPrefix)
	{
		// プッシュ受信
		ctl.POST("/push", s.handlePush())
		// 表示中の通知一覧
		ctl.GET("/notifications", s.handleListNotifications())
		// 通知クリック
		ctl.POST("/notifications/:tag/click", s.handleClick())
		// ウィンドウの登録と一覧。ページは定期的にPUTで生存を通知し、閉じるときにDELETEする
		ctl.POST("/clients", s.handleRegisterClient())
		ctl.GET("/clients", s.handleListClients())
		ctl.PUT("/clients/:id", s.handleTouchClient())
		ctl.DELETE("/clients/:id", s.handleUnregisterClient())

		ctl.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
		ctl.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "ok",
				"service": "agent",
				"state":   s.agent.State().String(),
				"cache":   s.agent.Config().CacheName,
			})
		})
	}

	// それ以外は全てエージェントを経由してオリジンへ中継する
	s.router.NoRoute(gin.WrapH(s.newProxy()))
}

// newProxy はエージェントをTransportとするリバースプロキシを生成する。
// プロキシ形式（絶対URL）のリクエストはそのホストへ、それ以外はオリジンへ中継する。
func (s *Server) newProxy() *httputil.ReverseProxy {
	origin := s.agent.origin
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if pr.In.URL.IsAbs() {
				pr.Out.Host = ""
				return
			}
			pr.SetURL(origin)
		},
		Transport: s.agent,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.log.Warn().Err(err).Str("url", r.URL.String()).Msg("中継に失敗しました")
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}

// handlePush はプッシュを受け取り通知を表示するハンドラ。
func (s *Server) handlePush() gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPushPayload+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ペイロードの読み込みに失敗しました"})
			return
		}
		if len(payload) > maxPushPayload {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "ペイロードが大きすぎます"})
			return
		}

		n, err := s.agent.HandlePush(c.Request.Context(), payload)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の表示に失敗しました"})
			s.log.Error().Err(err).Msg("通知表示エラー")
			return
		}
		c.JSON(http.StatusCreated, n)
	}
}

// handleListNotifications は表示中の通知一覧を返すハンドラ。
func (s *Server) handleListNotifications() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.center.List())
	}
}

// handleClick は通知のクリックを処理するハンドラ。
func (s *Server) handleClick() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.agent.HandleClick(c.Request.Context(), c.Param("tag"))
		if errors.Is(err, ErrNotificationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知クリックの処理に失敗しました"})
			s.log.Error().Err(err).Msg("通知クリック処理エラー")
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// registerClientRequest はウィンドウ登録リクエストのJSON構造。
type registerClientRequest struct {
	// URL はウィンドウで表示しているURL。
	URL string `json:"url" binding:"required"`
}

// handleRegisterClient はページが開かれたことを登録するハンドラ。
// エージェントが有効化済みなら制御下のウィンドウとして登録する。
func (s *Server) handleRegisterClient() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerClientRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		w := s.clients.Register(c.Request.Context(), req.URL, s.agent.State() == StateActivated)
		c.JSON(http.StatusCreated, w)
	}
}

// handleListClients は登録済みのウィンドウ一覧を返すハンドラ。
func (s *Server) handleListClients() gin.HandlerFunc {
	return func(c *gin.Context) {
		windows, err := s.clients.MatchAll(c.Request.Context(), true)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ウィンドウ一覧の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, windows)
	}
}

// handleTouchClient はウィンドウの生存を記録するハンドラ。
func (s *Server) handleTouchClient() gin.HandlerFunc {
	return func(c *gin.Context) {
		w, err := s.clients.Touch(c.Request.Context(), c.Param("id"))
		if errors.Is(err, ErrClientNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ウィンドウの更新に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, w)
	}
}

// handleUnregisterClient はページが閉じられたことを登録するハンドラ。
func (s *Server) handleUnregisterClient() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := s.clients.Unregister(c.Request.Context(), c.Param("id"))
		if errors.Is(err, ErrClientNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ウィンドウの削除に失敗しました"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
