package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nao1215/fogpush/internal/trigger"
	"github.com/nao1215/fogpush/pkg/event"
	"github.com/nao1215/fogpush/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// msgNotAdmin は管理者専用APIを管理者以外が呼び出した場合のメッセージ。
const msgNotAdmin = "Must be an admin."

// Store はサーバーが参照・更新するレジストリ。
type Store interface {
	PutEndpoint(ctx context.Context, key, token string) error
	IsAdmin(ctx context.Context, uid string) (bool, error)
	SetSchedule(ctx context.Context, week, course string) error
}

// Dispatcher は通知送信の入口。
type Dispatcher interface {
	SendNotification(ctx context.Context, callerUID, title, body string) (trigger.SendResult, error)
	HandleStatusChange(ctx context.Context, c event.StatusChange) error
}

// RoundWriter はラウンド状態を更新し、その変更を通知処理へ渡す。
type RoundWriter interface {
	SetRoundStatus(ctx context.Context, week, status string) (event.StatusChange, error)
}

// Config はサーバーの生成に必要な設定と依存。
type Config struct {
	// Port はリッスンポート。
	Port string
	// JWTSecret はJWT検証用の秘密鍵。
	JWTSecret string
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
	// WebhookSecret は状態変更Webhookの共有シークレット。空ならWebhookはすべて拒否される。
	WebhookSecret string
	// SendRatePerMin は手動送信APIと状態変更Webhookの1分あたりの上限。0以下なら制限しない。
	SendRatePerMin int
	// Store はレジストリ。
	Store Store
	// Rounds はラウンド状態の書き込み先。
	Rounds RoundWriter
	// Dispatcher は送信処理。
	Dispatcher Dispatcher
	// Gatherer は/metricsで公開するメトリクスの収集元。nilならデフォルトレジストリ。
	Gatherer prometheus.Gatherer
	// Log はロガー。
	Log zerolog.Logger
}

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// httpServer はグレースフルシャットダウンのために保持するHTTPサーバー。
	httpServer *http.Server
	// store はレジストリ。
	store Store
	// rounds はラウンド状態の書き込み先。
	rounds RoundWriter
	// dispatcher は送信処理。
	dispatcher Dispatcher
	// log はロガー。
	log zerolog.Logger
}

// NewServer は新しい通知サーバーを生成する。
func NewServer(cfg Config) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(middleware.Recovery(cfg.Log))
	router.Use(middleware.Logger(cfg.Log))
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	s := &Server{
		router: router,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		store:      cfg.Store,
		rounds:     cfg.Rounds,
		dispatcher: cfg.Dispatcher,
		log:        cfg.Log.With().Str("component", "http").Logger(),
	}
	s.setupRoutes(cfg)
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

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(cfg Config) {
	api := s.router.Group("/api/v1")
	{
		// 手動送信。未認証の判定はDispatcherが行うため認証は任意とする
		send := []gin.HandlerFunc{middleware.Identify(cfg.JWTSecret)}
		send = append(send, rateLimit(cfg.SendRatePerMin)...)
		send = append(send, s.handleSend())
		api.POST("/notifications/send", send...)

		authed := api.Group("")
		authed.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			// 購読エンドポイントの登録
			authed.POST("/endpoints", s.handleRegisterEndpoint())

			admin := authed.Group("")
			admin.Use(s.requireAdmin())
			{
				admin.PUT("/rounds/:week/status", s.handleSetRoundStatus())
				admin.PUT("/schedule/:week", s.handleSetSchedule())
			}
		}

		// 外部ストアからの状態変更通知。共有シークレットを持つ呼び出し元のみ受け付ける
		internal := api.Group("/internal")
		internal.Use(middleware.SharedSecret(middleware.WebhookSecretHeader, cfg.WebhookSecret))
		internal.Use(rateLimit(cfg.SendRatePerMin)...)
		{
			internal.POST("/status-change", s.handleStatusChange())
		}
	}

	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
}

// rateLimit はperMin件/分のレート制限ミドルウェアを返す。0以下なら何も返さない。
// ミドルウェアごとに別のバケットを持つ。
func rateLimit(perMin int) []gin.HandlerFunc {
	if perMin <= 0 {
		return nil
	}
	return []gin.HandlerFunc{middleware.RateLimit(rate.Every(time.Minute/time.Duration(perMin)), perMin)}
}

// writeError はエラーを分類に応じたステータスコードと {error, code} 形式で返す。
func (s *Server) writeError(c *gin.Context, err error) {
	var te *trigger.Error
	if !errors.As(err, &te) {
		s.log.Error().Err(err).Msg("分類されていないエラー")
		te = &trigger.Error{Code: trigger.CodeInternal, Message: err.Error()}
	}
	c.AbortWithStatusJSON(te.Code.HTTPStatus(), gin.H{
		"error": te.Message,
		"code":  string(te.Code),
	})
}

// requireAdmin は呼び出し元が管理者であることを要求するミドルウェア。
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := s.store.IsAdmin(c.Request.Context(), middleware.GetUID(c))
		if err != nil {
			s.writeError(c, &trigger.Error{Code: trigger.CodeInternal, Message: "管理者情報の取得に失敗しました", Err: err})
			return
		}
		if !ok {
			s.writeError(c, &trigger.Error{Code: trigger.CodePermissionDenied, Message: msgNotAdmin})
			return
		}
		c.Next()
	}
}

// sendRequest は手動送信リクエストのJSON構造。
type sendRequest struct {
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Body は通知の本文。
	Body string `json:"body"`
}

// handleSend は管理者からの手動送信を受け付けるハンドラ。
// 入力検証はDispatcherに委ね、結果をそのまま返す。
func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeError(c, &trigger.Error{Code: trigger.CodeInvalidArgument, Message: fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		res, err := s.dispatcher.SendNotification(c.Request.Context(), middleware.GetUID(c), req.Title, req.Body)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// registerEndpointRequest は購読エンドポイント登録リクエストのJSON構造。
type registerEndpointRequest struct {
	// Key はエンドポイントの識別子。省略時はUUIDを採番する。
	Key string `json:"key"`
	// Token はプッシュゲートウェイが発行した配信トークン。
	Token string `json:"token" binding:"required"`
}

// handleRegisterEndpoint は購読エンドポイントを登録するハンドラ。
func (s *Server) handleRegisterEndpoint() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerEndpointRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeError(c, &trigger.Error{Code: trigger.CodeInvalidArgument, Message: fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if req.Key == "" {
			req.Key = uuid.New().String()
		}

		if err := s.store.PutEndpoint(c.Request.Context(), req.Key, req.Token); err != nil {
			s.writeError(c, &trigger.Error{Code: trigger.CodeInternal, Message: "エンドポイントの登録に失敗しました", Err: err})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"key": req.Key})
	}
}

// roundStatusRequest はラウンド状態更新リクエストのJSON構造。
type roundStatusRequest struct {
	// Status は新しい状態（"open" や "closed"）。
	Status string `json:"status" binding:"required"`
}

// handleSetRoundStatus はラウンド状態を更新するハンドラ。
// 通知対象の遷移であれば、レスポンスを返す前に通知を送信する。
func (s *Server) handleSetRoundStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		week := c.Param("week")
		if !event.ValidWeek(week) {
			s.writeError(c, &trigger.Error{Code: trigger.CodeInvalidArgument, Message: fmt.Sprintf("週番号が不正です: %q", week)})
			return
		}
		var req roundStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeError(c, &trigger.Error{Code: trigger.CodeInvalidArgument, Message: fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		change, err := s.rounds.SetRoundStatus(c.Request.Context(), week, req.Status)
		if err != nil {
			s.writeError(c, &trigger.Error{Code: trigger.CodeInternal, Message: "ラウンド状態の更新に失敗しました", Err: err})
			return
		}
		c.JSON(http.StatusOK, gin.H{"week": week, "before": string(change.Before), "status": req.Status})
	}
}

// scheduleRequest はスケジュール更新リクエストのJSON構造。
type scheduleRequest struct {
	// Course はその週のコース名。
	Course string `json:"course"`
}

// handleSetSchedule は週ごとのコース名を更新するハンドラ。
func (s *Server) handleSetSchedule() gin.HandlerFunc {
	return func(c *gin.Context) {
		week := c.Param("week")
		if !event.ValidWeek(week) {
			s.writeError(c, &trigger.Error{Code: trigger.CodeInvalidArgument, Message: fmt.Sprintf("週番号が不正です: %q", week)})
			return
		}
		var req scheduleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeError(c, &trigger.Error{Code: trigger.CodeInvalidArgument, Message: fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if err := s.store.SetSchedule(c.Request.Context(), week, req.Course); err != nil {
			s.writeError(c, &trigger.Error{Code: trigger.CodeInternal, Message: "スケジュールの更新に失敗しました", Err: err})
			return
		}
		c.JSON(http.StatusOK, gin.H{"week": week, "course": req.Course})
	}
}

// handleStatusChange は外部ストアが送るRoundStatusChangedイベントを処理するハンドラ。
// 通知対象外の遷移でも202を返す。
func (s *Server) handleStatusChange() gin.HandlerFunc {
	return func(c *gin.Context) {
		var e event.Event
		if err := c.ShouldBindJSON(&e); err != nil {
			s.writeError(c, &trigger.Error{Code: trigger.CodeInvalidArgument, Message: fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		change, err := event.StatusChangeOf(&e)
		if err != nil {
			s.writeError(c, &trigger.Error{Code: trigger.CodeInvalidArgument, Message: err.Error()})
			return
		}

		if err := s.dispatcher.HandleStatusChange(c.Request.Context(), change); err != nil {
			s.writeError(c, &trigger.Error{Code: trigger.CodeInternal, Message: err.Error(), Err: err})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"week": change.Week, "status": "accepted"})
	}
}
