package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nao1215/catalog/internal/config"
	"github.com/nao1215/catalog/pkg/database"
	"github.com/nao1215/catalog/pkg/logging"
	"github.com/nao1215/catalog/pkg/metrics"
	"github.com/nao1215/catalog/pkg/middleware"
)

// serviceName はヘルスチェックとメトリクスに使うサービス名。
const serviceName = "notification"

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db は通知データベース接続。
	db *sql.DB
	// store は通知の永続化を行う。
	store *Store
	// logger はサービス全体のロガー。
	logger *slog.Logger
	// now は通知の作成日時の取得に使う。
	now func() time.Time
}

// NewServer は新しい通知サーバーを生成する。
// データベースへの接続とスキーマの適用を行う。
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	dialect, err := database.ParseDialect(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	db, err := database.Open(ctx, dialect, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := applySchema(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return newServer(cfg, db, dialect, logger), nil
}

// newServer は接続済みのDBからサーバーを組み立てる。
func newServer(cfg *config.Config, db *sql.DB, dialect database.Dialect, logger *slog.Logger) *Server {
	m := metrics.New(serviceName)

	router := gin.New()
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(m.Middleware())

	s := &Server{
		router: router,
		port:   cfg.Port,
		db:     db,
		store:  NewStore(db, dialect),
		logger: logger,
		now:    time.Now,
	}
	s.setupRoutes(cfg.JWTSecret, m)
	return s
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// Shutdown はデータベース接続をクローズする。
func (s *Server) Shutdown() {
	if err := s.db.Close(); err != nil {
		s.logger.Error("データベースのクローズに失敗", "error", err)
	}
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(jwtSecret string, m *metrics.Metrics) {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		notifications := api.Group("/notifications")
		{
			// 通知一覧取得
			notifications.GET("", s.handleList())
			// 未読通知一覧取得
			notifications.GET("/unread", s.handleListUnread())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 全通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
		}

		// 通知送信（内部API - シリーズコマンドサービスから呼び出される）
		internal := api.Group("/internal")
		internal.Use(middleware.RequireRole(middleware.RoleService))
		{
			internal.POST("/send", s.handleSend())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	})
	s.router.GET("/metrics", m.Handler())
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// Recipient は通知先。
	Recipient string `json:"recipient"`
	// Subject は件名。
	Subject string `json:"subject"`
	// Body は本文。
	Body string `json:"body"`
	// IsRead は通知の既読状態。
	IsRead bool `json:"is_read"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// toNotificationResponses は通知のスライスをJSONレスポンスのスライスに変換する。
func toNotificationResponses(notifications []Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		responses = append(responses, notificationResponse{
			ID:        n.ID,
			Recipient: n.Recipient,
			Subject:   n.Subject,
			Body:      n.Body,
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return responses
}

// handleList は認証済みユーザー宛ての通知一覧を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notifications, err := s.store.ListByRecipient(c.Request.Context(), userID)
		if err != nil {
			logging.FromContext(c.Request.Context(), s.logger).Error("通知一覧取得エラー", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, toNotificationResponses(notifications))
	}
}

// handleListUnread は認証済みユーザー宛ての未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notifications, err := s.store.ListUnread(c.Request.Context(), userID)
		if err != nil {
			logging.FromContext(c.Request.Context(), s.logger).Error("未読通知一覧取得エラー", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, toNotificationResponses(notifications))
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
// 自分宛て以外の通知は操作できない。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		ctx := c.Request.Context()
		n, err := s.store.Get(ctx, c.Param("id"))
		if errors.Is(err, errNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			return
		}
		if err != nil {
			logging.FromContext(ctx, s.logger).Error("通知取得エラー", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の取得に失敗しました"})
			return
		}

		if n.Recipient != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "この通知を操作する権限がありません"})
			return
		}

		if err := s.store.MarkAsRead(ctx, n.ID); err != nil {
			logging.FromContext(ctx, s.logger).Error("通知既読処理エラー", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleMarkAllAsRead は認証済みユーザー宛ての全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		if err := s.store.MarkAllAsRead(c.Request.Context(), userID); err != nil {
			logging.FromContext(c.Request.Context(), s.logger).Error("全通知既読処理エラー", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "全通知を既読にしました"})
	}
}

// sendRequest は通知送信リクエストのJSON構造。
type sendRequest struct {
	// Recipient は通知先。
	Recipient string `json:"recipient" binding:"required"`
	// Subject は件名。
	Subject string `json:"subject" binding:"required"`
	// Body は本文。
	Body string `json:"body" binding:"required"`
}

// sendResponse は通知送信レスポンスのJSON構造。
type sendResponse struct {
	// ID は作成された通知の識別子。
	ID string `json:"id"`
}

// handleSend は通知を作成するハンドラ。
func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		n := Notification{
			ID:        uuid.NewString(),
			Recipient: req.Recipient,
			Subject:   req.Subject,
			Body:      req.Body,
			CreatedAt: s.now().UTC(),
		}
		ctx := c.Request.Context()
		if err := s.store.Create(ctx, n); err != nil {
			logging.FromContext(ctx, s.logger).Error("通知作成エラー", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の作成に失敗しました"})
			return
		}

		logging.FromContext(ctx, s.logger).Info("通知を作成しました", "id", n.ID, "recipient", n.Recipient)
		c.JSON(http.StatusCreated, sendResponse{ID: n.ID})
	}
}
