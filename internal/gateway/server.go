package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nao1215/catalog/internal/config"
	"github.com/nao1215/catalog/pkg/logging"
	"github.com/nao1215/catalog/pkg/metrics"
	"github.com/nao1215/catalog/pkg/middleware"
)

// serviceName はヘルスチェックとメトリクスに使うサービス名。
const serviceName = "gateway"

// devTokenTTL は開発用トークンの有効期間。
const devTokenTTL = 24 * time.Hour

// upstreamTimeout は転送先サービスへのリクエストのタイムアウト。
const upstreamTimeout = 30 * time.Second

// 転送先と呼び出し元の間でそのまま受け渡すヘッダー。
var (
	forwardRequestHeaders  = []string{"Authorization", "Content-Type", "If-Match", "If-None-Match", "Accept"}
	forwardResponseHeaders = []string{"Content-Type", "Content-Disposition", "ETag", "Location"}
)

// Server はAPI GatewayのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// jwtSecret は開発用トークンの署名に使う秘密鍵。
	jwtSecret string
	// upstreams は転送先サービスのベースURL。
	upstreams upstreams
	// client は転送に使うHTTPクライアント。
	client *http.Client
	// logger はサービス全体のロガー。
	logger *slog.Logger
}

// upstreams は転送先サービスのベースURL。
type upstreams struct {
	Query        string
	Command      string
	Notification string
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(_ context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	return newServer(cfg, logger), nil
}

func newServer(cfg *config.Config, logger *slog.Logger) *Server {
	m := metrics.New(serviceName)

	router := gin.New()
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(m.Middleware())

	s := &Server{
		router:    router,
		port:      cfg.Port,
		jwtSecret: cfg.JWTSecret,
		upstreams: upstreams{
			Query:        cfg.QueryURL,
			Command:      cfg.CommandURL,
			Notification: cfg.NotificationURL,
		},
		client: &http.Client{Timeout: upstreamTimeout},
		logger: logger,
	}
	s.setupRoutes(cfg.IsDevelopment(), m)
	return s
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// Shutdown は保持しているコネクションを解放する。
func (s *Server) Shutdown() {
	s.client.CloseIdleConnections()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(development bool, m *metrics.Metrics) {
	if development {
		// 開発用トークン発行
		s.router.POST("/auth/dev-token", s.handleDevToken())
	}

	api := s.router.Group("/api/v1")
	{
		// シリーズ（読み取り）
		api.GET("/series", s.handleProxy(s.upstreams.Query))
		api.GET("/series/:id", s.handleProxy(s.upstreams.Query))
		api.GET("/series/:id/file", s.handleProxy(s.upstreams.Query))

		// シリーズ（書き込み）
		api.POST("/series", s.handleProxy(s.upstreams.Command))
		api.PUT("/series/:id", s.handleProxy(s.upstreams.Command))
		api.DELETE("/series/:id", s.handleProxy(s.upstreams.Command))
		api.POST("/series/:id/file", s.handleProxy(s.upstreams.Command))

		// 通知（内部APIは公開しない）
		api.GET("/notifications", s.handleProxy(s.upstreams.Notification))
		api.GET("/notifications/unread", s.handleProxy(s.upstreams.Notification))
		api.PUT("/notifications/:id/read", s.handleProxy(s.upstreams.Notification))
		api.PUT("/notifications/read-all", s.handleProxy(s.upstreams.Notification))
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	})
	s.router.GET("/metrics", m.Handler())
}

// handleDevToken は開発用に編集者ロールのJWTを発行するハンドラ。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			userID = uuid.NewString()
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, userID, middleware.RoleEditor, devTokenTTL)
		if err != nil {
			logging.FromContext(c.Request.Context(), s.logger).Error("JWT生成エラー", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":   token,
			"user_id": userID,
		})
	}
}

// handleProxy はリクエストを同じパスのまま転送先サービスにプロキシするハンドラ。
func (s *Server) handleProxy(baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		url := baseURL + c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			url += "?" + c.Request.URL.RawQuery
		}
		s.doProxy(c, url)
	}
}

// doProxy はリクエストを内部サービスにプロキシする共通処理。
// 認証・条件付きリクエストのヘッダーとリクエストIDを転送する。
func (s *Server) doProxy(c *gin.Context, url string) {
	ctx := c.Request.Context()
	log := logging.FromContext(ctx, s.logger)

	req, err := http.NewRequestWithContext(ctx, c.Request.Method, url, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "プロキシリクエストの作成に失敗しました"})
		return
	}
	for _, h := range forwardRequestHeaders {
		if v := c.GetHeader(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	if id := logging.RequestID(ctx); id != "" {
		req.Header.Set(middleware.HeaderRequestID, id)
	}
	req.ContentLength = c.Request.ContentLength

	resp, err := s.client.Do(req)
	if err != nil {
		log.Error("プロキシエラー", "url", url, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "内部サービスとの通信に失敗しました"})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for _, h := range forwardResponseHeaders {
		if v := resp.Header.Get(h); v != "" {
			c.Header(h, v)
		}
	}
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		log.Warn("レスポンスの転送に失敗", "url", url, "error", err)
	}
}
