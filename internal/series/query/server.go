package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/catalog/internal/config"
	"github.com/nao1215/catalog/internal/series/schema"
	"github.com/nao1215/catalog/pkg/database"
	"github.com/nao1215/catalog/pkg/logging"
	"github.com/nao1215/catalog/pkg/metrics"
	"github.com/nao1215/catalog/pkg/middleware"
	"github.com/nao1215/catalog/pkg/series"
)

// serviceName はヘルスチェックとメトリクスに使うサービス名。
const serviceName = "series-query"

// ページングに使うクエリパラメータ。検索条件には含めない。
const (
	paramPage = "page"
	paramSize = "size"
)

// Server はシリーズクエリサービスのHTTPサーバー。
// シリーズストアの読み取りを担当する。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はシリーズストアのデータベース接続。
	db *sql.DB
	// service は読み取りサービス。
	service *Service
	// logger はサービス全体のロガー。
	logger *slog.Logger
}

// NewServer は新しいシリーズクエリサーバーを生成する。
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
	if err := schema.Apply(ctx, db, dialect); err != nil {
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
		router:  router,
		port:    cfg.Port,
		db:      db,
		service: NewService(db, dialect, logger),
		logger:  logger,
	}
	s.setupRoutes(m)
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
func (s *Server) setupRoutes(m *metrics.Metrics) {
	api := s.router.Group("/api/v1")
	{
		seriesGroup := api.Group("/series")
		{
			// 条件検索
			seriesGroup.GET("", s.handleFind())
			// ID検索
			seriesGroup.GET("/:id", s.handleFindByID())
			// ファイル取得
			seriesGroup.GET("/:id/file", s.handleFindFile())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		if err := s.db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": serviceName})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	})
	s.router.GET("/metrics", m.Handler())
}

// handleFindByID は指定されたIDのシリーズを返すハンドラ。
// ?covers=true の場合はカバー画像も含める。
// バージョンをETagとして返し、If-None-Matchが一致する場合は304を返す。
func (s *Server) handleFindByID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}

		found, err := s.service.FindByID(c.Request.Context(), id, FindOptions{WithCovers: c.Query("covers") == "true"})
		if err != nil {
			s.respondError(c, err)
			return
		}

		etag := series.FormatVersion(found.Version)
		c.Header("ETag", etag)
		if c.GetHeader("If-None-Match") == etag {
			c.Status(http.StatusNotModified)
			return
		}
		c.JSON(http.StatusOK, found)
	}
}

// handleFind は検索条件に一致するシリーズの1ページ分を返すハンドラ。
// page・size以外のクエリパラメータを検索条件として扱う。
func (s *Server) handleFind() gin.HandlerFunc {
	return func(c *gin.Context) {
		criteria := make(map[string]string)
		for key, values := range c.Request.URL.Query() {
			if key == paramPage || key == paramSize || len(values) == 0 {
				continue
			}
			criteria[key] = values[0]
		}
		pageable := NewPageable(c.Query(paramPage), c.Query(paramSize))

		page, err := s.service.Find(c.Request.Context(), criteria, pageable)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

// handleFindFile はシリーズに登録されたファイルをそのまま返すハンドラ。
func (s *Server) handleFindFile() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}

		f, err := s.service.FindFile(c.Request.Context(), id)
		if err != nil {
			s.respondError(c, err)
			return
		}

		c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Filename}))
		c.Data(http.StatusOK, f.MimeType, f.Data)
	}
}

// parseID はパスパラメータ :id をシリーズIDに変換する。
// 変換できない場合は400を返してfalseを返す。
func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "シリーズIDが不正です"})
		return 0, false
	}
	return id, true
}

// respondError はサービスのエラーをHTTPステータスに変換して返す。
func (s *Server) respondError(c *gin.Context, err error) {
	var invalid *series.InvalidCriteriaError
	switch {
	case errors.As(err, &invalid):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":       err.Error(),
			"unknownKeys": invalid.UnknownKeys,
			"validKeys":   RecognizedKeys(),
		})
	case errors.Is(err, series.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		logging.FromContext(c.Request.Context(), s.logger).Error("シリーズの読み取りに失敗", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "シリーズの取得に失敗しました"})
	}
}
