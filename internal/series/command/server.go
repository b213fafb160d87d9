package command

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/catalog/internal/config"
	"github.com/nao1215/catalog/internal/notification"
	"github.com/nao1215/catalog/internal/series/query"
	"github.com/nao1215/catalog/internal/series/schema"
	"github.com/nao1215/catalog/pkg/database"
	"github.com/nao1215/catalog/pkg/logging"
	"github.com/nao1215/catalog/pkg/metrics"
	"github.com/nao1215/catalog/pkg/middleware"
	"github.com/nao1215/catalog/pkg/series"
	"github.com/shopspring/decimal"
)

// serviceName はヘルスチェック・メトリクス・通知トークンの発行者に使うサービス名。
const serviceName = "series-command"

// maxFileSize はアップロードできるファイルの最大サイズ（50MB）。
const maxFileSize = 50 << 20

// dateLayout は公開日の形式。
const dateLayout = "2006-01-02"

// Server はシリーズコマンドサービスのHTTPサーバー。
// シリーズの登録・更新・削除とファイルの登録を担当する。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はシリーズストアのデータベース接続。
	db *sql.DB
	// service は書き込みサービス。
	service *Service
	// logger はサービス全体のロガー。
	logger *slog.Logger
}

// NewServer は新しいシリーズコマンドサーバーを生成する。
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

	var notifier Notifier
	if cfg.NotificationURL != "" {
		notifier = notification.NewClient(cfg.NotificationURL, cfg.NotificationRecipient, cfg.JWTSecret, serviceName)
	}
	return newServer(cfg, db, dialect, notifier, logger), nil
}

// newServer は接続済みのDBと通知先からサーバーを組み立てる。
func newServer(cfg *config.Config, db *sql.DB, dialect database.Dialect, notifier Notifier, logger *slog.Logger) *Server {
	m := metrics.New(serviceName)

	router := gin.New()
	router.MaxMultipartMemory = maxFileSize
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(m.Middleware())

	reader := query.NewService(db, dialect, logger)
	s := &Server{
		router:  router,
		port:    cfg.Port,
		db:      db,
		service: NewService(db, dialect, reader, notifier, logger),
		logger:  logger,
	}
	s.setupRoutes(cfg.JWTSecret, m)
	return s
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// Shutdown は送信中の通知を待ってからデータベース接続をクローズする。
func (s *Server) Shutdown() {
	s.service.Wait()
	if err := s.db.Close(); err != nil {
		s.logger.Error("データベースのクローズに失敗", "error", err)
	}
}

// setupRoutes はAPIルーティングを設定する。
// 書き込み系のAPIはすべて編集者ロールのJWTを要求する。
func (s *Server) setupRoutes(jwtSecret string, m *metrics.Metrics) {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret))
	api.Use(middleware.RequireRole(middleware.RoleEditor))
	{
		seriesGroup := api.Group("/series")
		{
			// シリーズ登録
			seriesGroup.POST("", s.handleCreate())
			// シリーズ更新（If-Matchでバージョンを指定）
			seriesGroup.PUT("/:id", s.handleUpdate())
			// シリーズ削除
			seriesGroup.DELETE("/:id", s.handleDelete())
			// ファイル登録（既存のファイルは置き換える）
			seriesGroup.POST("/:id/file", s.handleAddFile())
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

// coverRequest はカバー画像のJSON構造。
type coverRequest struct {
	Caption     string `json:"caption" binding:"required"`
	ContentType string `json:"contentType" binding:"required"`
}

// createRequest はシリーズ登録リクエストのJSON構造。
type createRequest struct {
	SerialNumber string          `json:"serialNumber" binding:"required"`
	Rating       *int            `json:"rating" binding:"required,min=0,max=5"`
	Kind         string          `json:"kind" binding:"required,oneof=STREAM TV DVD"`
	Price        decimal.Decimal `json:"price"`
	Discount     decimal.Decimal `json:"discount"`
	HasTrailer   bool            `json:"hasTrailer"`
	ReleaseDate  string          `json:"releaseDate" binding:"omitempty,datetime=2006-01-02"`
	Homepage     *string         `json:"homepage" binding:"omitempty,url"`
	Keywords     []string        `json:"keywords"`
	Title        string          `json:"title" binding:"required"`
	Subtitle     *string         `json:"subtitle"`
	Covers       []coverRequest  `json:"covers" binding:"dive"`
}

// toSeries はリクエストをシリーズに変換する。
func (r createRequest) toSeries() (series.Series, error) {
	if r.Price.IsNegative() || r.Discount.IsNegative() {
		return series.Series{}, errors.New("価格と割引率は0以上で指定してください")
	}
	in := series.Series{
		SerialNumber: r.SerialNumber,
		Rating:       *r.Rating,
		Kind:         series.Kind(r.Kind),
		Price:        r.Price,
		Discount:     r.Discount,
		HasTrailer:   r.HasTrailer,
		Homepage:     r.Homepage,
		Keywords:     series.NormalizeKeywords(r.Keywords),
		Title:        series.Title{Title: r.Title, Subtitle: r.Subtitle},
	}
	if r.ReleaseDate != "" {
		d, err := time.Parse(dateLayout, r.ReleaseDate)
		if err != nil {
			return series.Series{}, fmt.Errorf("公開日の形式が不正です: %w", err)
		}
		in.ReleaseDate = &d
	}
	for _, c := range r.Covers {
		in.Covers = append(in.Covers, series.Cover{Caption: c.Caption, ContentType: c.ContentType})
	}
	return in, nil
}

// createResponse はシリーズ登録レスポンスのJSON構造。
type createResponse struct {
	ID int64 `json:"id"`
}

// handleCreate はシリーズを登録するハンドラ。
// 登録したシリーズのURLをLocationヘッダーで返す。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		in, err := req.toSeries()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		id, err := s.service.Create(c.Request.Context(), in)
		if err != nil {
			s.respondError(c, err)
			return
		}

		c.Header("Location", seriesLocation(id))
		c.JSON(http.StatusCreated, createResponse{ID: id})
	}
}

// updateRequest はシリーズ更新リクエストのJSON構造。
// 指定されたフィールドのみ上書きする。
type updateRequest struct {
	SerialNumber *string          `json:"serialNumber" binding:"omitempty,min=1"`
	Rating       *int             `json:"rating" binding:"omitempty,min=0,max=5"`
	Kind         *string          `json:"kind" binding:"omitempty,oneof=STREAM TV DVD"`
	Price        *decimal.Decimal `json:"price"`
	Discount     *decimal.Decimal `json:"discount"`
	HasTrailer   *bool            `json:"hasTrailer"`
	ReleaseDate  *string          `json:"releaseDate" binding:"omitempty,datetime=2006-01-02"`
	Homepage     *string          `json:"homepage" binding:"omitempty,url"`
	Keywords     *[]string        `json:"keywords"`
}

// toPatch はリクエストをパッチに変換する。
func (r updateRequest) toPatch() (series.Patch, error) {
	if (r.Price != nil && r.Price.IsNegative()) || (r.Discount != nil && r.Discount.IsNegative()) {
		return series.Patch{}, errors.New("価格と割引率は0以上で指定してください")
	}
	p := series.Patch{
		SerialNumber: r.SerialNumber,
		Rating:       r.Rating,
		Price:        r.Price,
		Discount:     r.Discount,
		HasTrailer:   r.HasTrailer,
		Homepage:     r.Homepage,
		Keywords:     r.Keywords,
	}
	if r.Kind != nil {
		k := series.Kind(*r.Kind)
		p.Kind = &k
	}
	if r.ReleaseDate != nil {
		d, err := time.Parse(dateLayout, *r.ReleaseDate)
		if err != nil {
			return series.Patch{}, fmt.Errorf("公開日の形式が不正です: %w", err)
		}
		p.ReleaseDate = &d
	}
	return p, nil
}

// handleUpdate はシリーズを更新するハンドラ。
// If-Matchヘッダーのバージョンで楽観的排他制御を行い、新しいバージョンをETagで返す。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		token := c.GetHeader("If-Match")
		if token == "" {
			c.JSON(http.StatusPreconditionRequired, gin.H{"error": "If-Matchヘッダーでバージョンを指定してください"})
			return
		}

		var req updateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		patch, err := req.toPatch()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		version, err := s.service.Update(c.Request.Context(), id, patch, token)
		if err != nil {
			s.respondError(c, err)
			return
		}

		c.Header("ETag", series.FormatVersion(version))
		c.Status(http.StatusNoContent)
	}
}

// handleDelete はシリーズを削除するハンドラ。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}

		deleted, err := s.service.Delete(c.Request.Context(), id)
		if err != nil {
			s.respondError(c, err)
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{"error": (&series.NotFoundError{ID: id}).Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// handleAddFile はmultipartのfileフィールドをシリーズのファイルとして登録するハンドラ。
// Content-Typeが指定されていない場合は内容から判定する。
func (s *Server) handleAddFile() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}

		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fileフィールドが必要です"})
			return
		}
		if fh.Size > maxFileSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "ファイルサイズが上限を超えています"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ファイルを読み込めません"})
			return
		}
		defer func() { _ = f.Close() }()

		data, err := io.ReadAll(io.LimitReader(f, maxFileSize))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ファイルを読み込めません"})
			return
		}
		mimeType := fh.Header.Get("Content-Type")
		if mimeType == "" || mimeType == "application/octet-stream" {
			mimeType = http.DetectContentType(data)
		}

		record, err := s.service.AddFile(c.Request.Context(), id, data, fh.Filename, mimeType)
		if err != nil {
			s.respondError(c, err)
			return
		}

		c.Header("Location", seriesLocation(id)+"/file")
		c.JSON(http.StatusCreated, record)
	}
}

// seriesLocation はシリーズのリソースURLを返す。
func seriesLocation(id int64) string {
	return "/api/v1/series/" + strconv.FormatInt(id, 10)
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
	var outdated *series.OutdatedVersionError
	switch {
	case errors.As(err, &outdated):
		if outdated.Current >= 0 {
			c.Header("ETag", series.FormatVersion(outdated.Current))
		}
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
	case errors.Is(err, series.ErrInvalidVersion):
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
	case errors.Is(err, series.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, series.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logging.FromContext(c.Request.Context(), s.logger).Error("シリーズの書き込みに失敗", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "シリーズの書き込みに失敗しました"})
	}
}
