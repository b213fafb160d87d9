package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nao1215/catalog/pkg/logging"
)

// HeaderRequestID はリクエストIDを伝播するHTTPヘッダー。
const HeaderRequestID = "X-Request-ID"

// RequestLogger はリクエストIDを持つロガーをコンテキストに格納し、
// リクエスト完了時にアクセスログを出力するGinミドルウェアを返す。
// リクエストIDはX-Request-IDヘッダーの値を引き継ぎ、無い場合はUUIDを採番する。
func RequestLogger(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(HeaderRequestID, requestID)

		log := base.With("request_id", requestID)
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(logging.WithLogger(ctx, log))

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		}
		// ハンドラ内でuser_id等が付与されている場合はそのロガーで出力する
		logging.FromContext(c.Request.Context(), log).Log(c.Request.Context(), level, "リクエストを処理しました",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
