// Package logging は構造化ログ（log/slog）の生成とリクエスト単位のロガー伝播を提供する。
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New は環境に応じたハンドラを持つロガーを生成する。
// development環境ではテキスト形式、それ以外ではJSON形式で出力する。
func New(env, level string) *slog.Logger {
	return NewWithWriter(os.Stdout, env, level)
}

// NewWithWriter は出力先を指定してロガーを生成する。
func NewWithWriter(w io.Writer, env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if env == "development" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// Discard は何も出力しないロガーを返す。テストで使用する。
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

type contextKey struct{}

// WithLogger はコンテキストにロガーを格納する。
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext はコンテキストに格納されたロガーを返す。
// 格納されていない場合はfallbackを返す。fallbackもnilならslog.Default()を返す。
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

type requestIDKey struct{}

// WithRequestID はコンテキストにリクエストIDを格納する。
// サービス間通信でX-Request-IDヘッダーとして伝播するために使用する。
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID はコンテキストに格納されたリクエストIDを返す。格納されていない場合は空文字列。
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
