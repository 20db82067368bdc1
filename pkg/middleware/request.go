package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/fanout/pkg/logger"
)

// HeaderRequestID はリクエストIDを運ぶHTTPヘッダー。
const HeaderRequestID = "X-Request-ID"

// RequestID はリクエストごとにIDを払い出すGinミドルウェアを返す。
// 受信ヘッダーにIDがあればそれを引き継ぎ、無ければUUIDを生成する。
// IDはリクエストのコンテキストとレスポンスヘッダーに設定する。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(logger.ContextWithRequestID(c.Request.Context(), id))
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// Logger はリクエストごとにアクセスログを出力するGinミドルウェアを返す。
// RequestIDより後に適用するとログにリクエストIDが付く。
func Logger(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		l := logger.WithRequestID(c.Request.Context(), log)
		switch {
		case c.Writer.Status() >= 500:
			l.Error("リクエストを処理しました", fields...)
		case c.Writer.Status() >= 400:
			l.Warn("リクエストを処理しました", fields...)
		default:
			l.Info("リクエストを処理しました", fields...)
		}
	}
}
