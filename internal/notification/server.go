package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nao1215/fanout/internal/dispatch"
	"github.com/nao1215/fanout/internal/intent"
	"github.com/nao1215/fanout/pkg/logger"
	"github.com/nao1215/fanout/pkg/middleware"
)

// Dispatcher は正規化済みの通知を全経路に配信する。
type Dispatcher interface {
	Dispatch(ctx context.Context, in intent.Intent) dispatch.Result
}

// Options はServerの設定。
type Options struct {
	// Port はリッスンポート。
	Port string
	// Dispatcher は配信処理。必須。
	Dispatcher Dispatcher
	// Logger はnilならログを出力しない。
	Logger *zap.Logger
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
	// JWTSecret が空でなければ送信APIにJWT認証をかける。
	JWTSecret string
	// Gatherer は /metrics で公開するメトリクス。nilなら公開しない。
	Gatherer prometheus.Gatherer
}

// Server は通知配信サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// dispatcher は配信処理。
	dispatcher Dispatcher
	// log は構造化ロガー。
	log *zap.Logger
}

// NewServer は新しい通知配信サーバーを生成する。
func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(opts.AllowedOrigins))

	s := &Server{
		router:     router,
		port:       opts.Port,
		dispatcher: opts.Dispatcher,
		log:        log,
	}
	s.setupRoutes(opts)
	return s
}

// Handler はルーターを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされたら処理中のリクエストを待って停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(opts Options) {
	send := []gin.HandlerFunc{s.handleSend()}
	if opts.JWTSecret != "" {
		send = append([]gin.HandlerFunc{middleware.JWTAuth(opts.JWTSecret)}, send...)
	}

	// Supabase Edge Functionと同じパス
	s.router.POST("/functions/v1/send-fcm", send...)
	s.router.POST("/api/v1/notifications/send", send...)

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})

	if opts.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
}

// handleSend は通知イベントを受け取り、全経路に配信するハンドラ。
// 個々の送信が失敗しても200で結果の配列を返す。ペイロードが不正なら配信せず400を返す。
func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := logger.WithRequestID(ctx, s.log)
		if sub := middleware.Subject(c); sub != "" {
			log = log.With(zap.String("caller_sub", sub), zap.String("caller_role", middleware.Role(c)))
		}

		raw, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストボディの読み取りに失敗しました"})
			return
		}

		in, shape, err := intent.Normalize(raw)
		if err != nil {
			if errors.Is(err, intent.ErrMalformedPayload) {
				log.Warn("不正な通知ペイロードを受信しました", zap.Error(err))
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			log.Error("通知ペイロードの処理に失敗しました", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		log.Info("通知ペイロードを受信しました",
			zap.String("shape", string(shape)),
			zap.String("user_id", in.UserID),
			zap.String("title", in.Title),
		)

		result := s.dispatcher.Dispatch(ctx, in)
		if result == nil {
			result = dispatch.Result{}
		}
		c.JSON(http.StatusOK, result)
	}
}
