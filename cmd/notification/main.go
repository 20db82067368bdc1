// 通知配信サービスのエントリポイント。
// 通知イベントを受け取り、ユーザーのプッシュ登録トークンとメールアドレスへ並行に配信する。
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/nao1215/fanout/internal/channel"
	"github.com/nao1215/fanout/internal/config"
	"github.com/nao1215/fanout/internal/directory"
	"github.com/nao1215/fanout/internal/dispatch"
	"github.com/nao1215/fanout/internal/notification"
	"github.com/nao1215/fanout/internal/oauth"
	"github.com/nao1215/fanout/pkg/httpclient"
	"github.com/nao1215/fanout/pkg/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	zl, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := serve(ctx, cfg, zl)
	stop()
	_ = zl.Sync()
	os.Exit(code)
}

// serve はサービスを実行し、プロセスの終了コードを返す。
func serve(ctx context.Context, cfg *config.Config, zl *zap.Logger) int {
	if err := run(ctx, cfg, zl); err != nil {
		zl.Error("通知サービスの実行に失敗", zap.Error(err))
		return 1
	}
	zl.Info("通知サービスを停止しました")
	return 0
}

// run は依存関係を組み立ててサーバーを起動し、ctxがキャンセルされるまで待つ。
func run(ctx context.Context, cfg *config.Config, zl *zap.Logger) error {
	dir, closeDir, err := openDirectory(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer closeDir()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	timeout := httpclient.WithTimeout(cfg.Server.HTTPTimeout)
	d := dispatch.New(dispatch.Options{
		Resolver:       directory.NewResolver(dir, zl),
		Exchanger:      oauth.NewExchanger(httpclient.New("", timeout), oauth.NewSigner(nil)),
		Push:           channel.NewPushSender(httpclient.New(cfg.Push.FCMBaseURL, timeout)),
		ServiceAccount: cfg.Push.ServiceAccount,
		Email:          newEmailSender(cfg, zl),
		Senders: channel.Senders{
			Welcome: cfg.Email.FromWelcome,
			Alerts:  cfg.Email.FromAlerts,
			Default: cfg.Email.FromDefault,
		},
		Metrics: dispatch.NewMetrics(reg),
		Logger:  zl,
	})

	if !cfg.PushEnabled() {
		zl.Warn("FIREBASE_SERVICE_ACCOUNT が未設定のためプッシュ送信は無効です")
	}

	server := notification.NewServer(notification.Options{
		Port:           cfg.Server.Port,
		Dispatcher:     d,
		Logger:         zl,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		JWTSecret:      cfg.Auth.JWTSecret,
		Gatherer:       reg,
	})

	zl.Info("通知サービスを起動します",
		zap.String("port", cfg.Server.Port),
		zap.String("directory", cfg.Directory.Backend),
		zap.Bool("push", cfg.PushEnabled()),
		zap.Bool("email", cfg.EmailEnabled()),
	)
	return server.Run(ctx)
}

// openDirectory は設定に応じた配信先ディレクトリを開き、終了処理と合わせて返す。
func openDirectory(ctx context.Context, cfg *config.Config, zl *zap.Logger) (directory.Directory, func(), error) {
	switch cfg.Directory.Backend {
	case config.BackendSQLite:
		d, err := directory.OpenSQLite(ctx, cfg.Directory.SQLitePath, zl)
		if err != nil {
			return nil, nil, fmt.Errorf("SQLiteディレクトリの初期化に失敗: %w", err)
		}
		if err := seedSQLite(ctx, d, cfg.Directory.Seed); err != nil {
			_ = d.Close()
			return nil, nil, err
		}
		if len(cfg.Directory.Seed) > 0 {
			zl.Info("SQLiteディレクトリに配信先を登録しました", zap.Int("users", len(cfg.Directory.Seed)))
		}
		return d, func() { _ = d.Close() }, nil
	case config.BackendPostgres:
		d, err := directory.OpenPostgres(ctx, cfg.Directory.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("PostgreSQLディレクトリの初期化に失敗: %w", err)
		}
		return d, d.Close, nil
	default:
		client := directory.NewSupabaseClient(
			cfg.Directory.SupabaseURL,
			cfg.Directory.ServiceRoleKey,
			httpclient.WithTimeout(cfg.Server.HTTPTimeout),
		)
		return directory.NewSupabaseDirectory(client), func() {}, nil
	}
}

// seedSQLite は設定のseedをSQLiteディレクトリに登録する。登録済みの内容は上書きまたは維持される。
func seedSQLite(ctx context.Context, d *directory.SQLiteDirectory, users []config.SeedUser) error {
	for _, u := range users {
		if err := d.UpsertUser(ctx, u.UserID, u.Email); err != nil {
			return fmt.Errorf("seedの登録に失敗 (user_id=%s): %w", u.UserID, err)
		}
		for _, token := range u.PushTokens {
			if err := d.RegisterToken(ctx, u.UserID, token); err != nil {
				return fmt.Errorf("seedの登録に失敗 (user_id=%s): %w", u.UserID, err)
			}
		}
	}
	return nil
}

// newEmailSender はResend、SMTPの順に設定を確認してメール送信手段を返す。
// どちらも無ければnilを返し、メール送信は無効になる。
func newEmailSender(cfg *config.Config, zl *zap.Logger) channel.EmailSender {
	switch {
	case cfg.Email.ResendAPIKey != "":
		client := httpclient.New(cfg.Email.ResendBaseURL, httpclient.WithTimeout(cfg.Server.HTTPTimeout))
		return channel.NewResendSender(client, cfg.Email.ResendAPIKey)
	case cfg.Email.SMTP.Host != "":
		smtp := cfg.Email.SMTP
		return channel.NewSMTPSender(smtp.Host, smtp.Port, smtp.Username, smtp.Password)
	default:
		zl.Warn("RESEND_API_KEY と SMTP_HOST が未設定のためメール送信は無効です")
		return nil
	}
}
