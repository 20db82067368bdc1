// Package config は通知配信サービスの設定を読み込む。
//
// デフォルト値、YAMLファイル、環境変数の順に上書きする。
// プッシュ認証情報やメールAPIキーが無い場合は、その配信経路を無効として扱う。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 宛先ディレクトリのバックエンド種別。
const (
	BackendSupabase = "supabase"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config はサービス全体の設定。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Directory DirectoryConfig `yaml:"directory"`
	Push      PushConfig      `yaml:"push"`
	Email     EmailConfig     `yaml:"email"`
	Auth      AuthConfig      `yaml:"auth"`
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	// Port はリッスンポート。
	Port string `yaml:"port"`
	// AllowedOrigins はCORSで許可するオリジン。"*" は全許可。
	AllowedOrigins []string `yaml:"allowed_origins"`
	// HTTPTimeout は外部API呼び出しのタイムアウト。
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// LogConfig はログ出力の設定。
type LogConfig struct {
	Level string `yaml:"level"`
}

// DirectoryConfig はプッシュトークンとメールアドレスの問い合わせ先の設定。
type DirectoryConfig struct {
	// Backend は supabase, sqlite, postgres のいずれか。
	Backend string `yaml:"backend"`
	// SupabaseURL はSupabaseプロジェクトのURL。
	SupabaseURL string `yaml:"supabase_url"`
	// ServiceRoleKey はSupabaseのサービスロールキー。
	ServiceRoleKey string `yaml:"service_role_key"`
	// SQLitePath はSQLiteデータベースのパス。
	SQLitePath string `yaml:"sqlite_path"`
	// DatabaseURL はPostgreSQLの接続文字列。
	DatabaseURL string `yaml:"database_url"`
	// Seed は起動時にSQLiteへ登録する配信先。sqliteバックエンドでのみ使える。
	Seed []SeedUser `yaml:"seed"`
}

// SeedUser は起動時に登録するユーザーと配信先。
type SeedUser struct {
	UserID     string   `yaml:"user_id"`
	Email      string   `yaml:"email"`
	PushTokens []string `yaml:"push_tokens"`
}

// PushConfig はFCM送信の設定。
type PushConfig struct {
	// ServiceAccount はFirebaseのサービスアカウントJSON。空ならプッシュ送信は無効。
	ServiceAccount string `yaml:"service_account"`
	// FCMBaseURL はFCM APIのベースURL。
	FCMBaseURL string `yaml:"fcm_base_url"`
}

// EmailConfig はメール送信の設定。
type EmailConfig struct {
	// ResendAPIKey はResendのAPIキー。
	ResendAPIKey string `yaml:"resend_api_key"`
	// ResendBaseURL はResend APIのベースURL。
	ResendBaseURL string `yaml:"resend_base_url"`
	SMTP          SMTPConfig `yaml:"smtp"`
	// FromWelcome はウェルカムメールの送信元。
	FromWelcome string `yaml:"from_welcome"`
	// FromAlerts は管理者向けアラートの送信元。
	FromAlerts string `yaml:"from_alerts"`
	// FromDefault はその他の通知の送信元。
	FromDefault string `yaml:"from_default"`
}

// SMTPConfig はSMTP送信の設定。Resendのキーが無い場合に使う。
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// AuthConfig は受信リクエストの認証設定。
type AuthConfig struct {
	// JWTSecret はHS256トークンの検証鍵。空なら認証しない。
	JWTSecret string `yaml:"jwt_secret"`
}

// PushEnabled はプッシュ送信が設定されているかを返す。
func (c *Config) PushEnabled() bool {
	return strings.TrimSpace(c.Push.ServiceAccount) != ""
}

// EmailEnabled はいずれかのメール送信手段が設定されているかを返す。
func (c *Config) EmailEnabled() bool {
	return c.Email.ResendAPIKey != "" || c.Email.SMTP.Host != ""
}

// Default はデフォルト値を設定したConfigを返す。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8086",
			AllowedOrigins: []string{"*"},
			HTTPTimeout:    30 * time.Second,
		},
		Log: LogConfig{Level: "info"},
		Directory: DirectoryConfig{
			Backend:    BackendSupabase,
			SQLitePath: "/data/fanout.db",
		},
		Push: PushConfig{
			FCMBaseURL: "https://fcm.googleapis.com",
		},
		Email: EmailConfig{
			ResendBaseURL: "https://api.resend.com",
			SMTP:          SMTPConfig{Port: 587},
			FromWelcome:   "Eminates <welcome@eminates.com>",
			FromAlerts:    "Eminates Alerts <alerts@eminates.com>",
			FromDefault:   "Eminates Admin <admin@eminates.com>",
		},
	}
}

// Load は設定を読み込む。pathが空ならYAMLファイルを読まない。
// 環境変数はファイルの値より優先される。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定の整合性を検証する。
func (c *Config) Validate() error {
	switch c.Directory.Backend {
	case BackendSupabase:
		if c.Directory.SupabaseURL == "" || c.Directory.ServiceRoleKey == "" {
			return errors.New("supabaseバックエンドにはSUPABASE_URLとSUPABASE_SERVICE_ROLE_KEYが必要です")
		}
	case BackendSQLite:
		if c.Directory.SQLitePath == "" {
			return errors.New("sqliteバックエンドにはDIRECTORY_SQLITE_PATHが必要です")
		}
	case BackendPostgres:
		if c.Directory.DatabaseURL == "" {
			return errors.New("postgresバックエンドにはDATABASE_URLが必要です")
		}
	default:
		return fmt.Errorf("不明なディレクトリバックエンドです: %q", c.Directory.Backend)
	}
	if len(c.Directory.Seed) > 0 && c.Directory.Backend != BackendSQLite {
		return errors.New("directory.seedはsqliteバックエンドでのみ使用できます")
	}
	for i, u := range c.Directory.Seed {
		if strings.TrimSpace(u.UserID) == "" {
			return fmt.Errorf("directory.seed[%d]のuser_idが空です", i)
		}
	}
	if c.Server.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTPタイムアウトは正の値である必要があります: %s", c.Server.HTTPTimeout)
	}
	return nil
}

// applyEnv は環境変数の値で設定を上書きする。
func applyEnv(cfg *Config) error {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Directory.SupabaseURL, "SUPABASE_URL")
	setString(&cfg.Directory.ServiceRoleKey, "SUPABASE_SERVICE_ROLE_KEY")
	setString(&cfg.Directory.Backend, "DIRECTORY_BACKEND")
	setString(&cfg.Directory.SQLitePath, "DIRECTORY_SQLITE_PATH")
	setString(&cfg.Directory.DatabaseURL, "DATABASE_URL")
	setString(&cfg.Push.ServiceAccount, "FIREBASE_SERVICE_ACCOUNT")
	setString(&cfg.Push.FCMBaseURL, "FCM_BASE_URL")
	setString(&cfg.Email.ResendAPIKey, "RESEND_API_KEY")
	setString(&cfg.Email.ResendBaseURL, "RESEND_BASE_URL")
	setString(&cfg.Email.SMTP.Host, "SMTP_HOST")
	setString(&cfg.Email.SMTP.Username, "SMTP_USERNAME")
	setString(&cfg.Email.SMTP.Password, "SMTP_PASSWORD")
	setString(&cfg.Email.FromWelcome, "EMAIL_FROM_WELCOME")
	setString(&cfg.Email.FromAlerts, "EMAIL_FROM_ALERTS")
	setString(&cfg.Email.FromDefault, "EMAIL_FROM_DEFAULT")
	setString(&cfg.Auth.JWTSecret, "SUPABASE_JWT_SECRET")

	cfg.Directory.Backend = strings.ToLower(strings.TrimSpace(cfg.Directory.Backend))
	cfg.Directory.SupabaseURL = strings.TrimRight(cfg.Directory.SupabaseURL, "/")

	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SMTP_PORTが不正です: %w", err)
		}
		cfg.Email.SMTP.Port = port
	}
	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HTTP_TIMEOUTが不正です: %w", err)
		}
		cfg.Server.HTTPTimeout = d
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.Server.AllowedOrigins = origins
	}
	return nil
}

// setString は環境変数が設定されていればdstを上書きする。
func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
