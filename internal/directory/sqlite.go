package directory

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/fanout/pkg/migration"
)

//go:embed migrations/*.up.sql
var migrationsFS embed.FS

// SQLiteDirectory はローカルのSQLiteデータベースから配信先を取得する。
// 開発環境やSupabaseを使わない単体運用で使う。
type SQLiteDirectory struct {
	db *sql.DB
}

// OpenSQLite はSQLiteデータベースを開き、スキーマを最新にしたSQLiteDirectoryを返す。
func OpenSQLite(ctx context.Context, path string, log *zap.Logger) (*SQLiteDirectory, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if path == ":memory:" {
		// インメモリDBは接続ごとに別物になるため1本に制限する
		db.SetMaxOpenConns(1)
	}

	if _, err := migration.Run(ctx, db, migrationsFS, "migrations", log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &SQLiteDirectory{db: db}, nil
}

// Close はデータベース接続を閉じる。
func (d *SQLiteDirectory) Close() error {
	return d.db.Close()
}

// UpsertUser はユーザーとメールアドレスを登録する。既存ならメールアドレスを更新する。
func (d *SQLiteDirectory) UpsertUser(ctx context.Context, userID, email string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO users (id, email) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET email = excluded.email
	`, userID, email)
	if err != nil {
		return fmt.Errorf("ユーザーの登録に失敗: %w", err)
	}
	return nil
}

// RegisterToken はユーザーにプッシュトークンを紐づける。登録済みなら何もしない。
func (d *SQLiteDirectory) RegisterToken(ctx context.Context, userID, token string) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO user_fcm_tokens (user_id, fcm_token) VALUES (?, ?)",
		userID, token,
	)
	if err != nil {
		return fmt.Errorf("プッシュトークンの登録に失敗: %w", err)
	}
	return nil
}

// PushTokens はユーザーのトークンを登録順に返す。
func (d *SQLiteDirectory) PushTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT fcm_token FROM user_fcm_tokens WHERE user_id = ? ORDER BY id",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookup, err)
	}
	defer func() { _ = rows.Close() }()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLookup, err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookup, err)
	}
	return tokens, nil
}

// Email はユーザーのメールアドレスを返す。
func (d *SQLiteDirectory) Email(ctx context.Context, userID string) (string, error) {
	var email sql.NullString
	err := d.db.QueryRowContext(ctx, "SELECT email FROM users WHERE id = ?", userID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %w", ErrLookup, ErrUserNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLookup, err)
	}
	return email.String, nil
}
