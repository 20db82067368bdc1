package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory はSupabaseのPostgreSQLに直接接続して配信先を取得する。
// REST APIを経由しない分、往復が1回で済む。
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

// OpenPostgres は接続プールを作成し、疎通を確認したPostgresDirectoryを返す。
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresDirectory, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("接続プールの作成に失敗: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}
	return &PostgresDirectory{pool: pool}, nil
}

// Close は接続プールを閉じる。
func (d *PostgresDirectory) Close() {
	d.pool.Close()
}

// PushTokens はpublic.user_fcm_tokensからユーザーのトークンを返す。
func (d *PostgresDirectory) PushTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := d.pool.Query(ctx,
		"SELECT fcm_token FROM public.user_fcm_tokens WHERE user_id::text = $1",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookup, err)
	}

	tokens, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookup, err)
	}
	return tokens, nil
}

// Email はauth.usersからユーザーのメールアドレスを返す。
func (d *PostgresDirectory) Email(ctx context.Context, userID string) (string, error) {
	var email *string
	err := d.pool.QueryRow(ctx, "SELECT email FROM auth.users WHERE id::text = $1", userID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %w", ErrLookup, ErrUserNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLookup, err)
	}
	if email == nil {
		return "", nil
	}
	return *email, nil
}
