// Package directory はユーザーの配信先（プッシュトークンとメールアドレス）を解決する。
//
// 問い合わせ先はSupabase（REST API）、PostgreSQL、SQLiteのいずれかで、
// Directoryインターフェースの背後に隠す。Resolverは2つの問い合わせを並行に行い、
// 失敗はその経路が使えないものとして扱う。
package directory

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/fanout/pkg/logger"
)

var (
	// ErrLookup は配信先の問い合わせに失敗したことを表す。
	ErrLookup = errors.New("配信先の問い合わせに失敗しました")
	// ErrUserNotFound は指定ユーザーが存在しないことを表す。
	ErrUserNotFound = errors.New("ユーザーが見つかりません")
)

// Directory はユーザーの配信先を保持する外部サービス。
type Directory interface {
	// PushTokens はユーザーに紐づくプッシュ登録トークンを返す。0件はエラーではない。
	PushTokens(ctx context.Context, userID string) ([]string, error)
	// Email はユーザーのメールアドレスを返す。未設定の場合は空文字を返す。
	Email(ctx context.Context, userID string) (string, error)
}

// Target は1ユーザー分の配信先。
type Target struct {
	// PushTokens は重複を除いたプッシュ登録トークン。初出順を保つ。
	PushTokens []string
	// Email はアカウントのメールアドレス。解決できなければ空。
	Email string
}

// Resolver はDirectoryに並行して問い合わせ、Targetを組み立てる。
type Resolver struct {
	dir Directory
	log *zap.Logger
}

// NewResolver は新しいResolverを生成する。logがnilの場合はログを出力しない。
func NewResolver(dir Directory, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{dir: dir, log: log}
}

// Resolve はプッシュトークンとメールアドレスを並行に問い合わせる。
// どちらの失敗もログに残してその経路を空にするだけで、エラーは返さない。
func (r *Resolver) Resolve(ctx context.Context, userID string) Target {
	log := logger.WithRequestID(ctx, r.log).With(zap.String("user_id", userID))

	var (
		tokens []string
		email  string
	)
	// 各goroutineは自分の変数だけに書き込み、エラーは返さないため他方を止めない
	var g errgroup.Group
	g.Go(func() error {
		start := time.Now()
		found, err := r.dir.PushTokens(ctx, userID)
		if err != nil {
			log.Warn("プッシュトークンの取得に失敗しました", zap.Error(err))
			return nil
		}
		tokens = dedupe(found)
		log.Info("プッシュトークンを取得しました",
			zap.Int("count", len(tokens)),
			zap.Duration("elapsed", time.Since(start)),
		)
		return nil
	})
	g.Go(func() error {
		addr, err := r.dir.Email(ctx, userID)
		if err != nil {
			log.Warn("ユーザー情報の取得に失敗しました", zap.Error(err))
			return nil
		}
		email = addr
		log.Info("ユーザー情報を取得しました", zap.Bool("has_email", addr != ""))
		return nil
	})
	_ = g.Wait()

	return Target{PushTokens: tokens, Email: email}
}

// dedupe は空文字と重複を除き、初出順を保ったスライスを返す。
func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
