package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nao1215/fanout/pkg/logger"
)

// fakeDirectory はテスト用のDirectory実装。
type fakeDirectory struct {
	tokens    []string
	tokensErr error
	email     string
	emailErr  error
	// delay は各問い合わせの待ち時間。並行実行の確認に使う。
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeDirectory) PushTokens(ctx context.Context, userID string) ([]string, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	return f.tokens, f.tokensErr
}

func (f *fakeDirectory) Email(ctx context.Context, userID string) (string, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	return f.email, f.emailErr
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	t.Run("トークンとメールアドレスの両方を返すこと", func(t *testing.T) {
		t.Parallel()

		dir := &fakeDirectory{tokens: []string{"a", "b"}, email: "u@example.com"}
		got := NewResolver(dir, nil).Resolve(context.Background(), "u")

		want := Target{PushTokens: []string{"a", "b"}, Email: "u@example.com"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Target = %+v, want %+v", got, want)
		}
	})

	t.Run("重複と空のトークンを除き初出順を保つこと", func(t *testing.T) {
		t.Parallel()

		dir := &fakeDirectory{tokens: []string{"b", "a", "", "b", "c", "a"}}
		got := NewResolver(dir, nil).Resolve(context.Background(), "u")

		if want := []string{"b", "a", "c"}; !reflect.DeepEqual(got.PushTokens, want) {
			t.Errorf("PushTokens = %v, want %v", got.PushTokens, want)
		}
	})

	t.Run("トークン取得の失敗はメールアドレスの解決に影響しないこと", func(t *testing.T) {
		t.Parallel()

		core, logs := observer.New(zap.WarnLevel)
		dir := &fakeDirectory{tokensErr: ErrLookup, email: "u@example.com"}
		got := NewResolver(dir, zap.New(core)).Resolve(context.Background(), "u")

		if len(got.PushTokens) != 0 {
			t.Errorf("PushTokens = %v, want 空", got.PushTokens)
		}
		if got.Email != "u@example.com" {
			t.Errorf("Email = %q", got.Email)
		}
		if logs.FilterMessage("プッシュトークンの取得に失敗しました").Len() != 1 {
			t.Error("失敗が警告ログに記録されていない")
		}
	})

	t.Run("ユーザー取得の失敗はメールなしとして扱うこと", func(t *testing.T) {
		t.Parallel()

		dir := &fakeDirectory{tokens: []string{"a"}, emailErr: ErrUserNotFound}
		got := NewResolver(dir, nil).Resolve(context.Background(), "u")

		if got.Email != "" {
			t.Errorf("Email = %q, want empty", got.Email)
		}
		if !reflect.DeepEqual(got.PushTokens, []string{"a"}) {
			t.Errorf("PushTokens = %v", got.PushTokens)
		}
	})

	t.Run("2つの問い合わせが並行に実行されること", func(t *testing.T) {
		t.Parallel()

		dir := &fakeDirectory{tokens: []string{"a"}, email: "e", delay: 150 * time.Millisecond}
		start := time.Now()
		NewResolver(dir, nil).Resolve(context.Background(), "u")

		if elapsed := time.Since(start); elapsed >= 290*time.Millisecond {
			t.Errorf("経過時間 = %s, 直列に実行されている", elapsed)
		}
		if dir.calls.Load() != 2 {
			t.Errorf("問い合わせ回数 = %d, want 2", dir.calls.Load())
		}
	})

	t.Run("ログにリクエストIDとユーザーIDが付与されること", func(t *testing.T) {
		t.Parallel()

		core, logs := observer.New(zap.InfoLevel)
		ctx := logger.ContextWithRequestID(context.Background(), "req-1")
		NewResolver(&fakeDirectory{}, zap.New(core)).Resolve(ctx, "u-7")

		for _, entry := range logs.All() {
			fields := entry.ContextMap()
			if fields["request_id"] != "req-1" || fields["user_id"] != "u-7" {
				t.Errorf("フィールド = %v", fields)
			}
		}
	})
}

func TestSupabaseDirectory(t *testing.T) {
	t.Parallel()

	newServer := func(t *testing.T) *httptest.Server {
		t.Helper()
		mux := http.NewServeMux()
		mux.HandleFunc("GET /rest/v1/user_fcm_tokens", func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("apikey") != "srk" || r.Header.Get("Authorization") != "Bearer srk" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if r.URL.Query().Get("select") != "fcm_token" {
				t.Errorf("select = %q", r.URL.Query().Get("select"))
			}
			switch r.URL.Query().Get("user_id") {
			case "eq.u-1":
				_ = json.NewEncoder(w).Encode([]map[string]string{{"fcm_token": "t1"}, {"fcm_token": "t2"}})
			default:
				_, _ = w.Write([]byte(`[]`))
			}
		})
		mux.HandleFunc("GET /auth/v1/admin/users/{id}", func(w http.ResponseWriter, r *http.Request) {
			if r.PathValue("id") != "u-1" {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"code":404,"msg":"User not found"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "u-1", "email": "u1@example.com", "role": "authenticated"})
		})
		srv := httptest.NewServer(mux)
		t.Cleanup(srv.Close)
		return srv
	}

	t.Run("トークン一覧を取得できること", func(t *testing.T) {
		t.Parallel()

		srv := newServer(t)
		dir := NewSupabaseDirectory(NewSupabaseClient(srv.URL, "srk"))

		tokens, err := dir.PushTokens(context.Background(), "u-1")
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if !reflect.DeepEqual(tokens, []string{"t1", "t2"}) {
			t.Errorf("tokens = %v", tokens)
		}
	})

	t.Run("トークンが無いユーザーは空のスライスを返すこと", func(t *testing.T) {
		t.Parallel()

		srv := newServer(t)
		tokens, err := NewSupabaseDirectory(NewSupabaseClient(srv.URL, "srk")).PushTokens(context.Background(), "nobody")
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if len(tokens) != 0 {
			t.Errorf("tokens = %v, want 空", tokens)
		}
	})

	t.Run("メールアドレスを取得できること", func(t *testing.T) {
		t.Parallel()

		srv := newServer(t)
		email, err := NewSupabaseDirectory(NewSupabaseClient(srv.URL, "srk")).Email(context.Background(), "u-1")
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if email != "u1@example.com" {
			t.Errorf("email = %q", email)
		}
	})

	t.Run("存在しないユーザーはErrUserNotFoundになること", func(t *testing.T) {
		t.Parallel()

		srv := newServer(t)
		_, err := NewSupabaseDirectory(NewSupabaseClient(srv.URL, "srk")).Email(context.Background(), "ghost")
		if !errors.Is(err, ErrUserNotFound) || !errors.Is(err, ErrLookup) {
			t.Errorf("err = %v, want ErrLookup かつ ErrUserNotFound", err)
		}
	})

	t.Run("認証エラーはErrLookupになること", func(t *testing.T) {
		t.Parallel()

		srv := newServer(t)
		_, err := NewSupabaseDirectory(NewSupabaseClient(srv.URL, "wrong")).PushTokens(context.Background(), "u-1")
		if !errors.Is(err, ErrLookup) {
			t.Errorf("err = %v, want ErrLookup", err)
		}
	})
}

func TestSQLiteDirectory(t *testing.T) {
	t.Parallel()

	open := func(t *testing.T) *SQLiteDirectory {
		t.Helper()
		dir, err := OpenSQLite(context.Background(), ":memory:", nil)
		if err != nil {
			t.Fatalf("SQLiteのオープンに失敗: %v", err)
		}
		t.Cleanup(func() { _ = dir.Close() })
		return dir
	}

	t.Run("登録したユーザーとトークンを取得できること", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		dir := open(t)
		if err := dir.UpsertUser(ctx, "u-1", "old@example.com"); err != nil {
			t.Fatal(err)
		}
		if err := dir.UpsertUser(ctx, "u-1", "u1@example.com"); err != nil {
			t.Fatal(err)
		}
		for _, tok := range []string{"t2", "t1", "t2"} {
			if err := dir.RegisterToken(ctx, "u-1", tok); err != nil {
				t.Fatal(err)
			}
		}

		tokens, err := dir.PushTokens(ctx, "u-1")
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if !reflect.DeepEqual(tokens, []string{"t2", "t1"}) {
			t.Errorf("tokens = %v, want [t2 t1]", tokens)
		}

		email, err := dir.Email(ctx, "u-1")
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if email != "u1@example.com" {
			t.Errorf("email = %q, 上書きされていない", email)
		}
	})

	t.Run("未登録のユーザーはErrUserNotFoundになること", func(t *testing.T) {
		t.Parallel()

		_, err := open(t).Email(context.Background(), "ghost")
		if !errors.Is(err, ErrUserNotFound) {
			t.Errorf("err = %v, want ErrUserNotFound", err)
		}
	})

	t.Run("トークンが無いユーザーは0件を返すこと", func(t *testing.T) {
		t.Parallel()

		tokens, err := open(t).PushTokens(context.Background(), "ghost")
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if len(tokens) != 0 {
			t.Errorf("tokens = %v", tokens)
		}
	})
}

// TestPostgresDirectory は実データベースが必要なため、FANOUT_TEST_DATABASE_URL が設定されている場合のみ実行する。
func TestPostgresDirectory(t *testing.T) {
	t.Parallel()

	url := os.Getenv("FANOUT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FANOUT_TEST_DATABASE_URL が未設定のためスキップします")
	}

	ctx := context.Background()
	dir, err := OpenPostgres(ctx, url)
	if err != nil {
		t.Fatalf("接続に失敗: %v", err)
	}
	t.Cleanup(dir.Close)

	t.Run("存在しないユーザーはErrUserNotFoundになること", func(t *testing.T) {
		_, err := dir.Email(ctx, "00000000-0000-0000-0000-000000000000")
		if !errors.Is(err, ErrUserNotFound) {
			t.Errorf("err = %v, want ErrUserNotFound", err)
		}
	})

	t.Run("トークンが無いユーザーは0件を返すこと", func(t *testing.T) {
		tokens, err := dir.PushTokens(ctx, "00000000-0000-0000-0000-000000000000")
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if len(tokens) != 0 {
			t.Errorf("tokens = %v", tokens)
		}
	})
}
