package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nao1215/fanout/pkg/httpclient"
)

// SupabaseDirectory はSupabaseのREST APIとAuth管理APIから配信先を取得する。
type SupabaseDirectory struct {
	client *httpclient.Client
}

// NewSupabaseDirectory は新しいSupabaseDirectoryを生成する。
// clientのベースURLはSupabaseプロジェクトのURLで、サービスロールキーを
// apikeyヘッダーとBearerトークンの両方に設定しておく必要がある。
func NewSupabaseDirectory(client *httpclient.Client) *SupabaseDirectory {
	return &SupabaseDirectory{client: client}
}

// NewSupabaseClient はサービスロールキーで認証するSupabase用のクライアントを生成する。
func NewSupabaseClient(baseURL, serviceRoleKey string, opts ...httpclient.Option) *httpclient.Client {
	opts = append([]httpclient.Option{
		httpclient.WithHeader("apikey", serviceRoleKey),
		httpclient.WithHeader("Authorization", "Bearer "+serviceRoleKey),
	}, opts...)
	return httpclient.New(baseURL, opts...)
}

// tokenRow はuser_fcm_tokensテーブルの1行。
type tokenRow struct {
	FCMToken string `json:"fcm_token"`
}

// adminUser はAuth管理APIのユーザー。
type adminUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// PushTokens はuser_fcm_tokensテーブルからユーザーのトークンを取得する。
func (d *SupabaseDirectory) PushTokens(ctx context.Context, userID string) ([]string, error) {
	query := url.Values{
		"select":  {"fcm_token"},
		"user_id": {"eq." + userID},
	}

	var rows []tokenRow
	if err := d.client.GetJSON(ctx, "/rest/v1/user_fcm_tokens?"+query.Encode(), &rows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookup, err)
	}

	tokens := make([]string, 0, len(rows))
	for _, row := range rows {
		tokens = append(tokens, row.FCMToken)
	}
	return tokens, nil
}

// Email はAuth管理APIからユーザーのメールアドレスを取得する。
func (d *SupabaseDirectory) Email(ctx context.Context, userID string) (string, error) {
	var user adminUser
	err := d.client.GetJSON(ctx, "/auth/v1/admin/users/"+url.PathEscape(userID), &user)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%w: %w", ErrLookup, ErrUserNotFound)
		}
		return "", fmt.Errorf("%w: %v", ErrLookup, err)
	}
	return user.Email, nil
}
