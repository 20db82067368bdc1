package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nao1215/fanout/pkg/httpclient"
)

// grantTypeJWTBearer はRFC 7523のJWT Bearerグラントタイプ。
const grantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// ErrTokenExchange はアサーションからアクセストークンへの交換に失敗したことを表す。
var ErrTokenExchange = errors.New("アクセストークンの取得に失敗しました")

// AccessToken はFCM送信に使うBearerトークン。呼び出し1回の間だけ使い、保持しない。
type AccessToken struct {
	// Value はBearerトークン文字列。
	Value string
	// ProjectID はトークンに対応するFCMプロジェクトID。
	ProjectID string
	// ExpiresAt はトークンの失効予定時刻。
	ExpiresAt time.Time
}

// tokenResponse はトークンエンドポイントのJSONレスポンス。
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Exchanger はJWTアサーションをトークンエンドポイントに送りアクセストークンを得る。
type Exchanger struct {
	// client はトークンエンドポイントとの通信に使うクライアント。ベースURLは空でよい。
	client *httpclient.Client
	// signer はアサーションの署名に使う。
	signer *Signer
	// now は有効期限の計算に使う現在時刻関数。
	now func() time.Time
}

// NewExchanger は新しいExchangerを生成する。
// clientのベースURLは使わず、サービスアカウントのtoken_uriへ直接送信する。
func NewExchanger(client *httpclient.Client, signer *Signer) *Exchanger {
	return &Exchanger{
		client: client,
		signer: signer,
		now:    signer.now,
	}
}

// Exchange は署名済みアサーションをトークンエンドポイントに送る。
// 2xx以外、通信失敗、access_tokenの欠落はすべてErrTokenExchangeになる。
func (e *Exchanger) Exchange(ctx context.Context, tokenURL, assertion string) (*AccessToken, error) {
	form := url.Values{
		"grant_type": {grantTypeJWTBearer},
		"assertion":  {assertion},
	}

	var resp tokenResponse
	if err := e.client.PostForm(ctx, tokenURL, form, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	if strings.TrimSpace(resp.AccessToken) == "" {
		return nil, fmt.Errorf("%w: レスポンスにaccess_tokenがありません", ErrTokenExchange)
	}

	ttl := AssertionTTL
	if resp.ExpiresIn > 0 {
		ttl = time.Duration(resp.ExpiresIn) * time.Second
	}
	return &AccessToken{
		Value:     resp.AccessToken,
		ExpiresAt: e.now().UTC().Add(ttl),
	}, nil
}

// Mint はサービスアカウントから新しいアクセストークンを発行する。
// 署名と交換を1回ずつ行い、キャッシュはしない。
func (e *Exchanger) Mint(ctx context.Context, sa *ServiceAccount) (*AccessToken, error) {
	assertion, err := e.signer.Sign(sa)
	if err != nil {
		return nil, err
	}

	token, err := e.Exchange(ctx, sa.Audience(), assertion)
	if err != nil {
		return nil, err
	}
	token.ProjectID = sa.ProjectID
	return token, nil
}
