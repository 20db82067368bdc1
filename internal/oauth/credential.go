package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// MessagingScope はFCM HTTP v1 APIの送信に必要なOAuthスコープ。
	MessagingScope = "https://www.googleapis.com/auth/firebase.messaging"
	// DefaultTokenURL はGoogleのOAuth2トークンエンドポイント。
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
	// AssertionTTL はJWTアサーションの有効期間。
	AssertionTTL = time.Hour
)

// ErrCredentialFormat はサービスアカウント情報または秘密鍵が解釈できないことを表す。
var ErrCredentialFormat = errors.New("サービスアカウント認証情報の形式が不正です")

// ServiceAccount はFirebaseのサービスアカウントJSONのうち、トークン発行に使う項目。
type ServiceAccount struct {
	// ClientEmail はサービスアカウントのメールアドレス。JWTのissになる。
	ClientEmail string `json:"client_email"`
	// PrivateKey はPEM形式のRSA秘密鍵。
	PrivateKey string `json:"private_key"`
	// ProjectID はFCMの送信先プロジェクトID。
	ProjectID string `json:"project_id"`
	// TokenURI はトークンエンドポイント。空ならDefaultTokenURLを使う。
	TokenURI string `json:"token_uri"`
}

// ParseServiceAccount はサービスアカウントJSONを解析する。
// client_email, private_key, project_id のいずれかが欠けている場合はErrCredentialFormatを返す。
func ParseServiceAccount(raw []byte) (*ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, fmt.Errorf("%w: JSONの解析に失敗: %v", ErrCredentialFormat, err)
	}

	var missing []string
	if strings.TrimSpace(sa.ClientEmail) == "" {
		missing = append(missing, "client_email")
	}
	if strings.TrimSpace(sa.PrivateKey) == "" {
		missing = append(missing, "private_key")
	}
	if strings.TrimSpace(sa.ProjectID) == "" {
		missing = append(missing, "project_id")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: 必須項目がありません: %s", ErrCredentialFormat, strings.Join(missing, ", "))
	}
	return &sa, nil
}

// Audience はアサーションのaudとトークン交換先に使うURLを返す。
func (sa *ServiceAccount) Audience() string {
	if uri := strings.TrimSpace(sa.TokenURI); uri != "" {
		return uri
	}
	return DefaultTokenURL
}

// Signer はサービスアカウントの秘密鍵でJWTアサーションを署名する。
type Signer struct {
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// NewSigner は新しいSignerを生成する。nowがnilの場合は現在時刻を使う。
func NewSigner(now func() time.Time) *Signer {
	if now == nil {
		now = time.Now
	}
	return &Signer{now: now}
}

// Sign はRS256で署名したJWTアサーションを返す。
// クレームは iss, scope, aud, iat, exp（iat+1時間）の5つ。
func (s *Signer) Sign(sa *ServiceAccount) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("%w: 秘密鍵の解析に失敗: %v", ErrCredentialFormat, err)
	}

	now := s.now().UTC()
	// audは配列ではなく文字列で送る必要があるため、MapClaimsを使う
	claims := jwt.MapClaims{
		"iss":   sa.ClientEmail,
		"scope": MessagingScope,
		"aud":   sa.Audience(),
		"iat":   now.Unix(),
		"exp":   now.Add(AssertionTTL).Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("アサーションの署名に失敗: %w", err)
	}
	return signed, nil
}
