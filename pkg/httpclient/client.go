package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nao1215/fanout/pkg/logger"
)

// DefaultTimeout はクライアント生成時のデフォルトタイムアウト。
const DefaultTimeout = 30 * time.Second

// Client は外部APIとの通信に使用するHTTPクライアント。
// ベースURLとタイムアウト、全リクエスト共通のヘッダーを持つ。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は接続先APIのベースURL。
	baseURL string
	// header は全リクエストに付与するヘッダー。
	header http.Header
}

// Option はClient生成時の設定を変更する関数。
type Option func(*Client)

// WithTimeout はリクエストのタイムアウトを設定する。0以下の場合は変更しない。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHeader は全リクエストに付与するヘッダーを追加する。
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.header.Set(key, value)
	}
}

// New は新しいHTTPクライアントを生成する。
// baseURLには接続先のベースURL（例: "https://fcm.googleapis.com"）を指定する。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  http.Header{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestOption は個々のリクエストを変更する関数。
type RequestOption func(*http.Request)

// Bearer はAuthorizationヘッダーにBearerトークンを設定する。
func Bearer(token string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

// Response は生のHTTPレスポンス。ステータスとボディのみを保持する。
type Response struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Body はレスポンスボディ。
	Body []byte
}

// OK はステータスコードが2xxかどうかを返す。
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// StatusError は2xx以外のレスポンスを表すエラー。
type StatusError struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Body はレスポンスボディ。
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTPエラー: status=%d, body=%s", e.StatusCode, e.Body)
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) PostJSON(ctx context.Context, path string, body any, result any, opts ...RequestOption) error {
	resp, err := c.doJSON(ctx, http.MethodPost, path, body, opts)
	if err != nil {
		return err
	}
	return decode(resp, result)
}

// GetJSON は指定パスにGETリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, result any, opts ...RequestOption) error {
	resp, err := c.doJSON(ctx, http.MethodGet, path, nil, opts)
	if err != nil {
		return err
	}
	return decode(resp, result)
}

// PostForm は指定パスにapplication/x-www-form-urlencoded形式でPOSTする。
// レスポンスボディ（JSON）をresultにデシリアライズする。
func (c *Client) PostForm(ctx context.Context, path string, form url.Values, result any, opts ...RequestOption) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, strings.NewReader(form.Encode()), opts)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	return decode(resp, result)
}

// PostRaw はJSONボディでPOSTし、ステータスに関わらずレスポンスをそのまま返す。
// 通信自体に失敗した場合のみエラーを返す。
func (c *Client) PostRaw(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.doJSON(ctx, http.MethodPost, path, body, opts)
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, opts []RequestOption) (*Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := c.newRequest(ctx, method, path, bodyReader, opts)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}

// newRequest は共通ヘッダーとリクエストオプションを適用したリクエストを生成する。
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, opts []RequestOption) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, values := range c.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	// コンテキストからリクエストIDを伝播する
	if requestID := logger.RequestID(ctx); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	for _, opt := range opts {
		opt(req)
	}
	return req, nil
}

// do はリクエストを送信し、ボディを読み切ったレスポンスを返す。
func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// decode は2xxレスポンスのボディをresultにデシリアライズする。
func decode(resp *Response, result any) error {
	if !resp.OK() {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	if result == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, result); err != nil {
		return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
	}
	return nil
}
