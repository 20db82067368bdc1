package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/nao1215/fanout/internal/intent"
	"github.com/nao1215/fanout/internal/oauth"
	"github.com/nao1215/fanout/pkg/httpclient"
)

// ErrChannelSend は1件の送信に失敗したことを表す。その送信の結果にだけ影響する。
var ErrChannelSend = errors.New("通知の送信に失敗しました")

// PushResult はFCMへの1件の送信結果。
type PushResult struct {
	// Token は送信先の登録トークン。
	Token string
	// StatusCode はFCMが返したHTTPステータス。
	StatusCode int
	// Body はFCMが返したJSONボディ。JSONでない場合は {"error": ...} に包む。
	Body json.RawMessage
}

// fcmRequest はFCM HTTP v1 APIのリクエストボディ。
type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// PushSender はFCM HTTP v1 APIで1トークンずつプッシュ通知を送る。
type PushSender struct {
	// client のベースURLはFCMのエンドポイント（https://fcm.googleapis.com）。
	client *httpclient.Client
}

// NewPushSender は新しいPushSenderを生成する。
func NewPushSender(client *httpclient.Client) *PushSender {
	return &PushSender{client: client}
}

// Send は1つの登録トークンに通知を送る。
// FCMが2xx以外を返した場合も、ボディを保持したPushResultとErrChannelSendを両方返す。
// 通信自体に失敗した場合はPushResultはnilになる。
func (s *PushSender) Send(ctx context.Context, token *oauth.AccessToken, registration string, in intent.Intent) (*PushResult, error) {
	data := in.Data
	if data == nil {
		data = map[string]string{}
	}
	req := fcmRequest{
		Message: fcmMessage{
			Token:        registration,
			Notification: fcmNotification{Title: in.Title, Body: in.Body},
			Data:         data,
		},
	}

	path := fmt.Sprintf("/v1/projects/%s/messages:send", url.PathEscape(token.ProjectID))
	resp, err := s.client.PostRaw(ctx, path, req, httpclient.Bearer(token.Value))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelSend, err)
	}

	result := &PushResult{
		Token:      registration,
		StatusCode: resp.StatusCode,
		Body:       rawOrWrapped(resp.Body),
	}
	if !resp.OK() {
		return result, fmt.Errorf("%w: FCMがステータス %d を返しました", ErrChannelSend, resp.StatusCode)
	}
	return result, nil
}

// rawOrWrapped はJSONとして正しいボディはそのまま返し、それ以外は {"error": ...} に包む。
func rawOrWrapped(body []byte) json.RawMessage {
	if len(body) > 0 && json.Valid(body) {
		return json.RawMessage(body)
	}
	wrapped, _ := json.Marshal(map[string]string{"error": string(body)})
	return wrapped
}
