package channel

import (
	"context"
	"fmt"
	"html"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/nao1215/fanout/pkg/httpclient"
)

// EmailMessage は送信する1通のメール。
type EmailMessage struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// EmailSender はメール配信手段。成功時はプロバイダが払い出したIDを返す。
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) (string, error)
}

// RenderHTML はタイトルと本文をエスケープして最小限のHTML文書に埋め込む。
// 本文の改行は<br>に変換する。
func RenderHTML(title, body string) string {
	escaped := strings.ReplaceAll(html.EscapeString(body), "\n", "<br>")
	return fmt.Sprintf(
		"<!DOCTYPE html><html><body><h2>%s</h2><p>%s</p></body></html>",
		html.EscapeString(title), escaped,
	)
}

// ResendSender はResendのHTTP APIでメールを送る。
type ResendSender struct {
	client *httpclient.Client
	apiKey string
}

// NewResendSender は新しいResendSenderを生成する。clientのベースURLは https://api.resend.com。
func NewResendSender(client *httpclient.Client, apiKey string) *ResendSender {
	return &ResendSender{client: client, apiKey: apiKey}
}

// resendRequest はResendの POST /emails のボディ。
type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendResponse struct {
	ID string `json:"id"`
}

// Send はメールを送信し、ResendのメールIDを返す。
func (s *ResendSender) Send(ctx context.Context, msg EmailMessage) (string, error) {
	req := resendRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
	}

	var resp resendResponse
	if err := s.client.PostJSON(ctx, "/emails", req, &resp, httpclient.Bearer(s.apiKey)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrChannelSend, err)
	}
	return resp.ID, nil
}

// SMTPSender はSMTPサーバー経由でメールを送る。
type SMTPSender struct {
	// dial はSMTPサーバーへの接続を開く。テストで差し替える。
	dial func() (gomail.SendCloser, error)
	// host はMessage-IDのドメイン部に使う。
	host string
}

// NewSMTPSender は新しいSMTPSenderを生成する。
func NewSMTPSender(host string, port int, username, password string) *SMTPSender {
	d := gomail.NewDialer(host, port, username, password)
	return &SMTPSender{dial: d.Dial, host: host}
}

// Send はメールを送信し、付与したMessage-IDを返す。
// gomailはコンテキストを受け取らないため、送信前にキャンセルだけを確認する。
func (s *SMTPSender) Send(ctx context.Context, msg EmailMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrChannelSend, err)
	}
	if _, err := mail.ParseAddress(msg.From); err != nil {
		return "", fmt.Errorf("%w: 送信元アドレスが不正です: %v", ErrChannelSend, err)
	}

	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.host)
	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", id)
	m.SetBody("text/html", msg.HTML)

	sc, err := s.dial()
	if err != nil {
		return "", fmt.Errorf("%w: SMTP接続に失敗: %v", ErrChannelSend, err)
	}
	defer sc.Close() //nolint:errcheck

	if err := gomail.Send(sc, m); err != nil {
		return "", fmt.Errorf("%w: %v", ErrChannelSend, err)
	}
	return id, nil
}
