// Package dispatch は1件の通知を解決済みの全経路へ並行に配信し、結果を集約する。
//
// プッシュとメールは独立したgoroutineで送り、どれかの失敗が他を止めることはない。
// アクセストークンは配信1回につき1度だけ発行し、全トークンの送信で共有する。
package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/fanout/internal/channel"
	"github.com/nao1215/fanout/internal/directory"
	"github.com/nao1215/fanout/internal/intent"
	"github.com/nao1215/fanout/internal/oauth"
	"github.com/nao1215/fanout/pkg/logger"
)

// Options はDispatcherの依存関係。
type Options struct {
	// Resolver は配信先の解決に使う。必須。
	Resolver *directory.Resolver
	// Exchanger はアクセストークンの発行に使う。ServiceAccountと合わせてプッシュに必要。
	Exchanger *oauth.Exchanger
	// Push はFCMへの送信に使う。
	Push *channel.PushSender
	// ServiceAccount はFirebaseのサービスアカウントJSON。空ならプッシュは無効。
	ServiceAccount string
	// Email はメール送信手段。nilならメールは無効。
	Email channel.EmailSender
	// Senders はタイトル別の送信元アドレス。
	Senders channel.Senders
	// Metrics はnilなら未登録のメトリクスを使う。
	Metrics *Metrics
	// Logger はnilならログを出力しない。
	Logger *zap.Logger
}

// Dispatcher は通知を全経路に配信する。
type Dispatcher struct {
	resolver       *directory.Resolver
	exchanger      *oauth.Exchanger
	push           *channel.PushSender
	serviceAccount string
	email          channel.EmailSender
	senders        channel.Senders
	metrics        *Metrics
	log            *zap.Logger
}

// New は新しいDispatcherを生成する。
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		resolver:       opts.Resolver,
		exchanger:      opts.Exchanger,
		push:           opts.Push,
		serviceAccount: opts.ServiceAccount,
		email:          opts.Email,
		senders:        opts.Senders,
		metrics:        opts.Metrics,
		log:            opts.Logger,
	}
	if d.metrics == nil {
		d.metrics = NewMetrics(nil)
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	return d
}

// pushEnabled はプッシュ送信に必要な設定が揃っているかを返す。
func (d *Dispatcher) pushEnabled() bool {
	return strings.TrimSpace(d.serviceAccount) != "" && d.exchanger != nil && d.push != nil
}

// Dispatch は通知を配信し、送信ごとの結果を返す。
// 個々の送信の失敗は結果の中に記録され、エラーとしては返らない。
// 呼び出し元のctxがキャンセルされても、開始した送信は全て完了まで実行する。
// 各送信の上限はHTTPクライアントのタイムアウトで決まる。
func (d *Dispatcher) Dispatch(ctx context.Context, in intent.Intent) Result {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	log := logger.WithRequestID(ctx, d.log).With(zap.String("user_id", in.UserID))

	target := d.resolver.Resolve(ctx, in.UserID)
	from := channel.SelectSender(in.Title, d.senders)

	var (
		pushEntries []Entry
		emailEntry  []Entry
	)
	var g errgroup.Group
	if len(target.PushTokens) > 0 && d.pushEnabled() {
		g.Go(func() error {
			pushEntries = d.sendPush(ctx, log, in, target.PushTokens)
			return nil
		})
	} else if len(target.PushTokens) > 0 {
		log.Info("プッシュ送信が設定されていないためスキップします", zap.Int("tokens", len(target.PushTokens)))
	}
	if target.Email != "" && d.email != nil {
		g.Go(func() error {
			emailEntry = []Entry{d.sendEmail(ctx, log, in, target.Email, from)}
			return nil
		})
	}
	_ = g.Wait()

	result := append(Result{}, pushEntries...)
	result = append(result, emailEntry...)

	elapsed := time.Since(start)
	d.metrics.observeDuration(elapsed)
	log.Info("配信が完了しました",
		zap.Int("push", result.Count(ChannelPush)),
		zap.Int("email", result.Count(ChannelEmail)),
		zap.Duration("elapsed", elapsed),
	)
	return result
}

// sendPush はアクセストークンを1度だけ発行し、全トークンに並行して送信する。
// 認証情報の解析やトークン発行に失敗した場合はプッシュの結果を0件にする。
func (d *Dispatcher) sendPush(ctx context.Context, log *zap.Logger, in intent.Intent, tokens []string) []Entry {
	sa, err := oauth.ParseServiceAccount([]byte(d.serviceAccount))
	if err != nil {
		d.metrics.recordExchange("invalid_credential")
		log.Error("サービスアカウントの解析に失敗したためプッシュ送信をスキップします", zap.Error(err))
		return nil
	}

	access, err := d.exchanger.Mint(ctx, sa)
	if err != nil {
		d.metrics.recordExchange("error")
		log.Error("アクセストークンの取得に失敗したためプッシュ送信をスキップします", zap.Error(err))
		return nil
	}
	d.metrics.recordExchange("success")

	entries := make([]Entry, len(tokens))
	var g errgroup.Group
	for i, token := range tokens {
		g.Go(func() error {
			entries[i] = d.sendOnePush(ctx, log, access, token, in)
			return nil
		})
	}
	_ = g.Wait()
	return entries
}

func (d *Dispatcher) sendOnePush(ctx context.Context, log *zap.Logger, access *oauth.AccessToken, token string, in intent.Intent) Entry {
	entry := Entry{Channel: ChannelPush, Status: StatusSuccess, Token: token}

	res, err := d.push.Send(ctx, access, token, in)
	if res != nil {
		entry.Payload = res.Body
	}
	if err != nil {
		entry.Status = StatusError
		entry.Err = err
		log.Warn("プッシュ通知の送信に失敗しました", zap.String("token", redact(token)), zap.Error(err))
	} else {
		log.Info("プッシュ通知を送信しました", zap.String("token", redact(token)))
	}
	d.metrics.recordSend(ChannelPush, entry.Status)
	return entry
}

func (d *Dispatcher) sendEmail(ctx context.Context, log *zap.Logger, in intent.Intent, to, from string) Entry {
	entry := Entry{Channel: ChannelEmail, Status: StatusSuccess}

	id, err := d.email.Send(ctx, channel.EmailMessage{
		From:    from,
		To:      to,
		Subject: in.Title,
		HTML:    channel.RenderHTML(in.Title, in.Body),
	})
	if err != nil {
		entry.Status = StatusError
		entry.Err = err
		log.Warn("メールの送信に失敗しました", zap.String("from", from), zap.Error(err))
	} else {
		entry.Payload, _ = json.Marshal(map[string]string{"id": id})
		log.Info("メールを送信しました", zap.String("from", from), zap.String("email_id", id))
	}
	d.metrics.recordSend(ChannelEmail, entry.Status)
	return entry
}

// redact はログに出すトークンを先頭8文字に切り詰める。
func redact(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
