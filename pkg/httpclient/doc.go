// Package httpclient は外部APIとのHTTP通信を行うクライアントを提供する。
//
// OAuthトークンエンドポイントへのフォーム送信、FCMやメール配信APIへのJSON送信、
// ディレクトリサービスへの問い合わせなど、外部通信のパターンを統一する。
// コンテキストにリクエストIDがあれば X-Request-ID ヘッダーとして伝播する。
package httpclient
