// Package notification は通知配信サービスのHTTPインターフェースを提供する。
//
// 直接呼び出しとデータベースWebhookの2形式の通知イベントを受け付け、
// プッシュとメールへの配信結果をJSON配列で返す。
package notification
