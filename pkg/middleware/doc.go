// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// SupabaseのJWT検証、リクエストIDの払い出し、zapによるアクセスログ、
// パニックリカバリ、CORS設定を含む。
package middleware
