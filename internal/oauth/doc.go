// Package oauth はサービスアカウントからFCM送信用のアクセストークンを発行する。
//
// サービスアカウントの秘密鍵でRS256のJWTアサーションを自己署名し、
// JWT Bearerグラントでトークンエンドポイントに交換を依頼する。
// 発行したトークンは呼び出し1回の間だけ使い、キャッシュしない。
package oauth
