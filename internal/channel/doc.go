// Package channel は通知をプッシュとメールの各経路に送る。
//
// プッシュはFCM HTTP v1 APIに登録トークンごとに送信し、FCMの応答をそのまま結果として残す。
// メールはResendまたはSMTPで送信し、送信元アドレスはタイトルから選ぶ。
package channel
