package channel

import "strings"

// Senders はタイトルに応じて使い分ける送信元アドレス。
type Senders struct {
	// Welcome はウェルカムメールの送信元。
	Welcome string
	// Alerts は管理者向けアラートの送信元。
	Alerts string
	// Default はその他すべての送信元。
	Default string
}

// alertKeywords はAlerts送信元を選ぶタイトルのキーワード。
var alertKeywords = []string{
	"new user signup",
	"new investment request",
	"utr submitted",
}

// SelectSender はタイトルから送信元アドレスを選ぶ。大文字小文字は区別しない。
// "welcome" を含めばWelcome、アラートのキーワードを含めばAlerts、それ以外はDefault。
func SelectSender(title string, s Senders) string {
	lower := strings.ToLower(title)
	if strings.Contains(lower, "welcome") {
		return s.Welcome
	}
	for _, kw := range alertKeywords {
		if strings.Contains(lower, kw) {
			return s.Alerts
		}
	}
	return s.Default
}
