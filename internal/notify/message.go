package notify

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const ParseMode = tgbotapi.ModeMarkdownV2

// FormatMessage renders the alert as MarkdownV2 with every user-controlled
// value escaped.
func FormatMessage(n Notification) string {
	var b strings.Builder
	b.WriteString("🚨 *Auth Attempt*\n\n")
	b.WriteString("👤 *User:* `" + escape(n.Username) + "`\n")
	b.WriteString("🌐 *IP:* `" + escape(n.Address) + "`\n")
	b.WriteString("🛠 *Service:* `" + escape(n.Service) + "`\n")
	if n.Command != nil {
		b.WriteString("📝 *Command:* `" + escape(*n.Command) + "`\n")
	}
	b.WriteString("🔑 *Verification Code:* `" + escape(n.Code) + "`")
	return b.String()
}

func escape(value string) string {
	return tgbotapi.EscapeText(ParseMode, strings.ReplaceAll(value, `\`, `\\`))
}
