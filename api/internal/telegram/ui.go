package telegram

import (
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"card-ledger/api/internal/ledger"
	"card-ledger/api/internal/workflow"
)

const maxMessageLen = 3900

// outcomeMessage renders the reply: the outcome text, then the extracted
// fields, with a link button when the photo was archived.
func outcomeMessage(chatID int64, out workflow.Outcome) tgbotapi.MessageConfig {
	var b strings.Builder
	b.WriteString(out.Message())
	if out.Status == workflow.StatusSuccess || out.Status == workflow.StatusWriteFailed {
		b.WriteString("\n")
		for i, v := range out.Record.Values() {
			if v == "" {
				continue
			}
			b.WriteString("\n")
			b.WriteString(ledger.Header[1+i])
			b.WriteString("：")
			b.WriteString(v)
		}
	}

	text := b.String()
	if len(text) > maxMessageLen {
		text = truncate(text, maxMessageLen) + "…"
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if strings.HasPrefix(out.Link, "http") {
		msg.ReplyMarkup = linkKeyboard(out.Link)
	}
	return msg
}

func linkKeyboard(link string) tgbotapi.InlineKeyboardMarkup {
	btn := tgbotapi.NewInlineKeyboardButtonURL(ledger.LinkLabel, link)
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(btn))
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
