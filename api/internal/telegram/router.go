package telegram

import (
	"context"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"card-ledger/api/internal/workflow"
)

// Bot is the part of tgbotapi.BotAPI the router uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Submitter interface {
	Submit(ctx context.Context, sub workflow.Submission) workflow.Outcome
}

type Router struct {
	Bot     Bot
	Flow    Submitter
	Limiter *ChatLimiter
	Log     *logrus.Entry
	// Timeout bounds one submission. Defaults to 180s.
	Timeout time.Duration
	// MaxBytes caps downloaded photos. Defaults to 10 MiB.
	MaxBytes int64
	HTTP     *http.Client
	// Health backs the /health command. Optional.
	Health func(ctx context.Context) error

	notes noteBook
}

func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	cid := msg.Chat.ID

	if msg.IsCommand() {
		r.HandleCommand(ctx, msg)
		return
	}

	if fileID, ok := imageFileID(msg); ok {
		r.acceptPhoto(ctx, msg, fileID)
		return
	}

	if text := strings.TrimSpace(msg.Text); text != "" {
		r.notes.put(cid, text)
		r.send(cid, "已記下備註，請傳送名片照片。")
		return
	}
	r.send(cid, helpText)
}

const helpText = "請傳送名片照片（可在說明欄輸入備註），我會辨識內容並寫入試算表。\n" +
	"也可以先傳一段文字當作下一張名片的備註。\n指令：/health"

func (r *Router) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	switch msg.Command() {
	case "start", "help":
		r.send(cid, helpText)
	case "health":
		if r.Health != nil {
			hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := r.Health(hctx); err != nil {
				r.send(cid, "⚠️ 服務異常: "+err.Error())
				return
			}
		}
		r.send(cid, "✅ OK")
	default:
		r.send(cid, "未知的指令")
	}
}

func (r *Router) log() *logrus.Entry {
	if r.Log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		r.Log = logrus.NewEntry(l)
	}
	return r.Log
}

func (r *Router) send(chatID int64, text string) {
	r.sendMsg(tgbotapi.NewMessage(chatID, text))
}

func (r *Router) sendMsg(msg tgbotapi.MessageConfig) {
	if _, err := r.Bot.Send(msg); err != nil {
		r.log().WithError(err).WithField("chat_id", msg.ChatID).Warn("telegram send failed")
	}
}
