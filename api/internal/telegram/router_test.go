package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"card-ledger/api/internal/card"
	"card-ledger/api/internal/workflow"
)

type botFake struct {
	sent    []tgbotapi.MessageConfig
	fileURL string
	fileErr error
	fileIDs []string
}

func (b *botFake) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (b *botFake) GetFileDirectURL(fileID string) (string, error) {
	b.fileIDs = append(b.fileIDs, fileID)
	return b.fileURL, b.fileErr
}

func (b *botFake) last() tgbotapi.MessageConfig {
	if len(b.sent) == 0 {
		return tgbotapi.MessageConfig{}
	}
	return b.sent[len(b.sent)-1]
}

type flowFake struct {
	out  workflow.Outcome
	subs []workflow.Submission
}

func (f *flowFake) Submit(_ context.Context, sub workflow.Submission) workflow.Outcome {
	f.subs = append(f.subs, sub)
	out := f.out
	out.ID = uuid.New()
	return out
}

func photoServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newRouter(t *testing.T, out workflow.Outcome) (*Router, *botFake, *flowFake) {
	t.Helper()
	srv := photoServer(t, "jpeg-bytes")
	bot := &botFake{fileURL: srv.URL + "/file/photo.jpg"}
	flow := &flowFake{out: out}
	return &Router{Bot: bot, Flow: flow, HTTP: srv.Client()}, bot, flow
}

func message(text string) *tgbotapi.Message {
	return &tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: 42}, Text: text}
}

func command(cmd string) *tgbotapi.Message {
	m := message(cmd)
	m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	return m
}

func successOutcome() workflow.Outcome {
	return workflow.Outcome{
		Status:   workflow.StatusSuccess,
		Record:   card.Record{ChineseName: "王小明", Mobile: "0912345678"},
		FileName: "名片_王小明_20260309_140507.jpg",
		Link:     "https://drive.example/abc",
	}
}

func TestPhotoWithCaption(t *testing.T) {
	r, bot, flow := newRouter(t, successOutcome())

	m := message("")
	m.Caption = "展覽認識"
	m.Photo = []tgbotapi.PhotoSize{{FileID: "small", Width: 90}, {FileID: "large", Width: 1280}}
	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: m})

	if len(flow.subs) != 1 {
		t.Fatalf("expected one submission, got %d", len(flow.subs))
	}
	sub := flow.subs[0]
	if string(sub.Image) != "jpeg-bytes" || sub.Note != "展覽認識" || sub.Source != "telegram" {
		t.Fatalf("unexpected submission %+v", sub)
	}
	if bot.fileIDs[0] != "large" {
		t.Fatalf("expected largest photo, got %v", bot.fileIDs)
	}

	reply := bot.last()
	if !strings.Contains(reply.Text, "名片_王小明_20260309_140507.jpg") || !strings.Contains(reply.Text, "中文姓名：王小明") {
		t.Fatalf("unexpected reply %q", reply.Text)
	}
	if strings.Contains(reply.Text, "英文姓名") {
		t.Fatalf("empty fields should be skipped: %q", reply.Text)
	}
	kb, ok := reply.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || kb.InlineKeyboard[0][0].URL == nil || *kb.InlineKeyboard[0][0].URL != "https://drive.example/abc" {
		t.Fatalf("expected link button, got %#v", reply.ReplyMarkup)
	}
}

func TestTextBecomesNoteForNextPhoto(t *testing.T) {
	r, _, flow := newRouter(t, successOutcome())

	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: message("台北展覽")})
	m := message("")
	m.Document = &tgbotapi.Document{FileID: "doc", MimeType: "image/png"}
	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: m})

	if len(flow.subs) != 1 || flow.subs[0].Note != "台北展覽" {
		t.Fatalf("expected stored note to be used, got %+v", flow.subs)
	}

	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: m})
	if flow.subs[1].Note != "" {
		t.Fatalf("note should be used once, got %q", flow.subs[1].Note)
	}
}

func TestQuotaReply(t *testing.T) {
	r, bot, _ := newRouter(t, workflow.Outcome{Status: workflow.StatusQuotaExceeded, ErrorKind: "quota_exceeded"})

	m := message("")
	m.Photo = []tgbotapi.PhotoSize{{FileID: "p"}}
	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: m})

	reply := bot.last()
	if !strings.Contains(reply.Text, "429") || reply.ReplyMarkup != nil {
		t.Fatalf("unexpected quota reply %+v", reply)
	}
}

func TestNonImageDocumentIsIgnored(t *testing.T) {
	r, bot, flow := newRouter(t, successOutcome())

	m := message("")
	m.Document = &tgbotapi.Document{FileID: "doc", MimeType: "application/pdf"}
	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: m})

	if len(flow.subs) != 0 {
		t.Fatalf("pdf should not be submitted")
	}
	if bot.last().Text != helpText {
		t.Fatalf("expected help text, got %q", bot.last().Text)
	}
}

func TestCommands(t *testing.T) {
	r, bot, _ := newRouter(t, successOutcome())

	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: command("/start")})
	if bot.last().Text != helpText {
		t.Fatalf("unexpected /start reply %q", bot.last().Text)
	}

	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: command("/health")})
	if bot.last().Text != "✅ OK" {
		t.Fatalf("unexpected /health reply %q", bot.last().Text)
	}

	r.Health = func(context.Context) error { return errors.New("db down") }
	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: command("/health")})
	if !strings.Contains(bot.last().Text, "db down") {
		t.Fatalf("unexpected /health reply %q", bot.last().Text)
	}
}

func TestRateLimitedChat(t *testing.T) {
	r, bot, flow := newRouter(t, successOutcome())
	r.Limiter = NewChatLimiter(1, 1)

	m := message("")
	m.Photo = []tgbotapi.PhotoSize{{FileID: "p"}}
	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: m})
	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: m})

	if len(flow.subs) != 1 {
		t.Fatalf("expected second photo to be limited, got %d submissions", len(flow.subs))
	}
	if !strings.Contains(bot.last().Text, "太頻繁") {
		t.Fatalf("unexpected reply %q", bot.last().Text)
	}
}

func TestDownloadFailure(t *testing.T) {
	r, bot, flow := newRouter(t, successOutcome())
	r.Bot.(*botFake).fileErr = errors.New("file not found")

	m := message("")
	m.Photo = []tgbotapi.PhotoSize{{FileID: "p"}}
	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: m})

	if len(flow.subs) != 0 {
		t.Fatalf("nothing should be submitted")
	}
	if !strings.Contains(bot.last().Text, "無法取得照片") {
		t.Fatalf("unexpected reply %q", bot.last().Text)
	}
}

func TestDownloadLimit(t *testing.T) {
	srv := photoServer(t, strings.Repeat("a", 64))
	r := &Router{HTTP: srv.Client(), MaxBytes: 16}
	if _, err := r.download(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected size error")
	}
	r.MaxBytes = 64
	b, err := r.download(context.Background(), srv.URL)
	if err != nil || len(b) != 64 {
		t.Fatalf("download() = %d bytes, %v", len(b), err)
	}
}

func TestChatLimiter(t *testing.T) {
	l := NewChatLimiter(1, 1)
	if !l.Allow(1) || l.Allow(1) {
		t.Fatalf("expected one submission per chat")
	}
	if !l.Allow(2) {
		t.Fatalf("chats must be limited independently")
	}

	off := NewChatLimiter(0, 0)
	if off != nil || !off.Allow(1) {
		t.Fatalf("disabled limiter must allow everything")
	}
}

func TestChatLimiterEvictsIdleChats(t *testing.T) {
	l := NewChatLimiter(30, 3)
	now := time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for id := int64(1); id <= 100; id++ {
		l.Allow(id)
	}
	if l.size() != 100 {
		t.Fatalf("expected 100 limiters, got %d", l.size())
	}

	now = now.Add(limiterIdle)
	if !l.Allow(7) {
		t.Fatalf("idle chat should be allowed again")
	}
	if l.size() != 1 {
		t.Fatalf("idle limiters should be dropped, %d left", l.size())
	}
}

func TestStaleNoteIsDropped(t *testing.T) {
	r, _, flow := newRouter(t, successOutcome())
	now := time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)
	r.notes.now = func() time.Time { return now }

	for id := int64(1); id <= 50; id++ {
		m := message("備註")
		m.Chat.ID = id
		r.HandleUpdate(context.Background(), tgbotapi.Update{Message: m})
	}
	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: message("舊的備註")})

	now = now.Add(noteTTL)
	photo := message("")
	photo.Photo = []tgbotapi.PhotoSize{{FileID: "p", Width: 800}}
	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: photo})
	if len(flow.subs) != 1 || flow.subs[0].Note != "" {
		t.Fatalf("expired note should not be used, got %+v", flow.subs)
	}

	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: message("新的備註")})
	if r.notes.size() != 1 {
		t.Fatalf("expired notes should be swept, %d left", r.notes.size())
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	s := strings.Repeat("名", 10)
	got := truncate(s, 10)
	if got != strings.Repeat("名", 3) {
		t.Fatalf("unexpected truncation %q", got)
	}
}
