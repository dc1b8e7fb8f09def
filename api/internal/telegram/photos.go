package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"card-ledger/api/internal/workflow"
)

// imageFileID picks the largest photo size, or an image sent as a document.
func imageFileID(msg *tgbotapi.Message) (string, bool) {
	if n := len(msg.Photo); n > 0 {
		return msg.Photo[n-1].FileID, true
	}
	if d := msg.Document; d != nil {
		switch strings.ToLower(d.MimeType) {
		case "image/jpeg", "image/jpg", "image/png":
			return d.FileID, true
		}
	}
	return "", false
}

func (r *Router) acceptPhoto(ctx context.Context, msg *tgbotapi.Message, fileID string) {
	cid := msg.Chat.ID
	log := r.log().WithFields(logrus.Fields{"chat_id": cid, "message_id": msg.MessageID})

	if !r.Limiter.Allow(cid) {
		r.send(cid, "處理太頻繁，請稍候再傳送。")
		return
	}

	url, err := r.Bot.GetFileDirectURL(fileID)
	if err != nil {
		log.WithError(err).Warn("get file url failed")
		r.send(cid, "無法取得照片，請再傳送一次。")
		return
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	img, err := r.download(ctx, url)
	if err != nil {
		log.WithError(err).Warn("download photo failed")
		r.send(cid, "無法下載照片，請再傳送一次。")
		return
	}

	note := strings.TrimSpace(msg.Caption)
	if v, ok := r.notes.take(cid); ok && note == "" {
		note = v
	}

	r.send(cid, "AI 正在讀取名片...")
	out := r.Flow.Submit(ctx, workflow.Submission{Image: img, Note: note, Source: "telegram"})
	r.sendMsg(outcomeMessage(cid, out))
}

func (r *Router) download(ctx context.Context, url string) ([]byte, error) {
	client := r.HTTP
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	limit := r.MaxBytes
	if limit <= 0 {
		limit = 10 << 20
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("photo larger than %d bytes", limit)
	}
	return b, nil
}
