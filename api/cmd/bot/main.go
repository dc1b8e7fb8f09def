package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"card-ledger/api/internal/app"
	"card-ledger/api/internal/config"
	"card-ledger/api/internal/httpserver"
	"card-ledger/api/internal/logging"
	"card-ledger/api/internal/metrics"
	"card-ledger/api/internal/telegram"
)

// workers bounds the number of updates handled at once.
const workers = 8

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logging.New("card-bot", cfg.LogLevel, cfg.LogFormat)
	if err := cfg.ValidateBot(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("bot stopped")
	}
}

func run(cfg *config.Config, log *logrus.Entry) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, metrics.New("card-bot"))
	if err != nil {
		return err
	}
	defer a.Close()

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return err
	}
	bot.Debug = false
	log.WithField("bot", bot.Self.UserName).Info("telegram bot authorized")

	r := &telegram.Router{
		Bot:      bot,
		Flow:     a.Flow,
		Limiter:  telegram.NewChatLimiter(cfg.RateLimit, 3),
		Log:      log.WithField("component", "telegram"),
		Timeout:  cfg.SubmitTimeout,
		MaxBytes: cfg.MaxUploadBytes(),
		Health:   a.Ping,
	}

	g, gctx := errgroup.WithContext(ctx)
	// updates already accepted finish after shutdown starts; handlers.Wait drains them
	hctx := context.WithoutCancel(gctx)
	handlers := new(errgroup.Group)
	handlers.SetLimit(workers)
	dispatch := func(upd tgbotapi.Update) {
		handlers.Go(func() error {
			r.HandleUpdate(hctx, upd)
			return nil
		})
	}

	mux := chi.NewRouter()
	if webhookURL := strings.TrimSpace(cfg.WebhookURL); webhookURL != "" {
		path, err := registerWebhook(bot, webhookURL)
		if err != nil {
			return err
		}
		mux.Post(path, webhookHandler(bot, dispatch, log))
		log.WithField("path", path).Info("webhook mode")
	} else {
		if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			log.WithError(err).Warn("delete webhook failed")
		}
		g.Go(func() error {
			runPolling(gctx, bot, dispatch, log)
			return nil
		})
		log.Info("polling mode")
	}
	mux.Mount("/", a.Handler())

	g.Go(func() error {
		return httpserver.Start(gctx, ":"+cfg.Port, mux, log)
	})
	g.Go(func() error {
		return a.PurgeCache(gctx, time.Hour)
	})

	err = g.Wait()
	_ = handlers.Wait()
	return err
}

func registerWebhook(bot *tgbotapi.BotAPI, baseURL string) (string, error) {
	path := "/webhook/" + shortHash(bot.Token)
	wh, err := tgbotapi.NewWebhook(strings.TrimRight(baseURL, "/") + path)
	if err != nil {
		return "", err
	}
	wh.DropPendingUpdates = true
	if _, err := bot.Request(wh); err != nil {
		return "", err
	}
	return path, nil
}

func webhookHandler(bot *tgbotapi.BotAPI, dispatch func(tgbotapi.Update), log *logrus.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		upd, err := bot.HandleUpdate(req)
		if err != nil {
			log.WithError(err).Warn("bad webhook update")
			http.Error(w, "bad update", http.StatusBadRequest)
			return
		}
		dispatch(*upd)
		w.WriteHeader(http.StatusOK)
	}
}
