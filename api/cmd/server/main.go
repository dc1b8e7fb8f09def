package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"card-ledger/api/internal/app"
	"card-ledger/api/internal/config"
	"card-ledger/api/internal/httpserver"
	"card-ledger/api/internal/logging"
	"card-ledger/api/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logging.New("card-server", cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(cfg *config.Config, log *logrus.Entry) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, metrics.New("card-server"))
	if err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Start(gctx, ":"+cfg.Port, a.Handler(), log)
	})
	g.Go(func() error {
		return a.PurgeCache(gctx, time.Hour)
	})
	return g.Wait()
}
