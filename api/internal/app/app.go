// Package app builds the card workflow and its HTTP surface from Config. The
// server and the Telegram bot share it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"card-ledger/api/internal/archive"
	"card-ledger/api/internal/archive/drive"
	"card-ledger/api/internal/archive/localfs"
	"card-ledger/api/internal/config"
	"card-ledger/api/internal/extract"
	"card-ledger/api/internal/extract/gemini"
	"card-ledger/api/internal/googleauth"
	"card-ledger/api/internal/handle"
	"card-ledger/api/internal/ledger"
	"card-ledger/api/internal/ledger/sheets"
	"card-ledger/api/internal/ledger/xlsx"
	"card-ledger/api/internal/metrics"
	"card-ledger/api/internal/store"
	"card-ledger/api/internal/workflow"
)

type App struct {
	Config  *config.Config
	Log     *logrus.Entry
	Metrics *metrics.Metrics
	Flow    *workflow.Orchestrator

	// DB, Cards and Journal are nil without DATABASE_URL.
	DB      *sql.DB
	Cards   *store.CardRepo
	Journal *store.SubmissionRepo

	// ArchiveDir is set for the localfs archive so the server can expose it.
	ArchiveDir string
}

// New connects every configured backend. cfg must already be validated.
func New(ctx context.Context, cfg *config.Config, log *logrus.Entry, m *metrics.Metrics) (*App, error) {
	a := &App{Config: cfg, Log: log, Metrics: m}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	opts, err := a.googleOptions(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.DatabaseURL != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.DB = db
		if err := store.EnsureSchema(ctx, db); err != nil {
			return nil, err
		}
		a.Cards = store.NewCardRepo(db, cfg.ExtractCacheTTL)
		a.Journal = store.NewSubmissionRepo(db)
		log.WithField("db", store.SafeDSN(cfg.DatabaseURL)).Info("database connected")
	}

	archiver, err := a.archiver(ctx, opts)
	if err != nil {
		return nil, err
	}
	backend, err := a.ledgerBackend(ctx, opts)
	if err != nil {
		return nil, err
	}
	book := ledger.New(backend, ledger.Options{
		LinkColumn: archiver != nil,
		Header:     cfg.LedgerHeader,
		Mode:       ledger.UserEntered,
	})

	ex, err := a.extractor()
	if err != nil {
		return nil, err
	}
	wcfg := workflow.Config{
		Extractor: ex,
		Archiver:  archiver,
		Ledger:    book,
		Prefix:    cfg.ArchivePrefix,
		Log:       log,
	}
	if m != nil {
		wcfg.Metrics = m
	}
	if a.Journal != nil {
		wcfg.Journal = a.Journal
	}
	a.Flow, err = workflow.New(wcfg)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"ledger":  cfg.LedgerBackend,
		"archive": cfg.ArchiveBackend,
		"model":   cfg.GeminiModel,
		"cache":   a.Cards != nil,
	}).Info("workflow ready")
	ok = true
	return a, nil
}

func (a *App) googleOptions(ctx context.Context) ([]option.ClientOption, error) {
	cfg := a.Config
	if !cfg.UsesGoogle() {
		return nil, nil
	}
	var scopes []string
	if cfg.LedgerBackend == config.LedgerSheets {
		scopes = append(scopes, sheets.Scope)
	}
	if cfg.ArchiveBackend == config.ArchiveDrive {
		scopes = append(scopes, drive.Scope)
	}
	return googleauth.ClientOptions(ctx, cfg.GoogleCredentialsJSON, cfg.GoogleCredentialsFile, scopes...)
}

// extractor stacks the cache (when there is a database) over the quota
// breaker over the Gemini engine. Cache hits never reach the breaker.
func (a *App) extractor() (extract.Extractor, error) {
	cfg := a.Config
	engine := gemini.New(cfg.GeminiAPIKey, cfg.GeminiModel)
	if cfg.GeminiPromptFile != "" {
		s, err := gemini.LoadInstruction(cfg.GeminiPromptFile)
		if err != nil {
			return nil, err
		}
		engine.Instruction = s
	}

	var ex extract.Extractor = extract.NewBreaker(engine, extract.BreakerConfig{OpenTimeout: cfg.BreakerOpenTimeout}, a.Log)
	if a.Cards == nil {
		return ex, nil
	}
	cached := extract.NewCached(ex, a.Cards, cfg.GeminiModel, a.Log)
	if a.Metrics != nil {
		cached.OnLookup(a.Metrics.ObserveCacheLookup)
	}
	return cached, nil
}

func (a *App) archiver(ctx context.Context, opts []option.ClientOption) (archive.Archiver, error) {
	cfg := a.Config
	switch cfg.ArchiveBackend {
	case config.ArchiveDrive:
		return drive.New(ctx, cfg.DriveFolderID, opts...)
	case config.ArchiveLocalFS:
		st, err := localfs.New(cfg.ArchiveDir, cfg.ArchiveBaseURL)
		if err != nil {
			return nil, err
		}
		a.ArchiveDir = st.Dir()
		return st, nil
	case config.ArchiveNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.ArchiveBackend)
	}
}

func (a *App) ledgerBackend(ctx context.Context, opts []option.ClientOption) (ledger.Backend, error) {
	cfg := a.Config
	switch cfg.LedgerBackend {
	case config.LedgerSheets:
		return sheets.New(ctx, cfg.SheetURL, cfg.SheetName, opts...)
	case config.LedgerXLSX:
		return xlsx.New(cfg.LedgerXLSXPath, cfg.SheetName)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}

// Ping checks the database when there is one.
func (a *App) Ping(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	return a.DB.PingContext(ctx)
}

// Handler is the HTTP API and upload page.
func (a *App) Handler() http.Handler {
	cfg := a.Config
	opts := handle.Options{
		Timeout:        cfg.SubmitTimeout,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Ping:           a.Ping,
		Log:            a.Log,
	}
	if a.Journal != nil {
		opts.Journal = a.Journal
	}
	ropts := handle.RouterOptions{
		RateLimit:   cfg.RateLimit,
		CORSOrigins: cfg.CORSOrigins,
		JWTSecret:   cfg.JWTSecret,
		ArchiveDir:  a.ArchiveDir,
	}
	if a.Metrics != nil {
		ropts.Metrics = a.Metrics.Handler()
	}
	return handle.NewRouter(handle.New(a.Flow, opts), ropts)
}

// PurgeCache drops extraction cache entries older than the cache TTL every
// interval until ctx is done.
func (a *App) PurgeCache(ctx context.Context, interval time.Duration) error {
	if a.Cards == nil || a.Config.ExtractCacheTTL <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := a.Cards.PurgeOlderThan(ctx, a.Config.ExtractCacheTTL)
			if err != nil {
				a.Log.WithError(err).Warn("extraction cache purge failed")
				continue
			}
			if n > 0 {
				a.Log.WithField("removed", n).Info("extraction cache purged")
			}
		}
	}
}

func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
