// Package workflow runs one card submission through extraction, archiving and
// the ledger write, and reduces every failure to an Outcome.
package workflow

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"card-ledger/api/internal/archive"
	"card-ledger/api/internal/card"
	"card-ledger/api/internal/extract"
	"card-ledger/api/internal/ledger"
	"card-ledger/api/internal/store"
)

// Submission is one user action: a photo (nil when none was given) and a note.
type Submission struct {
	Image  []byte
	Note   string
	Source string
}

// State names the steps of a submission. They only appear in logs.
type State string

const (
	StateAwaitingImage    State = "awaiting_image"
	StateExtracting       State = "extracting"
	StateQuotaExceeded    State = "quota_exceeded"
	StateExtractionFailed State = "extraction_failed"
	StateExtracted        State = "extracted"
	StateArchiving        State = "archiving"
	StateArchiveFailed    State = "archive_failed"
	StateArchived         State = "archived"
	StateWriting          State = "writing"
	StateWriteFailed      State = "write_failed"
	StateWriteSucceeded   State = "write_succeeded"
	StateDone             State = "done"
)

// Writer appends a ledger row. link is "" when the photo was not archived.
type Writer interface {
	Write(ctx context.Context, rec card.Record, note, link string) (ledger.Row, error)
}

// Journal records every finished submission.
type Journal interface {
	Insert(ctx context.Context, s *store.Submission) error
}

type Observer interface {
	ObserveSubmission(status, source string)
	ObserveStage(stage string, d time.Duration)
	ObserveArchiveFailure()
}

type Config struct {
	Extractor extract.Extractor
	// Archiver is optional. Without it no photo is kept and rows have no link.
	Archiver archive.Archiver
	Ledger   Writer
	// Prefix starts archived file names. Defaults to archive.DefaultPrefix.
	Prefix string
	Now    func() time.Time
	Log    *logrus.Entry

	Metrics Observer
	Journal Journal
}

type Orchestrator struct {
	extractor extract.Extractor
	archiver  archive.Archiver
	ledger    Writer
	prefix    string
	now       func() time.Time
	log       *logrus.Entry
	metrics   Observer
	journal   Journal
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Extractor == nil {
		return nil, errors.New("workflow: extractor is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("workflow: ledger is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = archive.DefaultPrefix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		cfg.Log = logrus.NewEntry(l)
	}
	return &Orchestrator{
		extractor: cfg.Extractor,
		archiver:  cfg.Archiver,
		ledger:    cfg.Ledger,
		prefix:    cfg.Prefix,
		now:       cfg.Now,
		log:       cfg.Log.WithField("component", "workflow"),
		metrics:   cfg.Metrics,
		journal:   cfg.Journal,
	}, nil
}

// Archiving reports whether photos are archived.
func (o *Orchestrator) Archiving() bool { return o.archiver != nil }

// Submit processes sub. It never panics on a failed dependency and always
// returns a terminal Outcome.
func (o *Orchestrator) Submit(ctx context.Context, sub Submission) Outcome {
	out := Outcome{ID: uuid.New()}
	log := o.log.WithFields(logrus.Fields{
		"submission_id": out.ID.String(),
		"source":        sub.Source,
	})
	defer o.finish(ctx, sub, &out, log)

	if len(sub.Image) == 0 {
		out.Status = StatusNoImage
		transition(log, StateAwaitingImage, StateDone)
		return out
	}

	transition(log, StateAwaitingImage, StateExtracting)
	start := time.Now()
	rec, err := o.extractor.Extract(ctx, sub.Image)
	o.observeStage("extract", start)
	if err != nil {
		out.Err = err
		out.ErrorKind = string(extract.KindOf(err))
		if errors.Is(err, extract.ErrQuotaExceeded) {
			out.Status = StatusQuotaExceeded
			transition(log.WithError(err), StateExtracting, StateQuotaExceeded)
		} else {
			out.Status = StatusExtractionFailed
			transition(log.WithError(err), StateExtracting, StateExtractionFailed)
		}
		return out
	}
	out.Record = rec
	transition(log, StateExtracting, StateExtracted)

	from := StateExtracted
	if o.archiver != nil {
		from = o.archive(ctx, sub, &out, log)
	}

	transition(log, from, StateWriting)
	start = time.Now()
	row, err := o.ledger.Write(ctx, rec, sub.Note, out.Link)
	o.observeStage("ledger", start)
	if err != nil {
		out.Status = StatusWriteFailed
		out.Err = err
		out.ErrorKind = KindLedger
		l := log.WithError(err)
		if out.Link != "" {
			l = l.WithField("orphaned_link", out.Link)
		}
		transition(l, StateWriting, StateWriteFailed)
		return out
	}
	out.Row = row
	out.Status = StatusSuccess
	transition(log, StateWriting, StateWriteSucceeded)
	return out
}

func (o *Orchestrator) archive(ctx context.Context, sub Submission, out *Outcome, log *logrus.Entry) State {
	transition(log, StateExtracted, StateArchiving)
	out.FileName = archive.FileName(o.prefix, out.Record.ChineseName, o.now())

	start := time.Now()
	ref, err := o.archiver.Upload(ctx, out.FileName, sub.Image)
	o.observeStage("archive", start)
	if err != nil {
		out.ArchiveErr = err
		if o.metrics != nil {
			o.metrics.ObserveArchiveFailure()
		}
		transition(log.WithError(err).WithField("file_name", out.FileName), StateArchiving, StateArchiveFailed)
		return StateArchiveFailed
	}
	out.Link = ref.Link
	transition(log.WithField("file_name", out.FileName), StateArchiving, StateArchived)
	return StateArchived
}

func (o *Orchestrator) finish(ctx context.Context, sub Submission, out *Outcome, log *logrus.Entry) {
	final := log.WithFields(logrus.Fields{
		"status":     string(out.Status),
		"error_kind": out.ErrorKind,
	})
	switch out.Status {
	case StatusSuccess, StatusNoImage:
		final.Info("submission finished")
	default:
		final.Warn("submission finished")
	}

	if o.metrics != nil {
		o.metrics.ObserveSubmission(string(out.Status), sub.Source)
	}
	if o.journal == nil {
		return
	}

	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	entry := &store.Submission{
		ID:        out.ID,
		CreatedAt: o.now().UTC(),
		Source:    sub.Source,
		Status:    string(out.Status),
		ErrorKind: out.ErrorKind,
		FileName:  out.FileName,
		Link:      out.Link,
		Note:      sub.Note,
	}
	if len(sub.Image) > 0 {
		entry.ImageHash = extract.ImageHash(sub.Image)
	}
	if len(out.Row) > 0 {
		entry.RowIndex, _ = strconv.Atoi(out.Row[0].Value)
	}
	if err := o.journal.Insert(jctx, entry); err != nil {
		log.WithError(err).Warn("journal insert failed")
	}
}

func (o *Orchestrator) observeStage(stage string, start time.Time) {
	if o.metrics != nil {
		o.metrics.ObserveStage(stage, time.Since(start))
	}
}

func transition(log *logrus.Entry, from, to State) {
	l := log.WithFields(logrus.Fields{"from": string(from), "to": string(to)})
	switch to {
	case StateQuotaExceeded, StateExtractionFailed, StateArchiveFailed, StateWriteFailed:
		l.Warn("state transition")
	default:
		l.Debug("state transition")
	}
}
