package handle

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"card-ledger/api/internal/store"
	"card-ledger/api/internal/workflow"
)

// Submitter is the single entry point every inbound adapter calls.
type Submitter interface {
	Submit(ctx context.Context, sub workflow.Submission) workflow.Outcome
}

// JournalReader lists recent submissions.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]store.Submission, error)
}

type Options struct {
	Timeout        time.Duration
	MaxUploadBytes int64
	// Journal is optional; without it /v1/submissions answers 404.
	Journal JournalReader
	// Ping reports backend health for /healthz. Optional.
	Ping func(ctx context.Context) error
	Log  *logrus.Entry
}

type Handle struct {
	flow     Submitter
	journal  JournalReader
	ping     func(ctx context.Context) error
	log      *logrus.Entry
	timeout  time.Duration
	maxBytes int64
}

func New(flow Submitter, opts Options) *Handle {
	if opts.Timeout <= 0 {
		opts.Timeout = 180 * time.Second
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.Log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		opts.Log = logrus.NewEntry(l)
	}
	return &Handle{
		flow:     flow,
		journal:  opts.Journal,
		ping:     opts.Ping,
		log:      opts.Log.WithField("component", "http"),
		timeout:  opts.Timeout,
		maxBytes: opts.MaxUploadBytes,
	}
}

func (h *Handle) submit(r *http.Request, sub workflow.Submission) workflow.Outcome {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	return h.flow.Submit(ctx, sub)
}

// StatusCode maps an outcome status to the HTTP response code.
func StatusCode(s workflow.Status) int {
	switch s {
	case workflow.StatusSuccess:
		return http.StatusOK
	case workflow.StatusNoImage:
		return http.StatusBadRequest
	case workflow.StatusQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func (h *Handle) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db: not ok\n" + err.Error()))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
