package handle

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-chi/jwtauth"

	"card-ledger/api/internal/logging"
)

type RouterOptions struct {
	// RateLimit is the number of submissions per IP per minute. Zero disables it.
	RateLimit   int
	CORSOrigins []string
	// JWTSecret protects the /v1 API with HS256 bearer tokens when set.
	JWTSecret string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// ArchiveDir is served under /archive/ when set.
	ArchiveDir string
}

func NewRouter(h *Handle, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.AccessLog(h.log))
	r.Use(middleware.Recoverer)

	limit := func(next http.Handler) http.Handler { return next }
	if opts.RateLimit > 0 {
		limit = httprate.LimitByIP(opts.RateLimit, time.Minute)
	}

	r.Get("/healthz", h.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	var auth *jwtauth.JWTAuth
	if opts.JWTSecret != "" {
		auth = jwtauth.New("HS256", []byte(opts.JWTSecret), nil)
	}
	requireToken := func(r chi.Router) {
		if auth != nil {
			r.Use(jwtauth.Verifier(auth))
			r.Use(jwtauth.Authenticator)
		}
	}

	if opts.ArchiveDir != "" {
		r.Group(func(r chi.Router) {
			requireToken(r)
			r.Get("/archive/*", archiveFiles(opts.ArchiveDir))
		})
	}

	r.Get("/", h.Page)
	r.With(limit).Post("/", h.PageSubmit)

	r.Route("/v1", func(r chi.Router) {
		if len(opts.CORSOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: opts.CORSOrigins,
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
				MaxAge:         300,
			}))
		}
		requireToken(r)
		r.With(limit).Post("/cards", h.SubmitCard)
		r.Get("/submissions", h.RecentSubmissions)
	})

	return r
}

// archiveFiles serves single archived photos. Directory listings are not
// served.
func archiveFiles(dir string) http.HandlerFunc {
	fs := http.StripPrefix("/archive/", http.FileServer(http.Dir(dir)))
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	}
}
