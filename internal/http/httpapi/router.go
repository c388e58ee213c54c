package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"visdom/internal/http/handlers"
	"visdom/internal/middleware"
)

// Options configures the router beyond the handlers themselves.
type Options struct {
	Logger          zerolog.Logger
	AllowedOrigins  []string
	RateLimitPerMin int
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
	Gatherer        prometheus.Gatherer
	VideoDir        string
	VideoBaseURL    string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/stats/renders", app.RenderStats)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
		r.Post("/animate", app.Animate)
		r.Post("/animate/stream", app.AnimateStream)
		r.Get("/animate/ws", app.AnimateWS)
		r.Post("/devtools/run_manim", app.RunManim)
	})

	if opts.VideoDir != "" {
		base := "/" + strings.Trim(opts.VideoBaseURL, "/")
		if base == "/" {
			base = "/videos"
		}
		files := http.StripPrefix(base+"/", http.FileServer(http.Dir(opts.VideoDir)))
		r.Handle(base+"/*", files)
	}

	return r
}
