package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"visdom/internal/adapter/repo"
	"visdom/internal/domain"
	"visdom/internal/http/handlers"
	httpapi "visdom/internal/http/httpapi"
	"visdom/internal/infra"
	"visdom/internal/infra/credentials"
	"visdom/internal/infra/geoip"
	"visdom/internal/infra/telemetry"
	"visdom/internal/pipeline"
	"visdom/internal/prompt"
	"visdom/internal/providers/codegen"
	"visdom/internal/render"
	"visdom/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  cfg.ServiceName,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init telemetry")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to flush traces")
		}
	}()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	var (
		analytics domain.AnalyticsRepository = repo.NoopAnalytics{}
		store                                = credentials.NewStore(nil)
	)
	if dbpool != nil {
		defer dbpool.Close()
		runner := infra.NewSQLRunner(dbpool, logger)
		analytics = repo.NewAnalyticsRepository(runner)
		store = credentials.NewStore(runner)
	} else {
		logger.Warn().Msg("DATABASE_URL not set; analytics and stored credentials disabled")
	}

	generator := newGenerator(ctx, cfg, store, logger)

	scripts, err := storage.NewScriptStore(cfg.WorkDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare work dir")
	}
	locator, err := render.NewManimLocator(cfg.PublicVideoDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare video dir")
	}
	executor := render.NewExecutor(cfg.RendererCommand, logger)
	metrics := pipeline.MustNewMetrics(prometheus.DefaultRegisterer)

	base := pipeline.Options{
		Prompts:       prompt.NewBuilder(cfg.RenderScene),
		Scripts:       scripts,
		Renderer:      executor,
		Locator:       locator,
		Guard:         render.NewGuard(),
		Analytics:     analytics,
		Metrics:       metrics,
		Tracer:        telemetry.Tracer(),
		Logger:        logger,
		Scene:         cfg.RenderScene,
		Quality:       cfg.RenderQuality,
		MediaDir:      cfg.MediaDir,
		RenderTimeout: cfg.RenderTimeout,
		DevTimeout:    cfg.DevRenderTimeout,
		PublicBaseURL: cfg.PublicVideoBaseURL,
	}

	llmOpts := base
	llmOpts.Generator = generator
	llm, err := pipeline.New(llmOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build pipeline")
	}
	templateOpts := base
	templateOpts.Generator = codegen.NewTemplateGenerator(cfg.RenderScene)
	templated, err := pipeline.New(templateOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build template pipeline")
	}

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip lookup disabled")
	}
	defer resolver.Close()

	app := handlers.NewApp(handlers.Options{
		Pipeline:         llm,
		TemplatePipeline: templated,
		Dev:              llm,
		Analytics:        analytics,
		Logger:           logger,
		AllowedOrigins:   cfg.CORSAllowedOrigins,
	})
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   "en",
		CountryLookup:   resolver.Lookup(),
		Gatherer:        prometheus.DefaultGatherer,
		VideoDir:        locator.PublicDir(),
		VideoBaseURL:    cfg.PublicVideoBaseURL,
	})

	server := infra.NewHTTPServer(cfg, router)
	logger.Info().
		Str("addr", server.Addr()).
		Str("generator", generator.Name()).
		Strs("renderer", cfg.RendererCommand).
		Msg("API listening")
	if err := server.Run(ctx); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("http server failed")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}

// newGenerator builds the configured LLM generator, falling back to the
// template generator when no API key is available.
func newGenerator(ctx context.Context, cfg *infra.Config, store *credentials.Store, logger zerolog.Logger) codegen.Generator {
	provider := cfg.CodegenProvider
	explicit := cfg.OpenAIAPIKey
	if provider == credentials.ProviderGemini {
		explicit = cfg.GeminiAPIKey
	}
	if provider != "template" {
		key, err := store.Resolve(ctx, provider, explicit)
		if err != nil {
			logger.Warn().Err(err).Str("provider", provider).Msg("failed to load stored api key")
		}
		if key == "" {
			logger.Warn().Str("provider", provider).Msg("no api key configured; using template generator")
			provider = "template"
		}
		explicit = key
	}

	httpClient := &http.Client{Timeout: cfg.CodegenTimeout}
	gen, err := codegen.New(codegen.Options{
		Provider: provider,
		Scene:    cfg.RenderScene,
		OpenAI: codegen.OpenAIOptions{
			APIKey:     explicit,
			Model:      cfg.OpenAIModel,
			BaseURL:    cfg.OpenAIBaseURL,
			HTTPClient: httpClient,
			OnWarning: func(reason, detail string) {
				logger.Warn().Str("reason", reason).Str("detail", detail).Msg("openai model warning")
			},
		},
		Gemini: codegen.GeminiOptions{
			APIKey:     explicit,
			Model:      cfg.GeminiModel,
			BaseURL:    cfg.GeminiBaseURL,
			HTTPClient: httpClient,
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build code generator")
	}
	return gen
}
