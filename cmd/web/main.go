package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"finitefield.org/chapel-web/internal/cms"
	"finitefield.org/chapel-web/internal/config"
	"finitefield.org/chapel-web/internal/events"
	"finitefield.org/chapel-web/internal/fragments"
	handlersPkg "finitefield.org/chapel-web/internal/handlers"
	"finitefield.org/chapel-web/internal/i18n"
	mw "finitefield.org/chapel-web/internal/middleware"
	"finitefield.org/chapel-web/internal/observability"
	"finitefield.org/chapel-web/internal/origin"
	"finitefield.org/chapel-web/internal/pagemeta"
	"finitefield.org/chapel-web/internal/render"
)

const assetMaxAge = 7 * 24 * time.Hour

// app bundles everything the router needs.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	sessions *mw.Sessions
	store    *i18n.Store
	handlers *handlersPkg.Handlers
	loader   *fragments.Loader
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init app", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Server.Port),
		Handler:           newRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()
	logger.Info("web listening",
		zap.String("addr", srv.Addr),
		zap.String("env", cfg.Env),
		zap.Bool("dev", cfg.Dev),
		zap.Strings("languages", a.store.Languages().Codes()),
	)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		cancel()
		stop()
		os.Exit(1)
	}
}

// newApp builds the render pipeline for cfg. Fragment loading starts in the
// background; the default dictionary is loaded eagerly.
func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	var site origin.Origin = origin.NewDir(cfg.Site.Dir)
	if cfg.Site.OriginURL != "" {
		site = origin.NewHTTP(cfg.Site.OriginURL)
	}

	langs, err := i18n.NewLanguages(cfg.I18n.DefaultLanguage, cfg.I18n.Languages...)
	if err != nil {
		return nil, err
	}
	store := i18n.NewStore(site, langs, i18n.WithLogger(logger.Named("i18n")))
	if err := store.Preload(ctx); err != nil {
		logger.Warn("default dictionary unavailable; rendering keys until it loads", zap.Error(err))
	}

	loader := fragments.NewLoader(site,
		fragments.WithRetryDelay(cfg.Site.FragmentRetryDelay),
		fragments.WithLogger(logger.Named("fragments")),
	)
	loader.Start(ctx)

	meta := pagemeta.NewResolver(site,
		pagemeta.WithLinkMode(cfg.Site.LinkMode),
		pagemeta.WithLogger(logger.Named("pagemeta")),
	)
	content := cms.NewClient(origin.NewDir(cfg.Site.ContentDir), langs.Default(),
		cms.WithCacheTTL(cfg.Site.ContentCacheTTL),
		cms.WithLogger(logger.Named("cms")),
	)
	renderer := render.New(site, store, loader, meta,
		render.WithContent(content),
		render.WithDevMode(cfg.Dev),
		render.WithLogger(logger.Named("render")),
	)

	bus := events.NewBus(logger.Named("events"))
	bus.Subscribe(events.LogHandler(logger.Named("language")))

	return &app{
		cfg:      cfg,
		logger:   logger,
		sessions: mw.NewSessions(cfg.Session.SigningKey, cfg.Production()),
		store:    store,
		handlers: handlersPkg.New(renderer, store, bus, mw.AssetsWithCache(site, assetMaxAge)),
		loader:   loader,
	}, nil
}

func newRouter(a *app) http.Handler {
	h := a.handlers
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	// If deployed behind a trusted reverse proxy/load balancer, RealIP will use
	// X-Forwarded-For to determine the client IP.
	r.Use(middleware.RealIP)
	r.Use(observability.InjectLogger(a.logger))
	r.Use(observability.TraceMiddleware)
	r.Use(mw.Logger(a.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(mw.HTMX)
	r.Use(a.sessions.Middleware)
	r.Use(mw.Locale(a.store.Languages()))
	r.Use(mw.CSRF(a.sessions.Secure()))
	r.Use(mw.VaryLocale)

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/languages", h.Languages)
		r.Get("/translations", h.Translations)
		r.Post("/language", h.SetLanguage)
	})

	r.Get("/*", h.Page)
	r.Head("/*", h.Page)
	r.NotFound(h.NotFound)
	return r
}
